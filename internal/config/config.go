// Package config provides configuration helpers for sizecam commands.
// Values come from environment variables, optionally seeded from a .env
// file in the working directory.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the sizecam service.
const (
	DefaultPort       = "8077"
	DefaultDeviceID   = 0
	DefaultModelPath  = "models/yolov8n.onnx"
	DefaultPolicy     = "interval"
	DefaultInterval   = 500 * time.Millisecond
	DefaultLogLevel   = "info"
)

// LoadDotEnv loads a .env file if present. Missing files are not an error;
// real environments set variables directly.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Port returns the HTTP listen port from SIZECAM_PORT.
func Port() string {
	if p := os.Getenv("SIZECAM_PORT"); p != "" {
		return p
	}
	return DefaultPort
}

// DeviceID returns the capture device index from SIZECAM_DEVICE.
func DeviceID() int {
	if d := os.Getenv("SIZECAM_DEVICE"); d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			return n
		}
	}
	return DefaultDeviceID
}

// ModelPath returns the ONNX model path from SIZECAM_MODEL.
func ModelPath() string {
	if m := os.Getenv("SIZECAM_MODEL"); m != "" {
		return m
	}
	return DefaultModelPath
}

// Policy returns the scheduling policy name from SIZECAM_POLICY.
// Valid values: "interval", "continuous", "single-shot".
func Policy() string {
	if p := os.Getenv("SIZECAM_POLICY"); p != "" {
		return p
	}
	return DefaultPolicy
}

// Interval returns the fixed-interval cycle period from SIZECAM_INTERVAL_MS.
func Interval() time.Duration {
	if v := os.Getenv("SIZECAM_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return DefaultInterval
}

// LogLevel returns the log level from SIZECAM_LOG_LEVEL.
func LogLevel() string {
	if l := os.Getenv("SIZECAM_LOG_LEVEL"); l != "" {
		return l
	}
	return DefaultLogLevel
}

// ScaleConstant returns the pixel-to-meter scale constant from
// SIZECAM_SCALE, falling back to the built-in heuristic default when unset
// or invalid.
func ScaleConstant(fallback float64) float64 {
	if v := os.Getenv("SIZECAM_SCALE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}
