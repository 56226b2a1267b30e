// Package camera provides the capture session lifecycle for sizecam.
// A session wraps a single capture device; requested dimensions are hints
// and the actual frame size is always read back from the open device.
package camera

// Config holds capture configuration. Width, height and framerate are
// requests to the driver, not guarantees.
type Config struct {
	Width     int `json:"width"`     // Requested frame width in pixels
	Height    int `json:"height"`    // Requested frame height in pixels
	Framerate int `json:"framerate"` // Requested FPS (0 = driver default)
	Quality   int `json:"quality"`   // JPEG quality 1-100 for encoded frames
}

// DefaultConfig returns the recommended 720p configuration.
func DefaultConfig() Config {
	return Config{
		Width:     1280,
		Height:    720,
		Framerate: 30,
		Quality:   85,
	}
}

// HD1080Config returns 1080p Full HD configuration.
func HD1080Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1920
	cfg.Height = 1080
	return cfg
}

// LegacyConfig returns the 640x480 configuration for constrained devices.
func LegacyConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	return cfg
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Width < 160 || c.Width > 4096 {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > 2160 {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 0 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 0 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}
