// sizecam - point a camera at an object and get an approximate
// real-world size overlay.
//
// The service opens a local capture device, runs a YOLOv8 detector on
// frames under the configured scheduling policy, and serves the live
// overlay plus measurement state over HTTP and websockets.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sizecam/sizecam/internal/config"
	"github.com/sizecam/sizecam/internal/log"
	"github.com/sizecam/sizecam/pkg/detect"
	"github.com/sizecam/sizecam/pkg/measure"
	"github.com/sizecam/sizecam/pkg/overlay"
	"github.com/sizecam/sizecam/pkg/pipeline"
	"github.com/sizecam/sizecam/pkg/web"
)

func main() {
	config.LoadDotEnv()
	log.Init(config.LogLevel())

	policy, err := pipeline.ParsePolicy(config.Policy())
	if err != nil {
		log.Error("invalid SIZECAM_POLICY", "error", err)
		os.Exit(1)
	}

	cfg := pipeline.DefaultConfig()
	cfg.Device = config.DeviceID()
	cfg.Scheduler.Policy = policy
	cfg.Scheduler.Interval = config.Interval()
	cfg.Scheduler.Scale = config.ScaleConstant(measure.DefaultScaleConstant)

	modelPath := config.ModelPath()
	loader := detect.NewLoader(func() (detect.Detector, error) {
		ycfg := detect.DefaultYOLOConfig()
		ycfg.ModelPath = modelPath
		return detect.NewYOLO(ycfg)
	})

	renderer := overlay.NewRenderer()
	renderer.JPEGQuality = cfg.Camera.Quality

	ctrl := pipeline.NewController(cfg, loader, renderer)
	defer ctrl.Close()

	srv := web.NewServer(config.Port(), ctrl)

	ctrl.LoadDetector()
	srv.StartAsync()

	log.Info("sizecam running",
		"policy", policy.String(),
		"device", cfg.Device,
		"port", config.Port(),
		"model", modelPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	srv.Shutdown()
}
