// Command imagecached runs an image cache controller
// and exposes it over an HTTP admin interface.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/djdv/go-imagecache"
	"github.com/djdv/go-imagecache/config"
	"github.com/djdv/go-imagecache/fetch"
	"github.com/djdv/go-imagecache/internal/logging"
	"github.com/djdv/go-imagecache/loop"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", os.Getenv("IMAGECACHE_CONFIG"),
		"path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log, err := config.NewLogger(cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build logger")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("imagecached failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	runtime := loop.New()
	controller, err := imagecache.New(runtime, cfg.Controller(),
		imagecache.WithLogger(log),
		imagecache.WithFetcher(fetch.NewHTTP(runtime, fetch.WithLogger(log))),
	)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := runtime.Run(ctx); !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("runtime stopped")
		}
	}()

	app := newApp(&server{
		runtime:    runtime,
		controller: controller,
		log:        logging.Component(log, "server"),
	})
	listenErr := make(chan error, 1)
	go func() { listenErr <- app.Listen(cfg.Address()) }()
	log.WithFields(logrus.Fields{
		"address": cfg.Address(),
		"ram":     cfg.Cache.RAM,
		"video":   cfg.Cache.Video,
		"units":   cfg.Cache.Units,
	}).Info("imagecached starting")

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return app.Shutdown()
	}
}
