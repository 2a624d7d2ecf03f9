// Package main provides the blogmd server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/euforicio/blogmd/internal/buildinfo"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/content"
	"github.com/euforicio/blogmd/internal/pipeline"
	"github.com/euforicio/blogmd/internal/search"
	"github.com/euforicio/blogmd/internal/server"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("blogmd", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		return
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger = logger.With("app", "blogmd")
	slog.SetDefault(logger)
	logger.Info("starting blogmd", slog.String("version", buildinfo.Summary()), slog.String("root", cfg.RootDir))

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stack := pipeline.New(cfg, logger, registry)
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("close diagram engines", slog.Any("err", err))
		}
	}()

	contentSvc, err := content.NewService(ctx, cfg.RootDir, stack.Renderer, logger, content.Options{
		IncludeDrafts: cfg.IncludeDrafts,
		Watch:         true,
	})
	if err != nil {
		return fmt.Errorf("content service init: %w", err)
	}
	defer func() {
		if err := contentSvc.Close(); err != nil {
			logger.Error("close content service", slog.Any("err", err))
		}
	}()

	searchSvc, err := search.NewService(cfg.RootDir, logger)
	if err != nil {
		logger.Warn("search disabled", slog.Any("err", err))
		searchSvc = nil
	}

	srv, err := server.New(cfg, logger, contentSvc, server.Options{
		Renderer:   stack.Renderer,
		Classifier: stack.Classifier,
		Registry:   registry,
		Search:     searchSvc,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
