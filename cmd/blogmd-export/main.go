// Package main provides the blogmd static site export CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/blogmd/internal/buildinfo"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/exporter"
	"github.com/euforicio/blogmd/internal/pipeline"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("blogmd-export", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	includeHidden := flags.Bool("hidden", false, "include hidden files when scanning the posts root")
	clean := flags.Bool("clean", true, "wipe the output directory before exporting")
	post := flags.String("post", "", "export a single post (relative markdown path) to stdout instead of the whole site")
	format := flags.String("format", "html", "format for --post: html, markdown, txt or pdf")

	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	// Single-post exports write to stdout, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting blogmd-export", slog.String("version", buildinfo.Summary()))

	job := exportJob{
		post:          *post,
		format:        *format,
		includeHidden: *includeHidden,
		clean:         *clean,
	}
	if flags.Changed("assets") {
		job.assets = cfg.AssetsDir
	}
	if err := run(cfg, logger, job); err != nil {
		logger.Error("export failed", slog.Any("err", err))
		os.Exit(1)
	}
}

type exportJob struct {
	post          string
	format        string
	assets        string
	includeHidden bool
	clean         bool
}

func run(cfg config.Config, logger *slog.Logger, job exportJob) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack := pipeline.New(cfg, logger, nil)
	defer func() { _ = stack.Close() }()

	exp, err := exporter.New(logger, stack.Renderer, stack.Classifier)
	if err != nil {
		return fmt.Errorf("init exporter: %w", err)
	}

	if job.post != "" {
		return exportPost(ctx, exp, cfg.RootDir, job.post, job.format)
	}

	res, err := exp.Export(ctx, exporter.Options{
		Root:          cfg.RootDir,
		OutputDir:     cfg.StaticOutput,
		AssetsDir:     job.assets,
		SiteTitle:     cfg.SiteTitle,
		BaseURL:       cfg.BaseURL,
		IncludeHidden: job.includeHidden,
		IncludeDrafts: cfg.IncludeDrafts,
		CleanOutput:   job.clean,
	})
	if err != nil {
		return err
	}

	logger.Info("export succeeded",
		slog.String("output", res.OutputDir),
		slog.Int("posts", res.Posts),
		slog.Int("tags", res.Tags),
		slog.Int("media", res.Assets))
	return nil
}

func exportPost(ctx context.Context, exp *exporter.Exporter, root, path, rawFormat string) error {
	format, err := exporter.ParseFormat(rawFormat)
	if err != nil {
		return err
	}
	if err := exp.ExportPost(ctx, exporter.ExportPostOptions{
		RootDir: root,
		Path:    path,
		Format:  format,
		Writer:  os.Stdout,
	}); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}
