// Package config manages application configuration from environment variables and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "BLOGMD_"

const minDiagramTimeout = time.Second

// Config holds runtime configuration for the blog server and exporter.
type Config struct {
	RootDir            string
	StaticOutput       string
	AssetsDir          string
	SiteTitle          string
	BaseURL            string
	MermaidCLI         string
	MermaidTheme       string
	Port               int
	DiagramTimeout     time.Duration
	DiagramConcurrency int
	EnableD2           bool
	IncludeDrafts      bool
	Verbose            bool
}

// Default returns ready-to-use defaults prior to env/flag overrides.
func Default() Config {
	return Config{
		RootDir:            "posts",
		Port:               8080,
		StaticOutput:       "dist",
		AssetsDir:          "static",
		SiteTitle:          "blogmd",
		MermaidCLI:         "mmdc",
		MermaidTheme:       "dark",
		DiagramTimeout:     15 * time.Second,
		DiagramConcurrency: 4,
		EnableD2:           true,
	}
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "directory containing markdown posts")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server (0 = auto-assign)")
	fs.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "default output directory for static export")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory overriding the embedded frontend assets")
	fs.StringVar(&cfg.SiteTitle, "title", cfg.SiteTitle, "site title shown in page headers")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "public base URL used for absolute links in exports")
	fs.StringVar(&cfg.MermaidCLI, "mermaid-cli", cfg.MermaidCLI, "path to the mermaid CLI (mmdc)")
	fs.StringVar(&cfg.MermaidTheme, "mermaid-theme", cfg.MermaidTheme, "mermaid theme (default, dark, forest, neutral)")
	fs.BoolVar(&cfg.EnableD2, "d2", cfg.EnableD2, "render language-d2 blocks with the embedded D2 engine")
	fs.DurationVar(&cfg.DiagramTimeout, "diagram-timeout", cfg.DiagramTimeout, "per-diagram render timeout")
	fs.IntVar(&cfg.DiagramConcurrency, "diagram-concurrency", cfg.DiagramConcurrency, "diagrams rendered concurrently per post")
	fs.BoolVar(&cfg.IncludeDrafts, "drafts", cfg.IncludeDrafts, "include posts marked draft: true")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests)")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.RootDir = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyStringEnv("OUT", func(v string) { cfg.StaticOutput = v })
	applyStringEnv("ASSETS", func(v string) { cfg.AssetsDir = v })
	applyStringEnv("TITLE", func(v string) { cfg.SiteTitle = v })
	applyStringEnv("BASE_URL", func(v string) { cfg.BaseURL = v })
	applyStringEnv("MERMAID_CLI", func(v string) { cfg.MermaidCLI = v })
	applyStringEnv("MERMAID_THEME", func(v string) { cfg.MermaidTheme = v })
	applyBoolEnv("D2", func(v bool) { cfg.EnableD2 = v })
	applyDurationEnv("DIAGRAM_TIMEOUT", func(v time.Duration) { cfg.DiagramTimeout = v })
	applyIntEnv("DIAGRAM_CONCURRENCY", func(v int) { cfg.DiagramConcurrency = v })
	applyBoolEnv("DRAFTS", func(v bool) { cfg.IncludeDrafts = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func applyDurationEnv(key string, apply func(time.Duration)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := time.ParseDuration(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// Finalize validates and normalizes paths and limits.
func Finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root directory: %w", err)
	}
	cfg.RootDir = root

	// Allow port 0 for dynamic allocation, otherwise validate range
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.StaticOutput == "" {
		cfg.StaticOutput = "dist"
	}

	if cfg.AssetsDir != "" {
		assets, err := filepath.Abs(cfg.AssetsDir)
		if err != nil {
			return fmt.Errorf("resolve assets directory: %w", err)
		}
		cfg.AssetsDir = assets
	}

	if strings.TrimSpace(cfg.SiteTitle) == "" {
		cfg.SiteTitle = "blogmd"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	if cfg.MermaidCLI == "" {
		cfg.MermaidCLI = "mmdc"
	}
	if cfg.DiagramTimeout < minDiagramTimeout {
		cfg.DiagramTimeout = minDiagramTimeout
	}
	if cfg.DiagramConcurrency <= 0 {
		cfg.DiagramConcurrency = 1
	}

	return nil
}
