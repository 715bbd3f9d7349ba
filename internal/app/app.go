// Package app wires configuration into a ready-to-use scanner.
package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	bookshelf "github.com/menta2k/bookshelf-analyzer"
	"github.com/menta2k/bookshelf-analyzer/internal/config"
	"github.com/menta2k/bookshelf-analyzer/internal/utils"
	"github.com/menta2k/bookshelf-analyzer/pkg/client"
	"github.com/menta2k/bookshelf-analyzer/pkg/identify"
	"github.com/menta2k/bookshelf-analyzer/pkg/llamacpp"
	"github.com/menta2k/bookshelf-analyzer/pkg/ollama"
	"github.com/menta2k/bookshelf-analyzer/pkg/processing"
	"github.com/menta2k/bookshelf-analyzer/pkg/roboflow"
	"github.com/menta2k/bookshelf-analyzer/pkg/stats"
)

// SetupLogging configures the global zerolog logger
func SetupLogging(cfg config.LogConfig, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// NewVisionClient creates the configured vision model backend
func NewVisionClient(cfg config.IdentifierConfig) (client.VisionClient, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", cfg.Backend)
	}
}

// NewScanner builds a Scanner from configuration. agg may be nil.
func NewScanner(cfg *config.Config, agg *stats.Aggregator) (*bookshelf.Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	processor := processing.NewProcessorWithMinSize(cfg.Processing.MinImageSize)

	detector, err := roboflow.NewClient(cfg.Detector.URL, cfg.Detector.APIKey, cfg.Detector.ModelID, roboflow.Options{
		Confidence: cfg.Detector.Confidence,
		MaxDim:     cfg.Detector.MaxDim,
		Timeout:    time.Duration(cfg.Detector.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	vision, err := NewVisionClient(cfg.Identifier)
	if err != nil {
		return nil, err
	}

	identifier := identify.New(vision, processor, identify.Options{
		Model:       cfg.Identifier.Model,
		Format:      cfg.Identifier.Format,
		MaxDim:      cfg.Identifier.MaxDim,
		Quality:     cfg.Identifier.Quality,
		Temperature: client.Temperature(cfg.Identifier.Temperature),
		MaxTokens:   cfg.Identifier.MaxTokens,
	})

	var debug *processing.DebugWriter
	if cfg.Debug.SaveImages {
		debug = processing.NewDebugWriter(processor, cfg.Debug.OutputDir, cfg.Debug.Format, cfg.Debug.Quality, cfg.Debug.Lossless)
		log.Info().Str("dir", cfg.Debug.OutputDir).Msg("saving debug images")
	}

	return bookshelf.NewWithConfig(detector, identifier, bookshelf.Config{
		BatchSize:       cfg.Processing.BatchSize,
		DisableRotation: !cfg.Processing.Rotate,
		Processor:       processor,
		Stats:           agg,
		Debug:           debug,
	}), nil
}

// LoadConfig reads path when it is set, otherwise the per-user config file
// if one exists, otherwise starts from defaults. Environment overrides are
// applied last.
func LoadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
