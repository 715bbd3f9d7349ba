package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/bookshelf-analyzer/internal/utils"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Detector   DetectorConfig   `json:"detector" yaml:"detector"`
	Identifier IdentifierConfig `json:"identifier" yaml:"identifier"`
	Processing ProcessingConfig `json:"processing" yaml:"processing"`
	Debug      DebugConfig      `json:"debug" yaml:"debug"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins"`
	CORSMethods     []string `json:"cors_methods" yaml:"cors_methods"`
	CORSHeaders     []string `json:"cors_headers" yaml:"cors_headers"`
	// CORSCredentials allows cookies and auth headers cross-origin. Combined
	// with a "*" origin every requesting origin is echoed back.
	CORSCredentials bool     `json:"cors_credentials" yaml:"cors_credentials"`
	MaxBodyMB       int      `json:"max_body_mb" yaml:"max_body_mb"`
	ShutdownSeconds int      `json:"shutdown_seconds" yaml:"shutdown_seconds"`
}

// DetectorConfig holds configuration for the Roboflow detector
type DetectorConfig struct {
	URL            string  `json:"url" yaml:"url"`
	APIKey         string  `json:"api_key" yaml:"api_key"`
	ModelID        string  `json:"model_id" yaml:"model_id"`
	Confidence     float64 `json:"confidence" yaml:"confidence"`
	MaxDim         int     `json:"max_dim" yaml:"max_dim"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// IdentifierConfig holds configuration for the vision model backend
type IdentifierConfig struct {
	Backend        string  `json:"backend" yaml:"backend"`
	URL            string  `json:"url" yaml:"url"`
	Model          string  `json:"model" yaml:"model"`
	Temperature    float64 `json:"temperature" yaml:"temperature"`
	MaxTokens      int     `json:"max_tokens" yaml:"max_tokens"`
	Format         string  `json:"format" yaml:"format"`
	MaxDim         int     `json:"max_dim" yaml:"max_dim"`
	Quality        int     `json:"quality" yaml:"quality"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ProcessingConfig holds configuration for the pipeline itself
type ProcessingConfig struct {
	BatchSize    int  `json:"batch_size" yaml:"batch_size"`
	MinImageSize int  `json:"min_image_size" yaml:"min_image_size"`
	Rotate       bool `json:"rotate" yaml:"rotate"`
}

// DebugConfig holds configuration for debug output
type DebugConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	SaveImages bool   `json:"save_images" yaml:"save_images"`
	OutputDir  string `json:"output_dir" yaml:"output_dir"`
	Format     string `json:"format" yaml:"format"`
	Quality    int    `json:"quality" yaml:"quality"`
	Lossless   bool   `json:"lossless" yaml:"lossless"`
}

// LogConfig holds configuration for logging
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// Supported identifier backends
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"*"},
			CORSMethods:     []string{"*"},
			CORSHeaders:     []string{"*"},
			CORSCredentials: true,
			MaxBodyMB:       32,
			ShutdownSeconds: 10,
		},
		Detector: DetectorConfig{
			URL:            "https://detect.roboflow.com",
			ModelID:        "the-ultimate-bookshelf-fqvoz/3",
			Confidence:     0.4,
			MaxDim:         2048,
			TimeoutSeconds: 60,
		},
		Identifier: IdentifierConfig{
			Backend:        BackendOllama,
			URL:            "http://localhost:11434",
			Model:          "qwen2.5vl:7b",
			Temperature:    0.2,
			MaxTokens:      2000,
			Format:         "jpg",
			MaxDim:         1024,
			Quality:        90,
			TimeoutSeconds: 300,
		},
		Processing: ProcessingConfig{
			BatchSize:    5,
			MinImageSize: 1,
			Rotate:       true,
		},
		Debug: DebugConfig{
			Enabled:    false,
			SaveImages: false,
			OutputDir:  "./debug",
			Format:     "jpg",
			Quality:    90,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON file.
// Fields missing from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as YAML or JSON depending on the extension
func (c *Config) SaveToFile(filename string) error {
	if err := utils.EnsureDir(filepath.Dir(filename)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides configuration values from environment variables
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.EqualFold(strings.TrimSpace(v), "true") || v == "1"
		}
	}

	setString("ROBOFLOW_API_KEY", &c.Detector.APIKey)
	setString("ROBOFLOW_API_URL", &c.Detector.URL)
	setString("ROBOFLOW_MODEL_ID", &c.Detector.ModelID)
	setString("VISION_BACKEND", &c.Identifier.Backend)
	setString("VISION_URL", &c.Identifier.URL)
	setString("VISION_MODEL", &c.Identifier.Model)
	setString("DEBUG_OUTPUT_DIR", &c.Debug.OutputDir)
	setString("HOST", &c.Server.Host)
	setString("LOG_LEVEL", &c.Log.Level)
	setBool("DEBUG", &c.Debug.Enabled)
	setBool("SAVE_DEBUG_IMAGES", &c.Debug.SaveImages)
	setBool("CORS_ALLOW_CREDENTIALS", &c.Server.CORSCredentials)

	if err := setInt("BATCH_SIZE", &c.Processing.BatchSize); err != nil {
		return err
	}
	if err := setInt("PORT", &c.Server.Port); err != nil {
		return err
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Processing.BatchSize < 1 {
		return fmt.Errorf("processing.batch_size must be at least 1")
	}

	if c.Processing.MinImageSize < 1 {
		return fmt.Errorf("processing.min_image_size must be positive")
	}

	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		return fmt.Errorf("detector.confidence must be between 0 and 1")
	}

	switch c.Identifier.Backend {
	case BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("identifier.backend must be %q or %q", BackendOllama, BackendLlamaCpp)
	}

	if c.Identifier.Temperature < 0 || c.Identifier.Temperature > 2 {
		return fmt.Errorf("identifier.temperature must be between 0 and 2")
	}

	if c.Identifier.Quality < 1 || c.Identifier.Quality > 100 {
		return fmt.Errorf("identifier.quality must be between 1 and 100")
	}

	if !oneOf(c.Identifier.Format, "jpg", "jpeg", "png") {
		return fmt.Errorf("identifier.format must be jpg or png")
	}

	if c.Debug.Quality < 1 || c.Debug.Quality > 100 {
		return fmt.Errorf("debug.quality must be between 1 and 100")
	}

	if !oneOf(c.Debug.Format, "jpg", "jpeg", "png", "webp") {
		return fmt.Errorf("debug.format must be jpg, png or webp")
	}

	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}

	return nil
}

// Addr returns the host:port the server listens on
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "bookshelf-analyzer", "config.yaml")
}

func isYAML(filename string) bool {
	ext := utils.GetFileExtension(filename)
	return ext == "yaml" || ext == "yml"
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(v)
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
