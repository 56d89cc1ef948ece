package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Detector DetectorConfig `yaml:"detector"`
	Upload   UploadConfig   `yaml:"upload"`
	Overlay  OverlayConfig  `yaml:"overlay"`
	Download DownloadConfig `yaml:"download"`
	Log      LogConfig      `yaml:"log"`
}

// ServiceConfig locates the remote BlurAI service
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DetectorConfig selects where detections come from
type DetectorConfig struct {
	Backend       string        `yaml:"backend"` // service, ollama or llamacpp
	URL           string        `yaml:"url"`
	Model         string        `yaml:"model"`
	SendSize      int           `yaml:"send_size"`
	SendQuality   int           `yaml:"send_quality"`
	MinConfidence float64       `yaml:"min_confidence"`
	Timeout       time.Duration `yaml:"timeout"`
}

// UploadConfig holds the checks applied before an image is submitted
type UploadConfig struct {
	Extensions   []string `yaml:"extensions"`
	MinImageSize int      `yaml:"min_image_size"`
	MaxBytes     int64    `yaml:"max_bytes"`

	// MinConfidence drops detections scoring at or below it; 0 keeps everything
	MinConfidence float64 `yaml:"min_confidence"`
}

// OverlayConfig describes the preview viewport
type OverlayConfig struct {
	ViewWidth  int    `yaml:"view_width"`
	ViewHeight int    `yaml:"view_height"`
	Format     string `yaml:"format"`
	Quality    int    `yaml:"quality"`
}

// DownloadConfig controls where fetched images are saved
type DownloadConfig struct {
	OutputDir string `yaml:"output_dir"`
	Prefix    string `yaml:"prefix"`
	Format    string `yaml:"format"` // empty keeps the server bytes
	Quality   int    `yaml:"quality"`
	Lossless  bool   `yaml:"lossless"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	BackendService  = "service"
	BackendOllama   = "ollama"
	BackendLlamaCPP = "llamacpp"
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Detector: DetectorConfig{
			Backend:       BackendService,
			Model:         "openbmb/minicpm-v4.5",
			SendSize:      1536,
			SendQuality:   85,
			MinConfidence: 0.25,
			Timeout:       5 * time.Minute,
		},
		Upload: UploadConfig{
			Extensions:   []string{"jpg", "jpeg", "png"},
			MinImageSize:  1,
			MaxBytes:      20 << 20,
			MinConfidence: 0.5,
		},
		Overlay: OverlayConfig{
			ViewWidth:  1280,
			ViewHeight: 720,
			Format:     "png",
			Quality:    92,
		},
		Download: DownloadConfig{
			OutputDir: "./output",
			Prefix:    "blur-ai-",
			Quality:   90,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the file keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// ApplyEnv loads a .env file when present and applies BLURAI_* overrides
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrap(err, "failed to load .env")
	}

	c.Service.BaseURL = getEnv("BLURAI_SERVICE_URL", c.Service.BaseURL)
	c.Detector.Backend = getEnv("BLURAI_BACKEND", c.Detector.Backend)
	c.Detector.URL = getEnv("BLURAI_DETECTOR_URL", c.Detector.URL)
	c.Detector.Model = getEnv("BLURAI_MODEL", c.Detector.Model)
	c.Download.OutputDir = getEnv("BLURAI_OUTPUT_DIR", c.Download.OutputDir)
	c.Log.Level = getEnv("BLURAI_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("BLURAI_LOG_FILE", c.Log.File)

	if v, ok := os.LookupEnv("BLURAI_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "BLURAI_TIMEOUT %q", v)
		}
		c.Service.Timeout = d
	}
	if v, ok := os.LookupEnv("BLURAI_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "BLURAI_MAX_BYTES %q", v)
		}
		c.Upload.MaxBytes = n
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return errors.New("service.base_url cannot be empty")
	}
	if !strings.HasPrefix(c.Service.BaseURL, "http://") && !strings.HasPrefix(c.Service.BaseURL, "https://") {
		return errors.Errorf("service.base_url must be an http(s) URL, got %q", c.Service.BaseURL)
	}

	switch c.Detector.Backend {
	case BackendService:
	case BackendOllama, BackendLlamaCPP:
		if c.Detector.Model == "" {
			return errors.New("detector.model cannot be empty")
		}
	default:
		return errors.Errorf("detector.backend must be service, ollama or llamacpp, got %q", c.Detector.Backend)
	}

	if c.Detector.SendQuality < 1 || c.Detector.SendQuality > 100 {
		return errors.New("detector.send_quality must be between 1 and 100")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return errors.New("detector.min_confidence must be between 0 and 1")
	}

	if c.Upload.MinImageSize < 1 {
		return errors.New("upload.min_image_size must be positive")
	}
	if c.Upload.MaxBytes < 1 {
		return errors.New("upload.max_bytes must be positive")
	}
	if c.Upload.MinConfidence < 0 || c.Upload.MinConfidence >= 1 {
		return errors.New("upload.min_confidence must be in [0, 1)")
	}
	if len(c.Upload.Extensions) == 0 {
		return errors.New("upload.extensions cannot be empty")
	}

	if c.Overlay.ViewWidth < 0 || c.Overlay.ViewHeight < 0 {
		return errors.New("overlay viewport cannot be negative")
	}
	if err := checkFormat("overlay.format", c.Overlay.Format, false); err != nil {
		return err
	}

	if c.Download.OutputDir == "" {
		return errors.New("download.output_dir cannot be empty")
	}
	if err := checkFormat("download.format", c.Download.Format, true); err != nil {
		return err
	}
	if c.Download.Quality < 1 || c.Download.Quality > 100 {
		return errors.New("download.quality must be between 1 and 100")
	}

	return nil
}

func checkFormat(key, format string, allowEmpty bool) error {
	switch strings.ToLower(format) {
	case "jpg", "jpeg", "png", "webp":
		return nil
	case "":
		if allowEmpty {
			return nil
		}
	}
	return errors.Errorf("%s must be jpg, png or webp, got %q", key, format)
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "blurai", "config.yaml")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}
