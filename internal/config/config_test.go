package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty url", func(c *Config) { c.Service.BaseURL = "" }},
		{"bad scheme", func(c *Config) { c.Service.BaseURL = "ftp://host" }},
		{"unknown backend", func(c *Config) { c.Detector.Backend = "yolo" }},
		{"vision without model", func(c *Config) { c.Detector.Backend = BackendOllama; c.Detector.Model = "" }},
		{"send quality", func(c *Config) { c.Detector.SendQuality = 0 }},
		{"confidence", func(c *Config) { c.Detector.MinConfidence = 2 }},
		{"min size", func(c *Config) { c.Upload.MinImageSize = 0 }},
		{"max bytes", func(c *Config) { c.Upload.MaxBytes = 0 }},
		{"extensions", func(c *Config) { c.Upload.Extensions = nil }},
		{"min confidence", func(c *Config) { c.Upload.MinConfidence = 1 }},
		{"overlay format", func(c *Config) { c.Overlay.Format = "gif" }},
		{"download format", func(c *Config) { c.Download.Format = "bmp" }},
		{"output dir", func(c *Config) { c.Download.OutputDir = "" }},
		{"download quality", func(c *Config) { c.Download.Quality = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	c := Default()
	c.Service.BaseURL = "https://blur.example.com"
	c.Service.Timeout = 15 * time.Second
	c.Download.Format = "webp"
	if err := c.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Service.BaseURL != c.Service.BaseURL || loaded.Service.Timeout != c.Service.Timeout {
		t.Errorf("service not round-tripped: %+v", loaded.Service)
	}
	if loaded.Download.Format != "webp" {
		t.Errorf("Download.Format = %q", loaded.Download.Format)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "service:\n  base_url: http://10.0.0.5:8000\n  timeout: 5s\ndetector:\n  backend: ollama\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if c.Service.Timeout != 5*time.Second || c.Detector.Backend != BackendOllama {
		t.Errorf("unexpected values %+v", c)
	}
	if c.Download.Prefix != "blur-ai-" || c.Upload.MaxBytes != 20<<20 {
		t.Error("missing keys should keep defaults")
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("service: [unclosed"), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("BLURAI_MODEL=llava:13b\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BLURAI_SERVICE_URL", "http://blur:9000")
	t.Setenv("BLURAI_TIMEOUT", "3s")
	t.Setenv("BLURAI_MAX_BYTES", "1024")
	t.Cleanup(func() { os.Unsetenv("BLURAI_MODEL") })

	c := Default()
	if err := c.ApplyEnv(envFile); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if c.Service.BaseURL != "http://blur:9000" || c.Service.Timeout != 3*time.Second {
		t.Errorf("unexpected service %+v", c.Service)
	}
	if c.Upload.MaxBytes != 1024 {
		t.Errorf("MaxBytes = %d", c.Upload.MaxBytes)
	}
	if c.Detector.Model != "llava:13b" {
		t.Errorf("Model = %q, want value from .env", c.Detector.Model)
	}
}

func TestApplyEnvMissingFile(t *testing.T) {
	c := Default()
	if err := c.ApplyEnv(filepath.Join(t.TempDir(), "none.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestApplyEnvBadDuration(t *testing.T) {
	t.Setenv("BLURAI_TIMEOUT", "soon")
	if err := Default().ApplyEnv(filepath.Join(t.TempDir(), "none.env")); err == nil {
		t.Error("Expected error for bad duration")
	}
}

func TestGetConfigPath(t *testing.T) {
	if filepath.Base(GetConfigPath()) != "config.yaml" {
		t.Errorf("unexpected path %s", GetConfigPath())
	}
}
