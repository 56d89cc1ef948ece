package blurai

import (
	"testing"
	"time"

	"github.com/menta2k/blurai/internal/config"
	"github.com/menta2k/blurai/internal/logging"
	"github.com/menta2k/blurai/pkg/detection"
	"github.com/menta2k/blurai/pkg/service"
)

func TestNewDetector(t *testing.T) {
	svc, err := service.NewClient("http://localhost:8000", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		backend string
		stored  bool
		wantErr bool
	}{
		{backend: "", stored: false},
		{backend: config.BackendService, stored: false},
		{backend: config.BackendOllama, stored: true},
		{backend: config.BackendLlamaCPP, stored: true},
		{backend: "tensorflow", wantErr: true},
	}
	for _, tt := range tests {
		t.Run("backend="+tt.backend, func(t *testing.T) {
			cfg := config.Default().Detector
			cfg.Backend = tt.backend

			d, err := NewDetector(cfg, svc, logging.Discard())
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for backend %q", tt.backend)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDetector() error = %v", err)
			}

			stored, ok := d.(*detection.Stored)
			if ok != tt.stored {
				t.Fatalf("NewDetector() = %T, stored = %v", d, tt.stored)
			}
			if !ok {
				if d != svc {
					t.Errorf("service backend should detect with the service client, got %T", d)
				}
				return
			}
			if stored.Store != svc {
				t.Error("vision backends must still store the image on the service")
			}
		})
	}
}

func TestNewDetectorBadURL(t *testing.T) {
	svc, _ := service.NewClient("http://localhost:8000", time.Second)
	for _, backend := range []string{config.BackendOllama, config.BackendLlamaCPP} {
		cfg := config.Default().Detector
		cfg.Backend = backend
		cfg.URL = "no-host"
		if _, err := NewDetector(cfg, svc, logging.Discard()); err == nil {
			t.Errorf("%s: Expected error for URL without host", backend)
		}
	}
}
