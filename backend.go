package blurai

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai/internal/config"
	"github.com/menta2k/blurai/pkg/client"
	"github.com/menta2k/blurai/pkg/detection"
	"github.com/menta2k/blurai/pkg/llamacpp"
	"github.com/menta2k/blurai/pkg/ollama"
	"github.com/menta2k/blurai/pkg/service"
)

// NewDetector builds the detector selected by cfg.Backend. Vision backends still store
// the image on svc so that effects can be applied to it.
func NewDetector(cfg config.DetectorConfig, svc *service.Client, log logrus.FieldLogger) (client.Detector, error) {
	var vc client.VisionClient
	var err error

	switch cfg.Backend {
	case "", config.BackendService:
		return svc, nil
	case config.BackendOllama:
		url := cfg.URL
		if url == "" {
			url = ollama.DefaultURL
		}
		vc, err = ollama.NewClient(url, &http.Client{Timeout: cfg.Timeout})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Ollama client")
		}
	case config.BackendLlamaCPP:
		url := cfg.URL
		if url == "" {
			url = llamacpp.DefaultURL
		}
		vc, err = llamacpp.NewClient(url, &http.Client{Timeout: cfg.Timeout}, log)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create llama.cpp client")
		}
	default:
		return nil, errors.Errorf("unknown backend: %s (use service, ollama or llamacpp)", cfg.Backend)
	}

	vision := detection.NewVisionDetector(vc, detection.Options{
		Model:         cfg.Model,
		MaxDim:        cfg.SendSize,
		Quality:       cfg.SendQuality,
		MinConfidence: cfg.MinConfidence,
	})
	return &detection.Stored{Store: svc, Vision: vision, Log: log}, nil
}
