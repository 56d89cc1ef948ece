package client

import (
	"context"

	"github.com/menta2k/blurai/pkg/types"
)

// VisionClient is a chat-style vision model backend
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// Detector turns an uploaded image into a list of detections
type Detector interface {
	Detect(ctx context.Context, filename string, data []byte) ([]types.Detection, error)
}

// EffectProcessor applies effects to stored images
type EffectProcessor interface {
	ApplyEffect(ctx context.Context, payload types.EffectPayload) (types.EffectResult, error)
}

// AssetFetcher retrieves stored images by name
type AssetFetcher interface {
	Download(ctx context.Context, filename string, highRes bool) ([]byte, error)
	AssetURL(filename string) string
}
