package types

import "strings"

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Size is the explicit width/height of a detection's highlight box
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one object found in the uploaded image.
// BBox holds x1, y1, x2, y2 in image pixels; the overlay only reads BBox[0] and BBox[1].
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Size       Size       `json:"size"`
}

// UploadResult is the detector's answer to an uploaded image
type UploadResult struct {
	Filename   string      `json:"filename,omitempty"`
	Detections []Detection `json:"detections"`
}

// EffectPayload is the body of an apply-effect request.
// A nil TargetObjects marshals to null, meaning "every match of the effect's implied class".
type EffectPayload struct {
	Filename      string   `json:"filename"`
	EffectType    string   `json:"effect_type"`
	TargetObjects []string `json:"target_objects"`
	GlobalEffect  bool     `json:"global_effect"`
}

// EffectResult is the processor's answer to an apply-effect request
type EffectResult struct {
	ProcessedFilename string `json:"processed_filename"`
}

// ImageRef points at an image the client can render.
// Local references carry the raw bytes and are never fetched over the network.
type ImageRef struct {
	Name string
	URI  string
	Data []byte
}

// LocalURIScheme prefixes references to bytes held in memory
const LocalURIScheme = "local://"

// NewLocalRef builds a display-ready reference to raw uploaded bytes
func NewLocalRef(name string, data []byte) ImageRef {
	return ImageRef{Name: name, URI: LocalURIScheme + name, Data: data}
}

// IsZero reports whether the reference is unset
func (r ImageRef) IsZero() bool {
	return r.Name == "" && r.URI == ""
}

// IsLocal reports whether the reference points at in-memory bytes
func (r ImageRef) IsLocal() bool {
	return strings.HasPrefix(r.URI, LocalURIScheme)
}
