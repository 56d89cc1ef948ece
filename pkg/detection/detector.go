package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"regexp"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/menta2k/blurai/pkg/client"
	"github.com/menta2k/blurai/pkg/types"
)

// DefaultPrompt asks a vision model to list the objects in an image
const DefaultPrompt = `You are an object detector for a privacy tool.

Return JSON only:
{
  "objects": [
    {"label": "string", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- Use short lowercase labels. Use "face" for human faces and "license plate" for vehicle plates.
- List every face and license plate you can see, then other prominent objects.
- At most 20 objects. If nothing is found, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Options controls how images are sent to the model
type Options struct {
	Model         string
	Prompt        string
	MaxDim        int     // longest side sent to the model, 0 = original
	Quality       int     // JPEG quality of the sent image
	MinConfidence float64 // detections below this are dropped
}

// VisionDetector detects objects by asking a vision model
type VisionDetector struct {
	client client.VisionClient
	opts   Options
}

// NewVisionDetector creates a detector backed by a vision model client
func NewVisionDetector(vc client.VisionClient, opts Options) *VisionDetector {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	return &VisionDetector{client: vc, opts: opts}
}

type modelObject struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        types.Box `json:"box"`
}

type modelAnswer struct {
	Objects []modelObject `json:"objects"`
}

// Detect implements client.Detector. Boxes returned by the model are converted to pixel
// detections of the original image.
func (d *VisionDetector) Detect(ctx context.Context, filename string, data []byte) ([]types.Detection, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", filename)
	}
	imgB64, err := PrepareImageForModel(img, d.opts.MaxDim, d.opts.Quality)
	if err != nil {
		return nil, errors.Wrap(err, "prepare image for model")
	}

	raw, err := d.client.SimpleQuery(ctx, d.opts.Model, d.opts.Prompt, imgB64)
	if err != nil {
		return nil, errors.Wrap(err, "vision query")
	}

	objects, err := parseObjects(raw)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return toDetections(objects, b.Dx(), b.Dy(), d.opts.MinConfidence), nil
}

// PrepareImageForModel downsizes an image to maxDim and encodes it as base64 JPEG
func PrepareImageForModel(img image.Image, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func parseObjects(raw string) ([]modelObject, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, errors.Errorf("model returned non-JSON response: %.80q", raw)
	}

	var answer modelAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, errors.Wrap(err, "parse model response")
	}
	return answer.Objects, nil
}

func toDetections(objects []modelObject, imgW, imgH int, minConfidence float64) []types.Detection {
	fw, fh := float64(imgW), float64(imgH)
	out := make([]types.Detection, 0, len(objects))
	for _, o := range objects {
		label := strings.ToLower(strings.TrimSpace(o.Label))
		if label == "" || label == "none" {
			continue
		}
		conf := clamp(o.Confidence, 0, 1)
		if conf < minConfidence {
			continue
		}
		box := normalizeBox(o.Box)
		if box.W <= 0 || box.H <= 0 {
			continue
		}

		x1, y1 := box.X*fw, box.Y*fh
		x2, y2 := (box.X+box.W)*fw, (box.Y+box.H)*fh
		out = append(out, types.Detection{
			Class:      label,
			Confidence: conf,
			BBox:       [4]float64{x1, y1, x2, y2},
			Size:       types.Size{Width: x2 - x1, Height: y2 - y1},
		})
	}
	// most confident first, keeping model order for ties
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox keeps a normalized box inside the unit square
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
