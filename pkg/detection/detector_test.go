package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/menta2k/blurai/pkg/types"
)

type fakeVision struct {
	answer string
	err    error
	model  string
	imgB64 string
}

func (f *fakeVision) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.model = model
	f.imgB64 = imgB64
	return f.answer, f.err
}

type fakeDetector struct {
	dets  []types.Detection
	err   error
	calls int
}

func (f *fakeDetector) Detect(ctx context.Context, filename string, data []byte) ([]types.Detection, error) {
	f.calls++
	return f.dets, f.err
}

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{64, 64, 64, 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(w, h)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestVisionDetect(t *testing.T) {
	vc := &fakeVision{answer: "```json\n" + `{
  "objects": [
    {"label": "Face", "confidence": 0.6, "box": {"x": 0.1, "y": 0.2, "w": 0.25, "h": 0.3}},
    {"label": "license plate", "confidence": 0.9, "box": {"x": 0.5, "y": 0.5, "w": 0.2, "h": 0.1}},
    {"label": "none", "confidence": 0.9, "box": {"x": 0.5, "y": 0.5, "w": 0.2, "h": 0.1}},
    {"label": "tree", "confidence": 0.05, "box": {"x": 0, "y": 0, "w": 1, "h": 1}},
  ]
}` + "\n```"}
	d := NewVisionDetector(vc, Options{Model: "llava", MinConfidence: 0.1})

	dets, err := d.Detect(context.Background(), "photo.png", pngBytes(t, 200, 100))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if vc.model != "llava" || vc.imgB64 == "" {
		t.Errorf("model not queried as expected: %q", vc.model)
	}
	if len(dets) != 2 {
		t.Fatalf("Expected 2 detections, got %+v", dets)
	}

	plate, face := dets[0], dets[1]
	if plate.Class != "license plate" || face.Class != "face" {
		t.Errorf("Expected confidence order plate, face; got %q, %q", plate.Class, face.Class)
	}
	if !almost(face.BBox[0], 20) || !almost(face.BBox[1], 20) || !almost(face.BBox[2], 70) || !almost(face.BBox[3], 50) {
		t.Errorf("unexpected face bbox %v", face.BBox)
	}
	if !almost(face.Size.Width, 50) || !almost(face.Size.Height, 30) {
		t.Errorf("unexpected face size %+v", face.Size)
	}
}

func TestVisionDetectErrors(t *testing.T) {
	d := NewVisionDetector(&fakeVision{answer: "I see a cat."}, Options{})
	if _, err := d.Detect(context.Background(), "photo.png", pngBytes(t, 10, 10)); err == nil {
		t.Error("Expected error for non-JSON answer")
	}

	d = NewVisionDetector(&fakeVision{err: errors.New("timeout")}, Options{})
	if _, err := d.Detect(context.Background(), "photo.png", pngBytes(t, 10, 10)); err == nil {
		t.Error("Expected error from failing model")
	}

	d = NewVisionDetector(&fakeVision{answer: `{"objects":[]}`}, Options{})
	if _, err := d.Detect(context.Background(), "photo.png", []byte("garbage")); err == nil {
		t.Error("Expected decode error")
	}
}

func TestPrepareImageForModel(t *testing.T) {
	b64, err := PrepareImageForModel(createTestImage(400, 200), 100, 80)
	if err != nil {
		t.Fatalf("PrepareImageForModel() error = %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("invalid jpeg: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("Expected 100x50, got %v", img.Bounds())
	}
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Sure! {\"a\":[1,2,],}", `{"a":[1,2]}`},
		{"/* note */ {\"a\":1}", `{"a":1}`},
		{"// comment\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := sanitizeModelJSON(tt.in); got != tt.want {
			t.Errorf("sanitizeModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeBox(t *testing.T) {
	b := normalizeBox(types.Box{X: -0.2, Y: 0.9, W: 0.5, H: 0.5})
	if b.X != 0 || b.Y != 0.9 || b.W != 0.5 || !almost(b.H, 0.1) {
		t.Errorf("normalizeBox() = %+v", b)
	}
}

func det(class string, x, y, w, h float64) types.Detection {
	return types.Detection{
		Class:      class,
		Confidence: 0.9,
		BBox:       [4]float64{x, y, x + w, y + h},
		Size:       types.Size{Width: w, Height: h},
	}
}

func TestStoredKeepsServiceClasses(t *testing.T) {
	store := &fakeDetector{dets: []types.Detection{
		det("person", 10, 20, 50, 60),
		det("car", 120, 60, 60, 20),
	}}
	vision := &fakeDetector{dets: []types.Detection{
		det("human face", 12, 22, 50, 55),
		det("tree", 300, 300, 10, 10),
	}}
	s := &Stored{Store: store, Vision: vision}

	dets, err := s.Detect(context.Background(), "photo.jpg", []byte("x"))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(dets) != 2 || dets[0].Class != "person" || dets[1].Class != "car" {
		t.Fatalf("Expected the service classes person, car; got %+v", dets)
	}
	if dets[0].BBox[0] != 12 || dets[0].Size.Height != 55 {
		t.Errorf("overlapping vision box should refine geometry, got %+v", dets[0])
	}
	if dets[1].BBox[0] != 120 || dets[1].Size.Width != 60 {
		t.Errorf("unmatched service detection should keep its box, got %+v", dets[1])
	}
	if dets[0].Confidence != 0.9 {
		t.Errorf("confidence should come from the service, got %v", dets[0].Confidence)
	}
}

func TestStoredVisionBoxUsedOnce(t *testing.T) {
	store := &fakeDetector{dets: []types.Detection{
		det("person", 0, 0, 10, 10),
		det("person", 1, 1, 10, 10),
	}}
	vision := &fakeDetector{dets: []types.Detection{det("face", 0, 0, 10, 10)}}

	dets, err := (&Stored{Store: store, Vision: vision}).Detect(context.Background(), "a.jpg", nil)
	if err != nil {
		t.Fatal(err)
	}
	if dets[1].BBox[0] != 1 {
		t.Errorf("second detection must keep its own box, got %+v", dets[1])
	}
}

func TestIoU(t *testing.T) {
	a := det("a", 0, 0, 10, 10)
	if v := iou(a, a); !almost(v, 1) {
		t.Errorf("iou(a, a) = %v", v)
	}
	if v := iou(a, det("b", 5, 0, 10, 10)); !almost(v, 50.0/150.0) {
		t.Errorf("half overlap = %v", v)
	}
	if v := iou(a, det("c", 20, 20, 5, 5)); v != 0 {
		t.Errorf("disjoint = %v", v)
	}
}

func TestStoredErrors(t *testing.T) {
	vision := &fakeDetector{dets: []types.Detection{{Class: "face"}}}
	failing := &Stored{Store: &fakeDetector{err: errors.New("503")}, Vision: vision}
	if _, err := failing.Detect(context.Background(), "photo.jpg", []byte("x")); err == nil {
		t.Error("Expected error when the image cannot be stored")
	}
	if vision.calls != 0 {
		t.Error("vision detector must not run when storing fails")
	}

	s := &Stored{Store: &fakeDetector{}, Vision: &fakeDetector{err: errors.New("model offline")}}
	if _, err := s.Detect(context.Background(), "photo.jpg", []byte("x")); err == nil {
		t.Error("Expected error from vision detector")
	}
}
