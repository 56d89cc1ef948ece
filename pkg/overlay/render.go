package overlay

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/blurai/pkg/types"
)

// Style controls how the highlight is drawn
type Style struct {
	Border      color.NRGBA
	Fill        color.NRGBA
	StrokeWidth int
}

// DefaultStyle is a 2px primary-blue border over a 10% tinted fill
var DefaultStyle = Style{
	Border:      color.NRGBA{25, 118, 210, 255},
	Fill:        color.NRGBA{25, 118, 210, 26},
	StrokeWidth: 2,
}

// Decode reads an image in any registered format (jpeg, png, webp)
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}

// Fit shrinks img to the viewport like the display canvas does and returns the transform
// that maps image coordinates onto the result
func Fit(img image.Image, viewW, viewH int) (image.Image, Transform) {
	b := img.Bounds()
	t := FitTransform(b.Dx(), b.Dy(), viewW, viewH)
	if t.Scale >= 1 {
		return img, Transform{Scale: 1}
	}
	fitted := imaging.Fit(img, viewW, viewH, imaging.Lanczos)
	// drawn at the origin of the output; centering offsets only apply on a fixed canvas
	return fitted, Transform{Scale: t.Scale}
}

// Render draws the highlight rectangle on a copy of img
func Render(img image.Image, rect Rect, ok bool, style Style) *image.NRGBA {
	out := imaging.Clone(img)
	if !ok || rect.Empty() {
		return out
	}
	if style.StrokeWidth <= 0 {
		style.StrokeWidth = 1
	}

	r := rect.Image().Intersect(out.Bounds())
	if r.Empty() {
		return out
	}
	fillRect(out, r, style.Fill)
	for s := 0; s < style.StrokeWidth; s++ {
		drawHLine(out, r.Min.Y+s, r.Min.X, r.Max.X, style.Border)
		drawHLine(out, r.Max.Y-1-s, r.Min.X, r.Max.X, style.Border)
		drawVLine(out, r.Min.X+s, r.Min.Y, r.Max.Y, style.Border)
		drawVLine(out, r.Max.X-1-s, r.Min.Y, r.Max.Y, style.Border)
	}
	return out
}

// Mask paints every detection of class opaque in c on a copy of img and returns how
// many boxes it painted
func Mask(img image.Image, class string, detections []types.Detection, c color.NRGBA) (*image.NRGBA, int) {
	out := imaging.Clone(img)
	c.A = 255
	n := 0
	for _, d := range detections {
		if d.Class != class {
			continue
		}
		r := BoxOf(d).Image().Intersect(out.Bounds())
		if r.Empty() {
			continue
		}
		fillRect(out, r, c)
		n++
	}
	return out, n
}

// Save writes an image to path in the given format: jpg, png or webp
func Save(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		data, err := Encode(img, format, quality, lossless)
		if err != nil {
			return err
		}
		return errors.Wrap(os.WriteFile(path, data, 0o644), "write webp")
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// Encode writes an image to memory in the given format
func Encode(img image.Image, format string, quality int, lossless bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(format) {
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", format)
	}
	return buf.Bytes(), nil
}

func fillRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	if c.A == 0 {
		return
	}
	a := uint32(c.A)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Pix[i+0] = blend(img.Pix[i+0], c.R, a)
			img.Pix[i+1] = blend(img.Pix[i+1], c.G, a)
			img.Pix[i+2] = blend(img.Pix[i+2], c.B, a)
			i += 4
		}
	}
}

func blend(dst, src uint8, alpha uint32) uint8 {
	return uint8((uint32(src)*alpha + uint32(dst)*(255-alpha)) / 255)
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	if x0 < b.Min.X {
		x0 = b.Min.X
	}
	if x1 > b.Max.X {
		x1 = b.Max.X
	}
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	if y0 < b.Min.Y {
		y0 = b.Min.Y
	}
	if y1 > b.Max.Y {
		y1 = b.Max.Y
	}
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
