package effects

import (
	"context"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai/internal/inflight"
	"github.com/menta2k/blurai/pkg/client"
	"github.com/menta2k/blurai/pkg/overlay"
	"github.com/menta2k/blurai/pkg/session"
	"github.com/menta2k/blurai/pkg/types"
)

// ErrBusy is returned while another effect request is in flight
var ErrBusy = inflight.ErrBusy

// Pending is an effect request bound to the upload it was issued against
type Pending struct {
	Generation uint64
	Payload    types.EffectPayload

	// set for client-side effects only
	Source     types.ImageRef
	Detections []types.Detection
}

// Local reports whether p is rendered on the client instead of the processor
func (p Pending) Local() bool {
	return ObjectKind(p.Payload.EffectType).Local() && !p.Payload.GlobalEffect
}

// maskQuality is the jpeg quality of client-rendered results
const maskQuality = 95

// Controller issues effect requests, one at a time
type Controller struct {
	processor client.EffectProcessor
	assets    client.AssetFetcher
	guard     *inflight.Guard
	log       logrus.FieldLogger
}

// NewController creates a controller that sends requests to processor and
// resolves processed file names to asset references with assets
func NewController(processor client.EffectProcessor, assets client.AssetFetcher, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		processor: processor,
		assets:    assets,
		guard:     inflight.New(),
		log:       log,
	}
}

// Prepare binds req to the image in snap. The image is identified by the base file's name.
func (c *Controller) Prepare(snap session.Snapshot, req Request) (Pending, error) {
	if !snap.HasImage() {
		return Pending{}, session.ErrNoImage
	}
	if req == nil {
		return Pending{}, ErrUnknownEffect
	}
	if oe, ok := req.(ObjectEffect); ok && oe.TargetClass == "" {
		return Pending{}, ErrNoSelection
	}
	p := Pending{
		Generation: snap.Generation,
		Payload:    Payload(snap.BaseImage.Name, req),
	}
	if p.Local() {
		p.Source = snap.Rendered()
		p.Detections = snap.Detections
	}
	return p, nil
}

// ForSelection builds an object effect of kind targeting the selected class in snap
func ForSelection(snap session.Snapshot, kind string) (ObjectEffect, error) {
	if snap.SelectedClass == "" {
		return ObjectEffect{}, ErrNoSelection
	}
	return NewObject(kind, snap.SelectedClass)
}

// Busy reports whether an effect request is in flight
func (c *Controller) Busy() bool { return c.guard.Busy() }

// Send issues p and returns a reference to the processed image.
// It does not touch session state; the caller applies the result.
func (c *Controller) Send(ctx context.Context, p Pending) (types.ImageRef, error) {
	release, err := c.guard.Acquire()
	if err != nil {
		return types.ImageRef{}, ErrBusy
	}
	defer release()

	log := c.log.WithFields(logrus.Fields{
		"filename": p.Payload.Filename,
		"effect":   p.Payload.EffectType,
		"global":   p.Payload.GlobalEffect,
		"targets":  p.Payload.TargetObjects,
	})

	if p.Local() {
		ref, err := c.mask(ctx, p)
		if err != nil {
			log.WithError(err).Error("Error applying effect")
			return types.ImageRef{}, errors.Wrap(err, "apply effect")
		}
		log.WithField("processed", ref.Name).Info("effect applied locally")
		return ref, nil
	}

	res, err := c.processor.ApplyEffect(ctx, p.Payload)
	if err != nil {
		log.WithError(err).Error("Error applying effect")
		return types.ImageRef{}, errors.Wrap(err, "apply effect")
	}

	log.WithField("processed", res.ProcessedFilename).Info("effect applied")
	return types.ImageRef{
		Name: res.ProcessedFilename,
		URI:  c.assets.AssetURL(res.ProcessedFilename),
	}, nil
}

// mask paints the target objects black on the currently rendered image
func (c *Controller) mask(ctx context.Context, p Pending) (types.ImageRef, error) {
	if len(p.Payload.TargetObjects) != 1 {
		return types.ImageRef{}, ErrNoSelection
	}
	class := p.Payload.TargetObjects[0]

	data := p.Source.Data
	if !p.Source.IsLocal() {
		var err error
		data, err = c.assets.Download(ctx, p.Source.Name, true)
		if err != nil {
			return types.ImageRef{}, errors.Wrap(err, "fetch rendered image")
		}
	}
	img, err := overlay.Decode(data)
	if err != nil {
		return types.ImageRef{}, err
	}
	masked, n := overlay.Mask(img, class, p.Detections, color.NRGBA{})
	if n == 0 {
		return types.ImageRef{}, errors.Errorf("no %q objects to mask", class)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p.Payload.Filename), "."))
	out, err := overlay.Encode(masked, ext, maskQuality, false)
	if err != nil {
		return types.ImageRef{}, err
	}
	return types.NewLocalRef(string(Square)+"_"+p.Payload.Filename, out), nil
}
