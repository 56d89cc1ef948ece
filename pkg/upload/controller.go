// Package upload filters file gestures and submits the accepted image to the detector.
package upload

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai/internal/inflight"
	"github.com/menta2k/blurai/internal/utils"
	"github.com/menta2k/blurai/pkg/client"
	"github.com/menta2k/blurai/pkg/types"
)

var (
	// ErrRejected is returned for gestures that do not deliver exactly one file.
	// Front ends ignore it silently.
	ErrRejected = errors.New("gesture must deliver exactly one file")
	// ErrUnsupportedType is returned for files that are not jpeg or png images
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge is returned for files above the configured size limit
	ErrTooLarge = errors.New("file too large")
	// ErrBusy is returned while another upload is in flight
	ErrBusy = inflight.ErrBusy
)

// File is one file delivered by a drag-drop or file-picker gesture
type File struct {
	Name string
	Data []byte
}

// Config holds upload limits
type Config struct {
	Extensions   []string
	MinImageSize int
	MaxBytes     int64

	// detections must score strictly above MinConfidence; 0 disables the filter
	MinConfidence float64
}

func defaultConfig() Config {
	return Config{
		Extensions:    utils.UploadExtensions,
		MinImageSize:  1,
		MaxBytes:      20 << 20,
		MinConfidence: 0.5,
	}
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	Format      string
	AspectRatio float64
}

// Result is the outcome of a successful upload
type Result struct {
	Base       types.ImageRef
	Info       ImageInfo
	Detections []types.Detection
}

// Controller accepts one image at a time and submits it to a detector
type Controller struct {
	detector client.Detector
	config   Config
	guard    *inflight.Guard
	log      logrus.FieldLogger
}

// NewController creates an upload controller
func NewController(detector client.Detector, cfg Config, log logrus.FieldLogger) *Controller {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = utils.UploadExtensions
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		detector: detector,
		config:   cfg,
		guard:    inflight.New(),
		log:      log,
	}
}

// Accept reduces a gesture to its single file and checks that it is an uploadable image
func (c *Controller) Accept(files []File) (File, ImageInfo, error) {
	if len(files) != 1 {
		return File{}, ImageInfo{}, ErrRejected
	}
	f := files[0]
	if f.Name == "" || len(f.Data) == 0 {
		return File{}, ImageInfo{}, ErrRejected
	}
	if !utils.HasExtension(f.Name, c.config.Extensions) {
		return File{}, ImageInfo{}, errors.Wrapf(ErrUnsupportedType, "extension of %s", f.Name)
	}
	if c.config.MaxBytes > 0 && int64(len(f.Data)) > c.config.MaxBytes {
		return File{}, ImageInfo{}, errors.Wrapf(ErrTooLarge, "%s is %s (limit %s)",
			f.Name, utils.FormatFileSize(int64(len(f.Data))), utils.FormatFileSize(c.config.MaxBytes))
	}
	mime := http.DetectContentType(f.Data)
	if mime != "image/jpeg" && mime != "image/png" {
		return File{}, ImageInfo{}, errors.Wrapf(ErrUnsupportedType, "%s has content type %s", f.Name, mime)
	}

	info, err := c.inspect(f.Data)
	if err != nil {
		return File{}, ImageInfo{}, errors.Wrapf(err, "inspect %s", f.Name)
	}
	f.Name = filepath.Base(f.Name)
	return f, info, nil
}

// Submit sends an accepted file to the detector. Session state is not touched;
// on success the caller loads the returned result.
func (c *Controller) Submit(ctx context.Context, f File, info ImageInfo) (*Result, error) {
	release, err := c.guard.Acquire()
	if err != nil {
		return nil, ErrBusy
	}
	defer release()

	log := c.log.WithFields(logrus.Fields{"file": f.Name, "size": utils.FormatFileSize(int64(len(f.Data)))})

	detections, err := c.detector.Detect(ctx, f.Name, f.Data)
	if err != nil {
		log.WithError(err).Error("Error uploading image")
		return nil, errors.Wrap(err, "upload")
	}

	kept := make([]types.Detection, 0, len(detections))
	for _, d := range detections {
		if strings.TrimSpace(d.Class) == "" {
			continue
		}
		if c.config.MinConfidence > 0 && d.Confidence <= c.config.MinConfidence {
			continue
		}
		kept = append(kept, d)
	}
	log.WithFields(logrus.Fields{
		"detections": len(kept),
		"dropped":    len(detections) - len(kept),
	}).Info("image uploaded")

	return &Result{
		Base:       types.NewLocalRef(f.Name, f.Data),
		Info:       info,
		Detections: kept,
	}, nil
}

// Busy reports whether an upload is in flight
func (c *Controller) Busy() bool { return c.guard.Busy() }

func (c *Controller) inspect(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, errors.Wrap(ErrUnsupportedType, err.Error())
	}
	if cfg.Width < c.config.MinImageSize || cfg.Height < c.config.MinImageSize {
		return ImageInfo{}, errors.Errorf("image too small: %dx%d (minimum: %d)",
			cfg.Width, cfg.Height, c.config.MinImageSize)
	}
	return ImageInfo{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      format,
		AspectRatio: float64(cfg.Width) / float64(cfg.Height),
	}, nil
}
