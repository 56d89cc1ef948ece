// Package download fetches processed images and saves them locally.
package download

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/blurai/internal/inflight"
	"github.com/menta2k/blurai/internal/utils"
	"github.com/menta2k/blurai/pkg/client"
	"github.com/menta2k/blurai/pkg/overlay"
	"github.com/menta2k/blurai/pkg/types"
)

// ErrBusy is returned while a download of the same variant is in flight
var ErrBusy = inflight.ErrBusy

// Saver stores a downloaded asset and returns where it went
type Saver interface {
	Save(name string, data []byte) (string, error)
}

// FileSaver writes assets into a directory, optionally re-encoding them
type FileSaver struct {
	Dir      string
	Format   string // jpg, png, webp or "" to keep the served bytes
	Quality  int
	Lossless bool
}

// Save writes data as name inside Dir. When Format is set the image is re-encoded and
// the extension of name is replaced accordingly.
func (s *FileSaver) Save(name string, data []byte) (string, error) {
	if err := utils.EnsureDir(s.Dir); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}
	name = utils.SanitizeFilename(name)

	if s.Format != "" {
		img, err := overlay.Decode(data)
		if err != nil {
			return "", err
		}
		quality := s.Quality
		if quality <= 0 {
			quality = 90
		}
		encoded, err := overlay.Encode(img, s.Format, quality, s.Lossless)
		if err != nil {
			return "", err
		}
		data = encoded
		name = strings.TrimSuffix(name, filepath.Ext(name)) + "." + strings.ToLower(s.Format)
	}

	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write download")
	}
	return path, nil
}

// Controller downloads processed images; standard and high-res variants are independent
type Controller struct {
	fetcher client.AssetFetcher
	saver   Saver
	prefix  string
	now     func() time.Time
	guards  map[bool]*inflight.Guard
	log     logrus.FieldLogger
}

// NewController creates a download controller saving files named <prefix><millis>[-hd].<ext>
func NewController(fetcher client.AssetFetcher, saver Saver, prefix string, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		fetcher: fetcher,
		saver:   saver,
		prefix:  prefix,
		now:     time.Now,
		guards:  map[bool]*inflight.Guard{false: inflight.New(), true: inflight.New()},
		log:     log,
	}
}

// SetClock replaces the time source used for file names
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// Download fetches the processed image in the requested variant and saves it.
// It is a no-op returning "" when no processed image exists.
func (c *Controller) Download(ctx context.Context, processed types.ImageRef, highRes bool) (string, error) {
	if processed.IsZero() {
		c.log.Debug("nothing to download")
		return "", nil
	}

	release, err := c.guards[highRes].Acquire()
	if err != nil {
		return "", ErrBusy
	}
	defer release()

	log := c.log.WithFields(logrus.Fields{"file": processed.Name, "high_res": highRes})

	// client-rendered results exist only in memory, at full resolution
	data := processed.Data
	if !processed.IsLocal() {
		data, err = c.fetcher.Download(ctx, processed.Name, highRes)
		if err != nil {
			log.WithError(err).Error("Error downloading image")
			return "", errors.Wrap(err, "download")
		}
	}

	ext := utils.GetFileExtension(processed.Name)
	name := utils.DownloadFilename(c.prefix, c.now(), highRes, ext)
	path, err := c.saver.Save(name, data)
	if err != nil {
		log.WithError(err).Error("Error saving image")
		return "", errors.Wrap(err, "save download")
	}

	log.WithFields(logrus.Fields{"path": path, "size": utils.FormatFileSize(int64(len(data)))}).Info("image downloaded")
	return path, nil
}

// DownloadAll fetches the standard and high-res variants concurrently
func (c *Controller) DownloadAll(ctx context.Context, processed types.ImageRef) (standard, highRes string, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		standard, err = c.Download(gctx, processed, false)
		return err
	})
	g.Go(func() error {
		var err error
		highRes, err = c.Download(gctx, processed, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return standard, highRes, nil
}

// Busy reports whether a download of the variant is in flight
func (c *Controller) Busy(highRes bool) bool { return c.guards[highRes].Busy() }
