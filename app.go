// Package blurai is a client for the BlurAI privacy service.
//
// An App holds the state of one interactive session: the uploaded image, the objects
// the service detected in it, the selected and hovered object classes, and the most
// recent processed image. The state is owned by an event loop; network calls run on the
// caller's goroutine and post their result back to the loop. Results that arrive after a
// newer upload has replaced the image are discarded.
//
// Basic usage:
//
//	cfg := config.Default()
//	app, err := blurai.New(cfg, log)
//	if err != nil {
//		log.Fatal(err)
//	}
//	go app.Run(ctx)
//
//	res, err := app.Upload(ctx, []upload.File{{Name: "photo.jpg", Data: data}})
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = app.Select(ctx, res.Detections[0].Class)
//	processed, err := app.ApplyNamedEffect(ctx, "blur")
//	path, err := app.Download(ctx, true)
package blurai

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai/internal/config"
	"github.com/menta2k/blurai/internal/eventloop"
	"github.com/menta2k/blurai/pkg/client"
	"github.com/menta2k/blurai/pkg/download"
	"github.com/menta2k/blurai/pkg/effects"
	"github.com/menta2k/blurai/pkg/overlay"
	"github.com/menta2k/blurai/pkg/service"
	"github.com/menta2k/blurai/pkg/session"
	"github.com/menta2k/blurai/pkg/types"
	"github.com/menta2k/blurai/pkg/upload"
)

// Version of the BlurAI client
const Version = "1.0.0"

// App wires the controllers around a single session
type App struct {
	cfg *config.Config
	log logrus.FieldLogger

	service   *service.Client
	loop      *eventloop.Loop
	state     *session.State
	uploads   *upload.Controller
	effects   *effects.Controller
	downloads *download.Controller
}

type options struct {
	observer   session.Observer
	httpClient *http.Client
	detector   client.Detector
	saver      download.Saver
	clock      func() time.Time
}

// Option customizes an App
type Option func(*options)

// WithObserver receives overlay, tool and image changes. Callbacks run on the event loop.
func WithObserver(o session.Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithHTTPClient sets the client used to talk to the service
func WithHTTPClient(hc *http.Client) Option {
	return func(opts *options) { opts.httpClient = hc }
}

// WithDetector replaces the detector chosen by configuration
func WithDetector(d client.Detector) Option {
	return func(opts *options) { opts.detector = d }
}

// WithSaver replaces where downloads are written
func WithSaver(s download.Saver) Option {
	return func(opts *options) { opts.saver = s }
}

// WithClock sets the time source for download file names
func WithClock(now func() time.Time) Option {
	return func(opts *options) { opts.clock = now }
}

// New creates an App from cfg. Call Run before using it.
func New(cfg *config.Config, log logrus.FieldLogger, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	svcOpts := []service.Option{service.WithLogger(log)}
	if o.httpClient != nil {
		svcOpts = append(svcOpts, service.WithHTTPClient(o.httpClient))
	}
	svc, err := service.NewClient(cfg.Service.BaseURL, cfg.Service.Timeout, svcOpts...)
	if err != nil {
		return nil, err
	}

	detector := o.detector
	if detector == nil {
		detector, err = NewDetector(cfg.Detector, svc, log)
		if err != nil {
			return nil, err
		}
	}

	saver := o.saver
	if saver == nil {
		saver = &download.FileSaver{
			Dir:      cfg.Download.OutputDir,
			Format:   cfg.Download.Format,
			Quality:  cfg.Download.Quality,
			Lossless: cfg.Download.Lossless,
		}
	}
	downloads := download.NewController(svc, saver, cfg.Download.Prefix, log)
	if o.clock != nil {
		downloads.SetClock(o.clock)
	}

	return &App{
		cfg:     cfg,
		log:     log,
		service: svc,
		loop:    eventloop.New(0),
		state:   session.New(overlay.NewResolver(), o.observer),
		uploads: upload.NewController(detector, upload.Config{
			Extensions:    cfg.Upload.Extensions,
			MinImageSize:  cfg.Upload.MinImageSize,
			MaxBytes:      cfg.Upload.MaxBytes,
			MinConfidence: cfg.Upload.MinConfidence,
		}, log),
		effects:   effects.NewController(svc, svc, log),
		downloads: downloads,
	}, nil
}

// Run owns the session state until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	return a.loop.Run(ctx)
}

// Health checks that the service is reachable
func (a *App) Health(ctx context.Context) error {
	return a.service.Health(ctx)
}

// Snapshot returns a copy of the current session state
func (a *App) Snapshot(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := a.loop.Call(ctx, func() { snap = a.state.Snapshot() })
	return snap, err
}

// Upload submits the single file of a gesture. On success the session is replaced by the
// new image and its detections; on failure the session is untouched.
func (a *App) Upload(ctx context.Context, files []upload.File) (*upload.Result, error) {
	f, info, err := a.uploads.Accept(files)
	if err != nil {
		if errors.Is(err, upload.ErrRejected) {
			a.log.WithField("files", len(files)).Debug("ignored gesture")
		} else {
			a.log.WithError(err).Warn("upload refused")
		}
		return nil, err
	}

	res, err := a.uploads.Submit(ctx, f, info)
	if err != nil {
		return nil, err
	}

	var loadErr error
	if err := a.loop.Call(ctx, func() { loadErr = a.state.Load(res.Base, res.Detections) }); err != nil {
		return nil, err
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return res, nil
}

// Select toggles the selected object class
func (a *App) Select(ctx context.Context, class string) error {
	var selErr error
	if err := a.loop.Call(ctx, func() { selErr = a.state.Select(class) }); err != nil {
		return err
	}
	return selErr
}

// Hover sets the hovered object class and returns the resulting overlay
func (a *App) Hover(ctx context.Context, class string) (overlay.Rect, bool, error) {
	var rect overlay.Rect
	var ok bool
	err := a.loop.Call(ctx, func() {
		a.state.Hover(class)
		rect, ok = a.state.Overlay()
	})
	return rect, ok, err
}

// Leave clears the hovered class
func (a *App) Leave(ctx context.Context) error {
	return a.loop.Call(ctx, a.state.Leave)
}

// ApplyEffect sends req for the current image and records the processed result
func (a *App) ApplyEffect(ctx context.Context, req effects.Request) (types.ImageRef, error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return types.ImageRef{}, err
	}
	return a.apply(ctx, snap, req)
}

// ApplyObjectEffect applies kind to the selected class
func (a *App) ApplyObjectEffect(ctx context.Context, kind string) (types.ImageRef, error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return types.ImageRef{}, err
	}
	if !snap.HasImage() {
		return types.ImageRef{}, session.ErrNoImage
	}
	req, err := effects.ForSelection(snap, kind)
	if err != nil {
		return types.ImageRef{}, err
	}
	return a.apply(ctx, snap, req)
}

// ApplyNamedEffect applies a global effect when kind names one, otherwise an object
// effect on the selected class
func (a *App) ApplyNamedEffect(ctx context.Context, kind string) (types.ImageRef, error) {
	if effects.IsGlobalKind(kind) {
		req, err := effects.NewGlobal(kind)
		if err != nil {
			return types.ImageRef{}, err
		}
		return a.ApplyEffect(ctx, req)
	}
	return a.ApplyObjectEffect(ctx, kind)
}

func (a *App) apply(ctx context.Context, snap session.Snapshot, req effects.Request) (types.ImageRef, error) {
	pending, err := a.effects.Prepare(snap, req)
	if err != nil {
		return types.ImageRef{}, err
	}
	ref, err := a.effects.Send(ctx, pending)
	if err != nil {
		return types.ImageRef{}, err
	}

	var setErr error
	if err := a.loop.Call(ctx, func() { setErr = a.state.SetProcessed(pending.Generation, ref) }); err != nil {
		return types.ImageRef{}, err
	}
	if setErr != nil {
		a.log.WithFields(logrus.Fields{
			"processed":  ref.Name,
			"generation": pending.Generation,
		}).Warn("discarded effect result")
		return types.ImageRef{}, setErr
	}
	return ref, nil
}

// Download saves the processed image. It returns "" when there is nothing to download.
func (a *App) Download(ctx context.Context, highRes bool) (string, error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return a.downloads.Download(ctx, snap.ProcessedImage, highRes)
}

// DownloadAll saves the standard and high-res variants concurrently
func (a *App) DownloadAll(ctx context.Context) (standard, highRes string, err error) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return "", "", err
	}
	return a.downloads.DownloadAll(ctx, snap.ProcessedImage)
}

// Preview writes the rendered image, shrunk to the configured viewport, with the hovered
// object highlighted
func (a *App) Preview(ctx context.Context, path string) error {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !snap.HasImage() {
		return session.ErrNoImage
	}

	ref := snap.Rendered()
	data := ref.Data
	if !ref.IsLocal() {
		data, err = a.service.Download(ctx, ref.Name, false)
		if err != nil {
			return errors.Wrap(err, "fetch rendered image")
		}
	}

	img, err := overlay.Decode(data)
	if err != nil {
		return err
	}
	fitted, t := overlay.Fit(img, a.cfg.Overlay.ViewWidth, a.cfg.Overlay.ViewHeight)
	resolver := &overlay.Resolver{Transform: t}
	rect, ok := resolver.Resolve(snap.HoveredClass, snap.Detections)

	out := overlay.Render(fitted, rect, ok, overlay.DefaultStyle)
	if err := overlay.Save(out, path, a.cfg.Overlay.Format, a.cfg.Overlay.Quality, false); err != nil {
		return errors.Wrapf(err, "save preview %s", path)
	}
	a.log.WithFields(logrus.Fields{"path": path, "highlight": ok}).Info("preview written")
	return nil
}

// Busy reports which operations are in flight
func (a *App) Busy() (uploading, applying, standard, highRes bool) {
	return a.uploads.Busy(), a.effects.Busy(), a.downloads.Busy(false), a.downloads.Busy(true)
}
