// Package session holds the interactive state for one active image.
//
// State is not synchronized: it has a single writer, the event loop that owns it.
// Every mutation goes through a named operation so the invariants below stay checkable:
//
//   - detections are non-empty only while a base image is loaded
//   - the selected class, when set, named at least one detection when it was selected
//   - the rendered image is the processed image when present, otherwise the base image
//   - loading a new upload clears selection, hover and the processed image first
package session

import (
	"github.com/pkg/errors"

	"github.com/menta2k/blurai/pkg/overlay"
	"github.com/menta2k/blurai/pkg/types"
)

var (
	// ErrNoImage is returned when an operation needs an uploaded image
	ErrNoImage = errors.New("no image uploaded")
	// ErrUnknownClass is returned when selecting a class with no detection
	ErrUnknownClass = errors.New("no detection with that class")
	// ErrStale is returned when a result belongs to an earlier upload
	ErrStale = errors.New("result belongs to an earlier upload")
)

// Observer is notified about state changes that affect what is displayed.
// Callbacks run synchronously on the state's owner.
type Observer interface {
	OverlayChanged(rect overlay.Rect, ok bool)
	ToolsChanged(enabled bool)
	ImageChanged(ref types.ImageRef)
}

// Snapshot is an immutable copy of the state used to issue requests
type Snapshot struct {
	Generation     uint64
	BaseImage      types.ImageRef
	Detections     []types.Detection
	SelectedClass  string
	HoveredClass   string
	ProcessedImage types.ImageRef
}

// HasImage reports whether an image was uploaded
func (s Snapshot) HasImage() bool { return !s.BaseImage.IsZero() }

// Rendered returns the image currently shown
func (s Snapshot) Rendered() types.ImageRef {
	if !s.ProcessedImage.IsZero() {
		return s.ProcessedImage
	}
	return s.BaseImage
}

// State is the mutable interaction state. The zero value is usable and empty.
type State struct {
	generation uint64
	base       types.ImageRef
	detections []types.Detection
	selected   string
	hovered    string
	processed  types.ImageRef

	resolver *overlay.Resolver
	observer Observer
}

// New creates an empty state resolving overlays with resolver (identity when nil)
func New(resolver *overlay.Resolver, observer Observer) *State {
	if resolver == nil {
		resolver = overlay.NewResolver()
	}
	return &State{resolver: resolver, observer: observer}
}

// Generation identifies the current upload; it increments on every Load
func (s *State) Generation() uint64 { return s.generation }

// BaseImage returns the uploaded image reference
func (s *State) BaseImage() types.ImageRef { return s.base }

// Detections returns a copy of the current detection list
func (s *State) Detections() []types.Detection {
	return append([]types.Detection(nil), s.detections...)
}

// SelectedClass returns the selected class or "" for none
func (s *State) SelectedClass() string { return s.selected }

// HoveredClass returns the hovered class or "" for none
func (s *State) HoveredClass() string { return s.hovered }

// ProcessedImage returns the latest processed image, zero when no effect was applied
func (s *State) ProcessedImage() types.ImageRef { return s.processed }

// Rendered returns the processed image when present, otherwise the base image
func (s *State) Rendered() types.ImageRef {
	if !s.processed.IsZero() {
		return s.processed
	}
	return s.base
}

// ToolsEnabled reports whether object-scoped tools may be used
func (s *State) ToolsEnabled() bool { return s.selected != "" }

// Overlay resolves the highlight rectangle for the hovered class
func (s *State) Overlay() (overlay.Rect, bool) {
	return s.resolver.Resolve(s.hovered, s.detections)
}

// Snapshot copies the state for use off the owning goroutine
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Generation:     s.generation,
		BaseImage:      s.base,
		Detections:     s.Detections(),
		SelectedClass:  s.selected,
		HoveredClass:   s.hovered,
		ProcessedImage: s.processed,
	}
}

// Load replaces the session with a freshly uploaded image and its detections.
// Selection, hover and the processed image are cleared before the new image is loaded.
func (s *State) Load(base types.ImageRef, detections []types.Detection) error {
	if base.IsZero() {
		return ErrNoImage
	}
	s.reset()
	s.generation++
	s.base = base
	s.detections = append([]types.Detection(nil), detections...)
	s.notifyImage()
	return nil
}

// Select toggles the selected class: selecting the current class clears it,
// any other class replaces it.
func (s *State) Select(class string) error {
	if class == "" || class == s.selected {
		s.setSelected("")
		return nil
	}
	if _, ok := overlay.FirstMatch(class, s.detections); !ok {
		return ErrUnknownClass
	}
	s.setSelected(class)
	return nil
}

// Hover overwrites the hovered class; "" clears it
func (s *State) Hover(class string) {
	if class == s.hovered {
		return
	}
	s.hovered = class
	s.notifyOverlay()
}

// Leave clears the hovered class
func (s *State) Leave() { s.Hover("") }

// SetProcessed records a processed image produced for generation.
// Results from an earlier upload are rejected with ErrStale.
func (s *State) SetProcessed(generation uint64, ref types.ImageRef) error {
	if s.base.IsZero() {
		return ErrNoImage
	}
	if generation != s.generation {
		return ErrStale
	}
	s.processed = ref
	s.notifyImage()
	return nil
}

func (s *State) reset() {
	s.detections = nil
	s.processed = types.ImageRef{}
	s.setSelected("")
	if s.hovered != "" {
		s.hovered = ""
		s.notifyOverlay()
	}
}

func (s *State) setSelected(class string) {
	if class == s.selected {
		return
	}
	s.selected = class
	if s.observer != nil {
		s.observer.ToolsChanged(s.ToolsEnabled())
	}
}

func (s *State) notifyOverlay() {
	if s.observer == nil {
		return
	}
	rect, ok := s.Overlay()
	s.observer.OverlayChanged(rect, ok)
}

func (s *State) notifyImage() {
	if s.observer != nil {
		s.observer.ImageChanged(s.Rendered())
	}
}
