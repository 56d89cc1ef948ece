// Package effects builds and issues effect requests against the remote processor.
package effects

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/blurai/pkg/types"
)

// GlobalKind names an effect applied to every match of a class implied by the effect
type GlobalKind string

// ObjectKind names an effect applied to the detections of one selected class
type ObjectKind string

const (
	BlurFaces  GlobalKind = "blur_faces"
	BlurPlates GlobalKind = "blur_plates"

	Blur   ObjectKind = "blur"
	Delete ObjectKind = "delete"
	Crop   ObjectKind = "crop"
	// Square paints the selected objects black on the client; the processor never sees it
	Square ObjectKind = "square"
)

var (
	// ErrUnknownEffect is returned for effect identifiers the processor does not understand
	ErrUnknownEffect = errors.New("unknown effect")
	// ErrNoSelection is returned when an object effect has no target class
	ErrNoSelection = errors.New("no object selected")
)

// GlobalKinds lists the global effects in display order
func GlobalKinds() []GlobalKind { return []GlobalKind{BlurFaces, BlurPlates} }

// ObjectKinds lists the object-scoped effects in display order
func ObjectKinds() []ObjectKind { return []ObjectKind{Blur, Delete, Crop, Square} }

// Local reports whether the effect is rendered on the client
func (k ObjectKind) Local() bool { return k == Square }

// Request is either a GlobalEffect or an ObjectEffect
type Request interface {
	// EffectType is the identifier sent to the processor
	EffectType() string
	// Targets is the target-object list; nil for global effects
	Targets() []string
	// Global reports whether the effect ignores the selection
	Global() bool

	sealed()
}

// GlobalEffect applies to all detections of the class implied by Kind
type GlobalEffect struct {
	Kind GlobalKind
}

func (e GlobalEffect) EffectType() string { return string(e.Kind) }
func (e GlobalEffect) Targets() []string  { return nil }
func (e GlobalEffect) Global() bool       { return true }
func (GlobalEffect) sealed()              {}

// ObjectEffect applies to the detections of TargetClass only
type ObjectEffect struct {
	Kind        ObjectKind
	TargetClass string
}

func (e ObjectEffect) EffectType() string { return string(e.Kind) }
func (e ObjectEffect) Targets() []string  { return []string{e.TargetClass} }
func (e ObjectEffect) Global() bool       { return false }
func (ObjectEffect) sealed()              {}

// NewGlobal validates kind and returns a global effect request
func NewGlobal(kind string) (GlobalEffect, error) {
	k := GlobalKind(strings.ToLower(strings.TrimSpace(kind)))
	for _, known := range GlobalKinds() {
		if k == known {
			return GlobalEffect{Kind: k}, nil
		}
	}
	return GlobalEffect{}, errors.Wrapf(ErrUnknownEffect, "%q is not a global effect", kind)
}

// NewObject validates kind and target and returns an object-scoped effect request
func NewObject(kind, targetClass string) (ObjectEffect, error) {
	k := ObjectKind(strings.ToLower(strings.TrimSpace(kind)))
	valid := false
	for _, known := range ObjectKinds() {
		if k == known {
			valid = true
			break
		}
	}
	if !valid {
		return ObjectEffect{}, errors.Wrapf(ErrUnknownEffect, "%q is not an object effect", kind)
	}
	if targetClass == "" {
		return ObjectEffect{}, ErrNoSelection
	}
	return ObjectEffect{Kind: k, TargetClass: targetClass}, nil
}

// IsGlobalKind reports whether kind names a global effect
func IsGlobalKind(kind string) bool {
	_, err := NewGlobal(kind)
	return err == nil
}

// Payload builds the wire body for req against the stored image filename
func Payload(filename string, req Request) types.EffectPayload {
	return types.EffectPayload{
		Filename:      filename,
		EffectType:    req.EffectType(),
		TargetObjects: req.Targets(),
		GlobalEffect:  req.Global(),
	}
}
