package detection

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai/pkg/client"
	"github.com/menta2k/blurai/pkg/types"
)

// DefaultMinOverlap is the intersection-over-union a vision box needs to refine a
// service detection
const DefaultMinOverlap = 0.3

// Stored uploads the image to the remote service, so effects can find it by name, and
// refines the service's boxes with the vision detector's.
//
// Class names always come from the service: its effect processor matches target_objects
// against them. A vision box replaces the geometry of the service detection it overlaps
// most; vision objects matching no service detection are dropped.
type Stored struct {
	Store      client.Detector
	Vision     client.Detector
	MinOverlap float64
	Log        logrus.FieldLogger
}

// Detect implements client.Detector
func (s *Stored) Detect(ctx context.Context, filename string, data []byte) ([]types.Detection, error) {
	remote, err := s.Store.Detect(ctx, filename, data)
	if err != nil {
		return nil, errors.Wrap(err, "store image")
	}

	local, err := s.Vision.Detect(ctx, filename, data)
	if err != nil {
		return nil, errors.Wrap(err, "vision detection")
	}

	minOverlap := s.MinOverlap
	if minOverlap <= 0 {
		minOverlap = DefaultMinOverlap
	}
	out, refined := refine(remote, local, minOverlap)

	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"file":    filename,
			"service": len(remote),
			"vision":  len(local),
			"refined": refined,
		}).Debug("refined service detections")
	}
	return out, nil
}

// refine returns a copy of remote where each detection takes the geometry of its best
// overlapping, not yet used vision detection
func refine(remote, local []types.Detection, minOverlap float64) ([]types.Detection, int) {
	out := append([]types.Detection(nil), remote...)
	used := make([]bool, len(local))
	refined := 0
	for i, r := range out {
		best, bestIoU := -1, minOverlap
		for j, l := range local {
			if used[j] {
				continue
			}
			if v := iou(r, l); v >= bestIoU {
				best, bestIoU = j, v
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		out[i].BBox = local[best].BBox
		out[i].Size = local[best].Size
		refined++
	}
	return out, refined
}

// iou is the intersection over union of two detections' boxes
func iou(a, b types.Detection) float64 {
	ax1, ay1 := a.BBox[0], a.BBox[1]
	ax2, ay2 := ax1+a.Size.Width, ay1+a.Size.Height
	bx1, by1 := b.BBox[0], b.BBox[1]
	bx2, by2 := bx1+b.Size.Width, by1+b.Size.Height

	w := math.Min(ax2, bx2) - math.Max(ax1, bx1)
	h := math.Min(ay2, by2) - math.Max(ay1, by1)
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := a.Size.Width*a.Size.Height + b.Size.Width*b.Size.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
