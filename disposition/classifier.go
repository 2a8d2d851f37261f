package disposition

import (
	"fmt"
	"math"

	"github.com/matcontt/tindercam/internal/domain"
)

// Verdict is the discrete outcome of one gesture.
type Verdict int

const (
	Cancel Verdict = iota
	CommitRight
	CommitLeft
)

func (v Verdict) String() string {
	switch v {
	case CommitRight:
		return "COMMIT_RIGHT"
	case CommitLeft:
		return "COMMIT_LEFT"
	default:
		return "CANCEL"
	}
}

// MarshalText encodes the verdict by name.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// DefaultThresholdRatio is the fraction of the surface width a drag must
// exceed to commit.
const DefaultThresholdRatio = 0.3

// Feedback is the visual intensity of the keep and discard indicators, each in [0, 1].
type Feedback struct {
	Displacement float64 `json:"displacement"`
	Keep         float64 `json:"keep"`
	Discard      float64 `json:"discard"`
}

// Classifier turns the horizontal translation of one drag gesture into a
// Verdict. It is not safe for concurrent use; the orchestrator serializes it.
type Classifier struct {
	threshold    float64
	active       bool
	displacement float64
}

// NewClassifier builds a classifier for a surface of the given width.
func NewClassifier(surfaceWidth, ratio float64) (*Classifier, error) {
	if !(surfaceWidth > 0) || math.IsInf(surfaceWidth, 0) {
		return nil, fmt.Errorf("surface width must be positive, got %v", surfaceWidth)
	}
	if !(ratio > 0 && ratio <= 1) {
		return nil, fmt.Errorf("threshold ratio must be in (0, 1], got %v", ratio)
	}
	return &Classifier{threshold: surfaceWidth * ratio}, nil
}

// Threshold is the displacement magnitude a release has to exceed.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Active reports whether a gesture is in progress.
func (c *Classifier) Active() bool {
	return c.active
}

// Displacement is the accumulated translation of the active gesture.
func (c *Classifier) Displacement() float64 {
	return c.displacement
}

// Begin starts a gesture with zero displacement.
func (c *Classifier) Begin() error {
	if c.active {
		return domain.ErrGestureActive
	}
	c.active = true
	c.displacement = 0
	return nil
}

// Move records a sample. translationX is the total horizontal translation
// since Begin, positive to the right.
func (c *Classifier) Move(translationX float64) (Feedback, error) {
	if !c.active {
		return Feedback{}, domain.ErrGestureIdle
	}
	if math.IsNaN(translationX) || math.IsInf(translationX, 0) {
		return c.Feedback(), fmt.Errorf("%w: %v", domain.ErrInvalidSample, translationX)
	}
	c.displacement = translationX
	return c.Feedback(), nil
}

// Feedback returns the intensity of the keep and discard hints for the
// current displacement.
func (c *Classifier) Feedback() Feedback {
	return Feedback{
		Displacement: c.displacement,
		Keep:         clamp(c.displacement/c.threshold, 0, 1),
		Discard:      clamp(-c.displacement/c.threshold, 0, 1),
	}
}

// Release ends the gesture and emits its verdict. Commits need a displacement
// strictly larger than the threshold.
func (c *Classifier) Release() (Verdict, error) {
	if !c.active {
		return Cancel, domain.ErrGestureIdle
	}
	d := c.displacement
	c.active = false
	c.displacement = 0

	if math.Abs(d) > c.threshold {
		if d > 0 {
			return CommitRight, nil
		}
		return CommitLeft, nil
	}
	return Cancel, nil
}

// Reset abandons an active gesture without a verdict.
func (c *Classifier) Reset() {
	c.active = false
	c.displacement = 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
