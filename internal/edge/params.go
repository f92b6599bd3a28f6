package edge

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"edge-viewer-go/internal/frame"
)

// Policy selects the gradient/threshold stage.
type Policy int

const (
	// PolicyCanny produces binary 0/255 thin edges.
	PolicyCanny Policy = iota
	// PolicySobel produces continuous gradient magnitude.
	PolicySobel
)

func (p Policy) String() string {
	switch p {
	case PolicyCanny:
		return "canny"
	case PolicySobel:
		return "sobel"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts "canny" or "sobel", case insensitive.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "canny", "":
		return PolicyCanny, nil
	case "sobel":
		return PolicySobel, nil
	}
	return 0, errors.Wrapf(frame.ErrInvalidParameter, "unknown edge policy %q", s)
}

// Params configures one run of the filter chain. A Params value is
// immutable once handed to the pipeline; updates replace it whole.
type Params struct {
	LowThreshold   float64
	HighThreshold  float64
	BlurKernelSize int
	Policy         Policy
}

// DefaultParams matches the interactive defaults: Canny 50/150, 3x3 blur.
func DefaultParams() Params {
	return Params{
		LowThreshold:   50,
		HighThreshold:  150,
		BlurKernelSize: 3,
		Policy:         PolicyCanny,
	}
}

// ValidKernel reports whether k is a supported blur/aperture side.
func ValidKernel(k int) bool {
	return k == 3 || k == 5 || k == 7
}

// Validate returns frame.ErrInvalidParameter (wrapped) when p cannot be
// applied.
func (p Params) Validate() error {
	if math.IsNaN(p.LowThreshold) || math.IsNaN(p.HighThreshold) ||
		math.IsInf(p.LowThreshold, 0) || math.IsInf(p.HighThreshold, 0) {
		return errors.Wrap(frame.ErrInvalidParameter, "thresholds must be finite")
	}
	if p.LowThreshold < 0 {
		return errors.Wrapf(frame.ErrInvalidParameter, "low threshold %g is negative", p.LowThreshold)
	}
	if p.HighThreshold <= p.LowThreshold {
		return errors.Wrapf(frame.ErrInvalidParameter, "high threshold %g must exceed low threshold %g",
			p.HighThreshold, p.LowThreshold)
	}
	if !ValidKernel(p.BlurKernelSize) {
		return errors.Wrapf(frame.ErrInvalidParameter, "kernel size %d not in {3,5,7}", p.BlurKernelSize)
	}
	if p.Policy != PolicyCanny && p.Policy != PolicySobel {
		return errors.Wrapf(frame.ErrInvalidParameter, "policy %d", int(p.Policy))
	}
	return nil
}
