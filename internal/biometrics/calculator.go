// Package biometrics provides threshold calibration math over genuine and
// impostor score sets: FAR/FRR computation, threshold sweeps, EER search,
// and target-rate threshold lookup. All functions are pure and safe for
// concurrent use over independent Calculators.
package biometrics

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptyScores is returned when a Calculator is built from an empty
// genuine or impostor score set.
var ErrEmptyScores = errors.New("biometrics: genuine and impostor score sets must be non-empty")

// Point is the error-rate pair measured at one threshold.
type Point struct {
	Threshold float64
	FAR       float64
	FRR       float64
}

// EERResult is the outcome of an equal-error-rate search.
// When Interpolated is true the threshold was linearly interpolated between
// the two swept points bracketing the FAR/FRR crossover; otherwise the data
// had no sign change and the closest swept point was returned.
type EERResult struct {
	Threshold    float64
	FAR          float64
	FRR          float64
	EER          float64
	Interpolated bool
}

// Calculator computes error rates for fixed genuine and impostor score sets.
// It holds no mutable state after construction.
type Calculator struct {
	genuine  []float64
	impostor []float64
}

// NewCalculator returns a Calculator over copies of the given score sets.
// Returns ErrEmptyScores if either set is empty.
func NewCalculator(genuine, impostor []float64) (*Calculator, error) {
	if len(genuine) == 0 || len(impostor) == 0 {
		return nil, ErrEmptyScores
	}
	c := &Calculator{
		genuine:  make([]float64, len(genuine)),
		impostor: make([]float64, len(impostor)),
	}
	copy(c.genuine, genuine)
	copy(c.impostor, impostor)
	return c, nil
}

// FARFRRAt returns the false-acceptance and false-rejection rate at the
// given decision threshold. An impostor score >= threshold is a false
// accept; a genuine score < threshold is a false reject.
func (c *Calculator) FARFRRAt(threshold float64) (far, frr float64) {
	accepts := 0
	for _, s := range c.impostor {
		if s >= threshold {
			accepts++
		}
	}
	rejects := 0
	for _, s := range c.genuine {
		if s < threshold {
			rejects++
		}
	}
	return float64(accepts) / float64(len(c.impostor)), float64(rejects) / float64(len(c.genuine))
}

// Sweep measures FAR/FRR at n evenly spaced thresholds across the observed
// score range (min to max over both sets). n must be >= 2.
func (c *Calculator) Sweep(n int) ([]Point, error) {
	lo, hi := c.scoreRange()
	return c.SweepRange(n, lo, hi)
}

// SweepRange measures FAR/FRR at n evenly spaced thresholds in [lo, hi].
func (c *Calculator) SweepRange(n int, lo, hi float64) ([]Point, error) {
	if n < 2 {
		return nil, fmt.Errorf("biometrics: sweep requires at least 2 points, got %d", n)
	}
	if hi < lo {
		return nil, fmt.Errorf("biometrics: invalid sweep range [%g, %g]", lo, hi)
	}
	step := (hi - lo) / float64(n-1)
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		t := lo + float64(i)*step
		far, frr := c.FARFRRAt(t)
		points[i] = Point{Threshold: t, FAR: far, FRR: frr}
	}
	return points, nil
}

// FindEER locates the threshold where FAR and FRR cross, using an n-point
// sweep. Adjacent swept points with opposite (FAR-FRR) sign bracket the
// crossover, and the exact threshold is linearly interpolated between them.
// If the sweep shows no sign change (monotonic or degenerate data), the
// swept point with minimum |FAR-FRR| is returned with Interpolated=false.
// Accuracy is bounded by the sweep resolution n, not exact root-finding.
func (c *Calculator) FindEER(n int) (EERResult, error) {
	points, err := c.Sweep(n)
	if err != nil {
		return EERResult{}, err
	}
	for i := 0; i < len(points)-1; i++ {
		d0 := points[i].FAR - points[i].FRR
		d1 := points[i+1].FAR - points[i+1].FRR
		if d0 == 0 {
			p := points[i]
			return EERResult{Threshold: p.Threshold, FAR: p.FAR, FRR: p.FRR, EER: p.FAR, Interpolated: true}, nil
		}
		if d0*d1 < 0 {
			// Crossover between points[i] and points[i+1]: interpolate the
			// zero of (FAR-FRR) and the rates at that threshold.
			frac := d0 / (d0 - d1)
			p0, p1 := points[i], points[i+1]
			t := p0.Threshold + frac*(p1.Threshold-p0.Threshold)
			far := p0.FAR + frac*(p1.FAR-p0.FAR)
			frr := p0.FRR + frac*(p1.FRR-p0.FRR)
			return EERResult{Threshold: t, FAR: far, FRR: frr, EER: (far + frr) / 2, Interpolated: true}, nil
		}
	}
	best := points[0]
	for _, p := range points[1:] {
		if math.Abs(p.FAR-p.FRR) < math.Abs(best.FAR-best.FRR) {
			best = p
		}
	}
	return EERResult{
		Threshold:    best.Threshold,
		FAR:          best.FAR,
		FRR:          best.FRR,
		EER:          (best.FAR + best.FRR) / 2,
		Interpolated: false,
	}, nil
}

// ThresholdAtFAR returns the swept point whose FAR is closest to target,
// using an n-point sweep. Deterministic for fixed n; accuracy is bounded by
// the sweep resolution. Ties keep the lowest threshold.
func (c *Calculator) ThresholdAtFAR(target float64, n int) (Point, error) {
	points, err := c.Sweep(n)
	if err != nil {
		return Point{}, err
	}
	best := points[0]
	for _, p := range points[1:] {
		if math.Abs(p.FAR-target) < math.Abs(best.FAR-target) {
			best = p
		}
	}
	return best, nil
}

// ThresholdAtFRR returns the swept point whose FRR is closest to target,
// using an n-point sweep. Ties keep the lowest threshold.
func (c *Calculator) ThresholdAtFRR(target float64, n int) (Point, error) {
	points, err := c.Sweep(n)
	if err != nil {
		return Point{}, err
	}
	best := points[0]
	for _, p := range points[1:] {
		if math.Abs(p.FRR-target) < math.Abs(best.FRR-target) {
			best = p
		}
	}
	return best, nil
}

func (c *Calculator) scoreRange() (lo, hi float64) {
	lo, hi = c.genuine[0], c.genuine[0]
	for _, s := range c.genuine {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	for _, s := range c.impostor {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return lo, hi
}
