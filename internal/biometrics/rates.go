package biometrics

import "fmt"

// EffectiveRateWithRetries returns the effective error rate when a caller is
// allowed n independent attempts at a calibrated single-attempt rate: rate^n.
// This is a reporting helper for dashboards and calibration output; the
// decision pipeline never uses it for control flow.
func EffectiveRateWithRetries(rate float64, attempts int) (float64, error) {
	if rate < 0 || rate > 1 {
		return 0, fmt.Errorf("biometrics: rate must be in [0,1], got %g", rate)
	}
	if attempts < 1 {
		return 0, fmt.Errorf("biometrics: attempts must be >= 1, got %d", attempts)
	}
	out := 1.0
	for i := 0; i < attempts; i++ {
		out *= rate
	}
	return out, nil
}
