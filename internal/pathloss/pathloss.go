// Package pathloss implements the log-distance path-loss model used to
// relate an anchor's received signal strength to its distance from a
// tag. The model is pure configuration: per-anchor parameters (RSSI0,
// n) are passed into each call so the same model value can serve every
// anchor on the site.
package pathloss

import "math"

// minDistance guards the logarithm against zero or negative distances.
const minDistance = 1e-6

// Model holds the shared path-loss configuration: the reference
// distance D0 (metres) at which RSSI0 is defined, and the shadowing
// noise scale Sigma (dB) used to standardize residuals.
type Model struct {
	D0    float64
	Sigma float64
}

// Default returns the calibration the fleet ships with: a 1 m reference
// distance and 4 dB of shadowing noise.
func Default() Model {
	return Model{D0: 1.0, Sigma: 4.0}
}

// Mu returns the expected RSSI (dBm) at the given distance for an
// anchor with intercept rssi0 (dBm at D0) and path-loss exponent n:
//
//	mu = rssi0 - 10*n*log10(d/D0)
func (m Model) Mu(rssi0, n, dist float64) float64 {
	d := math.Max(dist, minDistance)
	return rssi0 - 10*n*math.Log10(d/m.D0)
}

// Z returns the standardized residual of a measured RSSI against the
// model prediction at the given distance.
func (m Model) Z(rssi, rssi0, n, dist float64) float64 {
	return (rssi - m.Mu(rssi0, n, dist)) / m.Sigma
}
