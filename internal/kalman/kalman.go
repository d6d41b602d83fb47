// Package kalman implements the per-anchor recursive estimator for the
// two path-loss parameters (RSSI0, n). Each anchor owns one Filter; one
// Step folds a single (rssi, distance) observation into the estimate.
//
// The state is two-dimensional and never grows, so the covariance
// arithmetic is written as closed-form scalars instead of pulling in a
// matrix library: no allocation on the per-message hot path, and the
// update cannot fail (the innovation variance is strictly positive for
// any positive measurement noise).
package kalman

import "math"

// Process noise: the parameters are modelled as a slow random walk
// between observations, so the covariance is inflated by Q before each
// measurement update. There is no deterministic state transition.
const (
	qRSSI0 = 0.0025 * 0.0025
	qN     = 0.0001 * 0.0001

	// minDistance guards the observation log term, matching the
	// path-loss model's clamp.
	minDistance = 1e-6
)

// Filter carries the 2x2 state covariance for one anchor's (RSSI0, n)
// estimate. The state itself lives on the anchor; the filter owns only
// the uncertainty about it. The covariance stays symmetric
// positive-definite across updates given positive Q and R.
type Filter struct {
	// Covariance P, row-major.
	p00, p01, p10, p11 float64

	d0 float64 // path-loss reference distance
	r  float64 // measurement noise R = sigma^2
}

// New returns a filter with the initial covariance diag(1.0, 0.1):
// roughly 1 dB^2 of intercept uncertainty and a loosely known exponent.
func New(d0, sigma float64) *Filter {
	return &Filter{
		p00: 1.0,
		p11: 0.1,
		d0:  d0,
		r:   sigma * sigma,
	}
}

// Step folds one observation into the estimate and returns the
// posterior (rssi0, n). rssi is the measured signal strength (dBm) and
// dist the estimated tag-to-anchor distance (metres).
func (f *Filter) Step(rssi0, n, rssi, dist float64) (float64, float64) {
	// Inflate: P <- P + Q.
	f.p00 += qRSSI0
	f.p11 += qN

	// Observation row H = [1, x], the gradient of the path-loss mean
	// with respect to (RSSI0, n).
	x := -10 * math.Log10(math.Max(dist, minDistance)/f.d0)

	// Innovation against the predicted measurement H*x_prior.
	resid := rssi - (rssi0 + x*n)

	// Innovation variance S = H*P*H^T + R, a strictly positive scalar.
	ph0 := f.p00 + f.p01*x
	ph1 := f.p10 + f.p11*x
	s := ph0 + x*ph1 + f.r

	// Gain K = P*H^T / S.
	k0 := ph0 / s
	k1 := ph1 / s

	// Posterior state.
	rssi0 += k0 * resid
	n += k1 * resid

	// Posterior covariance P <- (I - K*H) * P.
	p00 := (1-k0)*f.p00 - k0*x*f.p10
	p01 := (1-k0)*f.p01 - k0*x*f.p11
	p10 := (1-k1*x)*f.p10 - k1*f.p00
	p11 := (1-k1*x)*f.p11 - k1*f.p01
	f.p00, f.p01, f.p10, f.p11 = p00, p01, p10, p11

	return rssi0, n
}

// Covariance returns the current covariance matrix in row-major order
// [p00, p01, p10, p11].
func (f *Filter) Covariance() [4]float64 {
	return [4]float64{f.p00, f.p01, f.p10, f.p11}
}

// CovarianceTrace returns the trace of the covariance matrix, a scalar
// summary of remaining parameter uncertainty.
func (f *Filter) CovarianceTrace() float64 {
	return f.p00 + f.p11
}
