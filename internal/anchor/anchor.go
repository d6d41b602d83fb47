// Package anchor holds the mutable per-receiver state of the error
// estimation pipeline: each fixed receiver's surveyed position, its
// online-calibrated path-loss parameters, and its reliability score.
package anchor

import (
	"time"

	"github.com/banshee-data/beacon.report/internal/geom"
	"github.com/banshee-data/beacon.report/internal/kalman"
	"github.com/banshee-data/beacon.report/internal/pathloss"
)

// Factory defaults for a freshly bootstrapped anchor. State is
// in-memory only and resets to these on restart.
const (
	DefaultRSSI0 = -59.0
	DefaultN     = 2.0
	DefaultEWMA  = 1.0
)

// Health classification thresholds on the EWMA of squared standardized
// residuals. A higher EWMA means a track record of larger residuals.
const (
	WarningThreshold = 4.0
	FaultyThreshold  = 8.0
)

// HealthState is the coarse reliability classification of an anchor.
type HealthState string

const (
	Healthy HealthState = "healthy"
	Warning HealthState = "warning"
	Faulty  HealthState = "faulty"
)

// Anchor is one fixed receiver. Created once at bootstrap and mutated
// per message for the process lifetime; the core never destroys one.
// All mutation happens under the owning Registry's write lock.
type Anchor struct {
	Mac string
	Pos geom.Point

	// Path-loss parameters, recalibrated online while AdaptiveMode is
	// set. Frozen otherwise.
	RSSI0        float64
	N            float64
	AdaptiveMode bool

	// EWMA of squared standardized residuals. Starts "healthy" at 1.
	EWMA float64

	// LastSeen is the time of the last accepted health update. Zero
	// until the anchor first passes the health gates.
	LastSeen time.Time

	// MessageCount counts messages that reached this anchor's
	// parameter update, whether or not AdaptiveMode applied it.
	MessageCount int64

	filter *kalman.Filter
}

// New returns an adaptive anchor at the given position with factory
// default parameters and a fresh estimator.
func New(mac string, pos geom.Point, model pathloss.Model) *Anchor {
	return &Anchor{
		Mac:          mac,
		Pos:          pos,
		RSSI0:        DefaultRSSI0,
		N:            DefaultN,
		AdaptiveMode: true,
		EWMA:         DefaultEWMA,
		filter:       kalman.New(model.D0, model.Sigma),
	}
}

// UpdateHealth folds one standardized residual into the reliability
// score and stamps the observation time.
func (a *Anchor) UpdateHealth(z float64, now time.Time, lambda float64) {
	a.EWMA = lambda*z*z + (1-lambda)*a.EWMA
	a.LastSeen = now
}

// UpdateParameters runs one estimator step if the anchor is adaptive,
// overwriting (RSSI0, N). The message counter advances either way.
func (a *Anchor) UpdateParameters(rssi, dist float64) {
	if a.AdaptiveMode {
		a.RSSI0, a.N = a.filter.Step(a.RSSI0, a.N, rssi, dist)
	}
	a.MessageCount++
}

// IsWarning reports whether the anchor's reliability has degraded into
// the warning band.
func (a *Anchor) IsWarning() bool {
	return a.EWMA >= WarningThreshold && a.EWMA < FaultyThreshold
}

// IsFaulty reports whether the anchor is considered unreliable.
func (a *Anchor) IsFaulty() bool {
	return a.EWMA >= FaultyThreshold
}

// State returns the coarse health classification.
func (a *Anchor) State() HealthState {
	switch {
	case a.IsFaulty():
		return Faulty
	case a.IsWarning():
		return Warning
	default:
		return Healthy
	}
}
