// Package units provides shared RSSI unit helpers and sanity bounds for
// signal-strength values crossing the ingest and API boundaries.
package units

import (
	"fmt"
	"math"
)

// Plausible bounds for a BLE RSSI reading in dBm. Values outside this
// range indicate a corrupt or mis-scaled message rather than a weak
// signal.
const (
	MinRSSIDbm = -120.0
	MaxRSSIDbm = 0.0
)

// ValidRSSI reports whether a dBm reading is physically plausible.
func ValidRSSI(dbm float64) bool {
	return dbm >= MinRSSIDbm && dbm <= MaxRSSIDbm && !math.IsNaN(dbm)
}

// DbmToMilliwatts converts received power from dBm to milliwatts.
func DbmToMilliwatts(dbm float64) float64 {
	return math.Pow(10, dbm/10)
}

// MilliwattsToDbm converts received power from milliwatts to dBm.
// Non-positive power has no dBm representation and returns -Inf.
func MilliwattsToDbm(mw float64) float64 {
	if mw <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mw)
}

// FormatDbm renders a dBm value the way the dashboards display it.
func FormatDbm(dbm float64) string {
	return fmt.Sprintf("%.1f dBm", dbm)
}
