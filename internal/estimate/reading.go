// Package estimate turns one tag position message into a probabilistic
// error radius. It selects the trustworthy anchors for the message,
// recalibrates their path-loss parameters online, maintains their
// reliability scores, and maps the agreement between measured and
// predicted signal strengths to a CEP95 error radius.
package estimate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/beacon.report/internal/geom"
)

// ErrNoReading is returned when a reading for a specific anchor is
// requested but the message did not include one.
var ErrNoReading = errors.New("no reading for anchor")

// Reading is one tag position message as consumed by the estimator:
// the tag's identity, its upstream-estimated position, and the RSSI
// each anchor heard it at. Constructed per message and discarded.
type Reading struct {
	TagMac    string
	Position  geom.Point
	RSSI      map[string]float64 // anchor MAC -> dBm
	Timestamp time.Time
}

// RSSIFor returns the signal strength reported for one anchor.
func (r Reading) RSSIFor(mac string) (float64, error) {
	v, ok := r.RSSI[mac]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoReading, mac)
	}
	return v, nil
}

// AnchorMacs lists the anchors heard in this message, sorted for
// deterministic iteration.
func (r Reading) AnchorMacs() []string {
	macs := make([]string, 0, len(r.RSSI))
	for mac := range r.RSSI {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

// maxRSSI returns the strongest reading in the message, and false if
// the message carries no readings at all.
func (r Reading) maxRSSI() (float64, bool) {
	first := true
	var max float64
	for _, v := range r.RSSI {
		if first || v > max {
			max = v
			first = false
		}
	}
	return max, !first
}
