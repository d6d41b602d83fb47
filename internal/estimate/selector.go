package estimate

import (
	"sort"

	"github.com/banshee-data/beacon.report/internal/anchor"
)

// SignificantAnchors picks the anchors trustworthy enough to contribute
// to this message: the anchor must have a reading, the reading must be
// within windowDB of the strongest reading in the message, and the
// anchor's reliability EWMA must be below ewmaThreshold. The result is
// ordered strongest-first and truncated to maxN. Readings for MACs not
// in the registry are skipped silently; an empty reading map yields an
// empty selection.
func SignificantAnchors(reading Reading, anchors map[string]*anchor.Anchor, windowDB, ewmaThreshold float64, maxN int) []*anchor.Anchor {
	max, ok := reading.maxRSSI()
	if !ok {
		return nil
	}

	var keep []*anchor.Anchor
	for _, mac := range reading.AnchorMacs() {
		a, ok := anchors[mac]
		if !ok {
			continue
		}
		if reading.RSSI[mac] < max-windowDB {
			continue
		}
		if a.EWMA >= ewmaThreshold {
			continue
		}
		keep = append(keep, a)
	}

	sort.SliceStable(keep, func(i, j int) bool {
		return reading.RSSI[keep[i].Mac] > reading.RSSI[keep[j].Mac]
	})
	if len(keep) > maxN {
		keep = keep[:maxN]
	}
	return keep
}
