// Package ingest receives position-engine messages and fans them out to
// subscribers. A message carries one tag's position fix plus the RSSI
// observations the engine used (and rejected) to produce it.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/beacon.report/internal/estimate"
	"github.com/banshee-data/beacon.report/internal/geom"
	"github.com/banshee-data/beacon.report/internal/monitoring"
	"github.com/banshee-data/beacon.report/internal/units"
)

// Message is one parsed position-engine report.
type Message struct {
	Reading estimate.Reading
	// DiscoveredMacs lists every anchor MAC the engine mentioned, used or
	// not. Unused anchors carry no usable RSSI for estimation but still
	// need a registry entry so their health can be tracked once they do
	// contribute.
	DiscoveredMacs []string
}

// anchorObservation is the wire form of one anchor's RSSI sample.
type anchorObservation struct {
	Mac  string  `json:"mac"`
	RSSI float64 `json:"rssi"`
}

// positionReport mirrors the position engine's JSON output. Only the
// fields we consume are declared.
type positionReport struct {
	Location struct {
		Position struct {
			X             float64             `json:"x"`
			Y             float64             `json:"y"`
			Z             float64             `json:"z"`
			UsedAnchors   []anchorObservation `json:"used_anchors"`
			UnusedAnchors []anchorObservation `json:"unused_anchors"`
		} `json:"position"`
	} `json:"location"`
	Tag struct {
		Mac string `json:"mac"`
	} `json:"tag"`
	// Timestamp is epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// ParseMessage decodes one position-engine report. Messages without a
// tag MAC or without any used anchors are rejected; they carry nothing
// the estimator can act on.
func ParseMessage(data []byte) (Message, error) {
	var report positionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return Message{}, fmt.Errorf("failed to parse position report: %w", err)
	}
	if report.Tag.Mac == "" {
		return Message{}, fmt.Errorf("position report missing tag MAC")
	}
	pos := report.Location.Position
	if len(pos.UsedAnchors) == 0 {
		return Message{}, fmt.Errorf("position report for %s has no used anchors", report.Tag.Mac)
	}

	rssi := make(map[string]float64, len(pos.UsedAnchors))
	seen := make(map[string]bool, len(pos.UsedAnchors)+len(pos.UnusedAnchors))
	var macs []string
	for _, obs := range pos.UsedAnchors {
		if !units.ValidRSSI(obs.RSSI) {
			monitoring.Logf("ingest: dropping implausible reading %s from %s", units.FormatDbm(obs.RSSI), obs.Mac)
			continue
		}
		rssi[obs.Mac] = obs.RSSI
		if !seen[obs.Mac] {
			seen[obs.Mac] = true
			macs = append(macs, obs.Mac)
		}
	}
	if len(rssi) == 0 {
		return Message{}, fmt.Errorf("position report for %s has no plausible readings", report.Tag.Mac)
	}
	for _, obs := range pos.UnusedAnchors {
		if !seen[obs.Mac] {
			seen[obs.Mac] = true
			macs = append(macs, obs.Mac)
		}
	}

	return Message{
		Reading: estimate.Reading{
			TagMac:    report.Tag.Mac,
			Position:  geom.Point{X: pos.X, Y: pos.Y, Z: pos.Z},
			RSSI:      rssi,
			Timestamp: time.UnixMilli(report.Timestamp),
		},
		DiscoveredMacs: macs,
	}, nil
}
