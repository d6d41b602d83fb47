package estimate

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/beacon.report/internal/anchor"
	"github.com/banshee-data/beacon.report/internal/geom"
)

// Distances returns the tag-to-anchor Euclidean distance for each
// selected anchor, keyed by MAC.
func (p *Processor) Distances(reading Reading, selected []*anchor.Anchor) map[string]float64 {
	dists := make(map[string]float64, len(selected))
	for _, a := range selected {
		dists[a.Mac] = geom.Distance(a.Pos, reading.Position)
	}
	return dists
}

// ZVals returns the standardized residual for each selected anchor
// using its current (RSSI0, n) parameters, keyed by MAC.
func (p *Processor) ZVals(reading Reading, selected []*anchor.Anchor) map[string]float64 {
	zs := make(map[string]float64, len(selected))
	for _, a := range selected {
		rssi, err := reading.RSSIFor(a.Mac)
		if err != nil {
			continue
		}
		dist := geom.Distance(a.Pos, reading.Position)
		zs[a.Mac] = p.model.Z(rssi, a.RSSI0, a.N, dist)
	}
	return zs
}

// ConfidenceScore aggregates the selected anchors' standardized
// residuals into a single score in (0, 1]. Each residual is scored by
// the Student-t log-density (heavy-tailed, so a single outlier does not
// collapse the score); the mean log-density l maps to exp(l/scale).
// An empty selection yields 0.
func (p *Processor) ConfidenceScore(reading Reading, selected []*anchor.Anchor) float64 {
	zs := p.ZVals(reading, selected)
	if len(zs) == 0 {
		return 0.0
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: p.params.StudentTDOF}
	sum := 0.0
	for _, z := range zs {
		sum += dist.LogProb(z)
	}
	l := sum / float64(len(zs))
	return math.Exp(l / p.params.ConfidenceScale)
}
