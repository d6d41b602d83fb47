package estimate

import (
	"time"

	"github.com/banshee-data/beacon.report/internal/anchor"
	"github.com/banshee-data/beacon.report/internal/config"
	"github.com/banshee-data/beacon.report/internal/geom"
	"github.com/banshee-data/beacon.report/internal/pathloss"
)

// Params bundles the gating and confidence tunables for the processor.
type Params struct {
	// Selection gate: dB window below the strongest reading plus the
	// EWMA reliability cutoff, truncated to MaxSignificant anchors.
	SelectionWindowDB float64
	EWMAThreshold     float64
	MaxSignificant    int

	// Health gate: tighter signal window and a visibility timeout.
	// An anchor can feed recalibration yet be skipped for health.
	DeltaRDB float64
	TVis     time.Duration

	Lambda float64 // reliability EWMA decay

	// Confidence model
	StudentTDOF     float64
	ConfidenceScale float64
	Table           CEP95Table
}

// DefaultParams returns the production tuning.
func DefaultParams() Params {
	return Params{
		SelectionWindowDB: 10.0,
		EWMAThreshold:     8.0,
		MaxSignificant:    5,
		DeltaRDB:          7.0,
		TVis:              6000 * time.Second,
		Lambda:            0.05,
		StudentTDOF:       5.0,
		ConfidenceScale:   2.0,
		Table:             DefaultCEP95Table(),
	}
}

// ParamsFromTuning builds Params from a loaded TuningConfig. Use this
// in production code where the TuningConfig is already loaded.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		SelectionWindowDB: cfg.GetSelectionWindowDB(),
		EWMAThreshold:     cfg.GetEWMAThreshold(),
		MaxSignificant:    cfg.GetMaxSignificantAnchors(),
		DeltaRDB:          cfg.GetDeltaRDB(),
		TVis:              cfg.GetTVis(),
		Lambda:            cfg.GetEWMALambda(),
		StudentTDOF:       cfg.GetStudentTDOF(),
		ConfidenceScale:   cfg.GetConfidenceScale(),
		Table:             TableFromPairs(cfg.GetCEP95Table()),
	}
}

// AnchorReport is the per-anchor slice of a published report.
type AnchorReport struct {
	Mac  string  `json:"mac"`
	NVar float64 `json:"n_var"`
	EWMA float64 `json:"ewma"`
}

// Report is the published result for one processed message.
type Report struct {
	TagMac         string         `json:"tag_mac"`
	ErrorEstimate  float64        `json:"error_estimate"` // metres
	Anchors        []AnchorReport `json:"anchors"`
	WarningAnchors []string       `json:"warning_anchors"`
	FaultyAnchors  []string       `json:"faulty_anchors"`

	// Confidence feeds the estimate store and the live stream but is
	// not part of the published engine payload.
	Confidence float64 `json:"-"`
}

// Processor sequences one tag message through anchor selection,
// parameter recalibration, health update and confidence scoring. It
// owns no anchor state; all mutation goes through the shared registry.
type Processor struct {
	model    pathloss.Model
	registry *anchor.Registry
	params   Params
}

// NewProcessor returns a processor over the given registry.
func NewProcessor(model pathloss.Model, registry *anchor.Registry, params Params) *Processor {
	return &Processor{model: model, registry: registry, params: params}
}

// Registry returns the shared anchor registry.
func (p *Processor) Registry() *anchor.Registry {
	return p.registry
}

// Process runs the full per-message sequence and returns the report.
// The registry write lock is held for the whole message, so concurrent
// messages cannot interleave parameter and health updates on a shared
// anchor.
func (p *Processor) Process(reading Reading, now time.Time) Report {
	rep := Report{TagMac: reading.TagMac}

	p.registry.Update(func(anchors map[string]*anchor.Anchor) {
		sig := SignificantAnchors(reading, anchors,
			p.params.SelectionWindowDB, p.params.EWMAThreshold, p.params.MaxSignificant)

		// Reported confidence and radius use the parameters as they
		// stood when the message arrived, not the recalibrated ones.
		rep.Confidence = p.ConfidenceScore(reading, sig)
		rep.ErrorEstimate = p.params.Table.Radius(rep.Confidence)

		// Recalibration: selection gate only.
		for _, a := range sig {
			rssi, err := reading.RSSIFor(a.Mac)
			if err != nil {
				continue
			}
			a.UpdateParameters(rssi, geom.Distance(a.Pos, reading.Position))
		}

		// Health: re-derive residuals against the post-recalibration
		// parameters, then apply the stricter deltaR and T_vis gates.
		// An anchor that has never been seen passes the visibility gate.
		zs := p.ZVals(reading, sig)
		if max, ok := reading.maxRSSI(); ok {
			for _, a := range sig {
				z, ok := zs[a.Mac]
				if !ok {
					continue
				}
				rssi := reading.RSSI[a.Mac]
				if max-rssi > p.params.DeltaRDB {
					continue
				}
				if !a.LastSeen.IsZero() && now.Sub(a.LastSeen) > p.params.TVis {
					continue
				}
				a.UpdateHealth(z, now, p.params.Lambda)
			}
		}

		// Snapshot every registered anchor heard in this message.
		for _, mac := range reading.AnchorMacs() {
			a, ok := anchors[mac]
			if !ok {
				continue
			}
			rep.Anchors = append(rep.Anchors, AnchorReport{Mac: a.Mac, NVar: a.N, EWMA: a.EWMA})
			if a.IsWarning() {
				rep.WarningAnchors = append(rep.WarningAnchors, a.Mac)
			}
			if a.IsFaulty() {
				rep.FaultyAnchors = append(rep.FaultyAnchors, a.Mac)
			}
		}
	})

	return rep
}
