package estimate

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/beacon.report/internal/anchor"
	"github.com/banshee-data/beacon.report/internal/geom"
	"github.com/banshee-data/beacon.report/internal/pathloss"
)

// logpdfT is the closed-form Student-t log-density the confidence model
// is defined by; the tests pin distuv against it.
func logpdfT(z, v float64) float64 {
	lg1, _ := math.Lgamma((v + 1) / 2)
	lg2, _ := math.Lgamma(v / 2)
	return lg1 - lg2 - 0.5*math.Log(v*math.Pi) - (v+1)/2*math.Log1p(z*z/v)
}

func TestStudentTLogDensityMatchesClosedForm(t *testing.T) {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 5}
	for _, z := range []float64{0, 0.5, 1, 2, 5, 10, -3} {
		want := logpdfT(z, 5)
		got := dist.LogProb(z)
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("LogProb(%v) = %v, want %v", z, got, want)
		}
	}
}

func TestStudentTLogDensityProperties(t *testing.T) {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: 5}

	// Symmetric in z.
	for _, z := range []float64{0.1, 1, 2.5, 7} {
		if got, want := dist.LogProb(z), dist.LogProb(-z); got != want {
			t.Errorf("LogProb(%v) = %v != LogProb(%v) = %v", z, got, -z, want)
		}
	}

	// Strictly decreasing in |z| and finite everywhere.
	prev := dist.LogProb(0)
	if math.IsInf(prev, 0) || math.IsNaN(prev) {
		t.Fatalf("LogProb(0) = %v, want finite", prev)
	}
	for z := 0.25; z <= 50; z += 0.25 {
		cur := dist.LogProb(z)
		if math.IsInf(cur, 0) || math.IsNaN(cur) {
			t.Fatalf("LogProb(%v) = %v, want finite", z, cur)
		}
		if cur >= prev {
			t.Fatalf("LogProb(%v) = %v, want < LogProb at previous z (%v)", z, cur, prev)
		}
		prev = cur
	}
}

func testProcessor(anchors ...*anchor.Anchor) *Processor {
	reg := anchor.NewRegistry()
	for _, a := range anchors {
		reg.Add(a)
	}
	return NewProcessor(pathloss.Default(), reg, DefaultParams())
}

func TestConfidenceEmptySelectionIsZero(t *testing.T) {
	p := testProcessor()
	reading := Reading{TagMac: "tag", RSSI: map[string]float64{}}
	if got := p.ConfidenceScore(reading, nil); got != 0.0 {
		t.Errorf("ConfidenceScore with empty selection = %v, want 0", got)
	}
}

func TestConfidencePerfectAgreement(t *testing.T) {
	model := pathloss.Default()
	a := anchor.New("a1", geom.Point{}, model)
	p := testProcessor(a)

	// Tag 1 m from the anchor measuring exactly the reference RSSI:
	// z = 0 and the confidence is exp(logpdf(0, 5)/2) exactly.
	reading := Reading{
		TagMac:   "tag",
		Position: geom.Point{X: 1},
		RSSI:     map[string]float64{"a1": -59},
	}
	want := math.Exp(logpdfT(0, 5) / 2)
	got := p.ConfidenceScore(reading, []*anchor.Anchor{a})
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("ConfidenceScore = %v, want %v", got, want)
	}
	if got <= 0 || got > 1 {
		t.Errorf("ConfidenceScore = %v, want in (0, 1]", got)
	}
}

func TestConfidenceDecreasesWithResidual(t *testing.T) {
	model := pathloss.Default()
	a := anchor.New("a1", geom.Point{}, model)
	p := testProcessor(a)

	sel := []*anchor.Anchor{a}
	pos := geom.Point{X: 1}
	perfect := p.ConfidenceScore(Reading{TagMac: "t", Position: pos, RSSI: map[string]float64{"a1": -59}}, sel)
	off := p.ConfidenceScore(Reading{TagMac: "t", Position: pos, RSSI: map[string]float64{"a1": -71}}, sel)
	wayOff := p.ConfidenceScore(Reading{TagMac: "t", Position: pos, RSSI: map[string]float64{"a1": -95}}, sel)

	if !(perfect > off && off > wayOff) {
		t.Errorf("confidence not decreasing with residual: %v, %v, %v", perfect, off, wayOff)
	}
	if wayOff <= 0 {
		t.Errorf("confidence = %v, want > 0 even for large residuals", wayOff)
	}
}

func TestDistancesRestrictedToSelection(t *testing.T) {
	model := pathloss.Default()
	a1 := anchor.New("a1", geom.Point{}, model)
	a2 := anchor.New("a2", geom.Point{X: 10}, model)
	p := testProcessor(a1, a2)

	reading := Reading{
		TagMac:   "tag",
		Position: geom.Point{X: 3, Y: 4},
		RSSI:     map[string]float64{"a1": -55, "a2": -60},
	}
	dists := p.Distances(reading, []*anchor.Anchor{a1})
	if len(dists) != 1 {
		t.Fatalf("Distances returned %d entries, want 1", len(dists))
	}
	if math.Abs(dists["a1"]-5) > 1e-12 {
		t.Errorf("Distances[a1] = %v, want 5", dists["a1"])
	}
}
