package estimate

// CEP95Knot is one point on the confidence -> error radius curve.
type CEP95Knot struct {
	Confidence float64
	Radius     float64
}

// CEP95Table maps a confidence score to a 95% error radius by
// piecewise-linear interpolation. Knots are ordered by strictly
// increasing confidence with strictly decreasing radius, so the mapped
// radius is monotonic non-increasing in confidence.
type CEP95Table []CEP95Knot

// DefaultCEP95Table returns the curve fitted from the site survey.
func DefaultCEP95Table() CEP95Table {
	return CEP95Table{
		{Confidence: 0.05, Radius: 7.4},
		{Confidence: 0.17, Radius: 6.1},
		{Confidence: 0.43, Radius: 4.3},
		{Confidence: 0.80, Radius: 2.5},
	}
}

// TableFromPairs builds a CEP95Table from [confidence, radius] pairs as
// carried in the tuning config.
func TableFromPairs(pairs [][2]float64) CEP95Table {
	t := make(CEP95Table, len(pairs))
	for i, p := range pairs {
		t[i] = CEP95Knot{Confidence: p[0], Radius: p[1]}
	}
	return t
}

// Radius converts a confidence score into an error radius in metres.
// Scores outside the table clamp to the end radii, so a confidence of
// zero degrades gracefully to the worst-case radius.
func (t CEP95Table) Radius(p float64) float64 {
	if len(t) == 0 {
		return 0
	}
	if p <= t[0].Confidence {
		return t[0].Radius
	}
	last := t[len(t)-1]
	if p >= last.Confidence {
		return last.Radius
	}
	for i := 1; i < len(t); i++ {
		if t[i].Confidence > p {
			lo, hi := t[i-1], t[i]
			frac := (p - lo.Confidence) / (hi.Confidence - lo.Confidence)
			return lo.Radius + frac*(hi.Radius-lo.Radius)
		}
	}
	return last.Radius
}
