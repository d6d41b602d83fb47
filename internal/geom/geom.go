// Package geom provides the small amount of 3D geometry the estimation
// core needs: positions in the site frame (metres) and straight-line
// distance between them.
package geom

import "math"

// Point is a position in the site frame, metres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the Euclidean distance to another point.
func (p Point) DistanceTo(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return a.DistanceTo(b)
}
