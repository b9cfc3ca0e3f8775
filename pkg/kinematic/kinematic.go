package kinematic

// This package includes the vector helpers used to predict and smooth replicated motion.

import (
	"math"
)

// Vector is a 2D quantity in world units (position) or world units per second (velocity).
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y}
}

func (v Vector) Scale(f float64) Vector {
	return Vector{X: v.X * f, Y: v.Y * f}
}

// Length returns the euclidean norm of the vector.
func (v Vector) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

// Distance returns the straight-line distance between two positions.
func Distance(a, b Vector) float64 {
	return b.Sub(a).Length()
}

// Predict dead-reckons a position forward by elapsed seconds at a constant velocity.
func Predict(position Vector, velocity Vector, elapsed float64) Vector {
	return position.Add(velocity.Scale(elapsed))
}

// Lerp returns the point a fraction t of the way from a to b.
func Lerp(a, b Vector, t float64) Vector {
	return a.Add(b.Sub(a).Scale(t))
}
