// internal/humanoid/vector.go
package humanoid

import "math"

// Vector2D represents a point or vector in a 2D Cartesian coordinate system.
// It is used throughout the simulation for positions, velocities, and offsets.
type Vector2D struct {
	// X is the horizontal component of the vector.
	X float64
	// Y is the vertical component of the vector.
	Y float64
}

// Add performs vector addition, returning a new Vector2D `v + other`.
func (v Vector2D) Add(other Vector2D) Vector2D {
	return Vector2D{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub performs vector subtraction, returning a new Vector2D `v - other`.
func (v Vector2D) Sub(other Vector2D) Vector2D {
	return Vector2D{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul performs scalar multiplication, returning a new Vector2D `v * scalar`.
func (v Vector2D) Mul(scalar float64) Vector2D {
	return Vector2D{X: v.X * scalar, Y: v.Y * scalar}
}

// MagSq calculates the squared magnitude of the vector. Cheaper than Mag()
// for distance comparisons as it avoids the square root.
func (v Vector2D) MagSq() float64 {
	return v.X*v.X + v.Y*v.Y
}

// Mag calculates the magnitude (Euclidean length) of the vector.
func (v Vector2D) Mag() float64 {
	// math.Hypot for numerical stability with very large or small components.
	return math.Hypot(v.X, v.Y)
}

// Normalize returns a unit vector with the same direction as `v`. If `v` is
// the zero vector, it returns the zero vector.
func (v Vector2D) Normalize() Vector2D {
	mag := v.Mag()
	if mag < 1e-9 {
		return Vector2D{}
	}
	return v.Mul(1.0 / mag)
}

// Dist calculates the Euclidean distance between the points `v` and `other`.
func (v Vector2D) Dist(other Vector2D) float64 {
	return math.Hypot(v.X-other.X, v.Y-other.Y)
}

// Perp returns the vector rotated 90 degrees counter-clockwise. Used to apply
// wobble perpendicular to the direction of travel.
func (v Vector2D) Perp() Vector2D {
	return Vector2D{X: -v.Y, Y: v.X}
}
