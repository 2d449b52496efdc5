// Package vec provides the fixed-size vector and tensor types used for
// positions, distances, gradients and virials. All types are small values
// meant to be passed and returned by value.
package vec

import "math"

// Vec is a vector in a three dimensional space.
type Vec [3]float64

// Add returns the sum v + w.
func (v Vec) Add(w Vec) Vec {
	return Vec{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns the difference v - w.
func (v Vec) Sub(w Vec) Vec {
	return Vec{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns the vector v multiplied by the scalar s.
func (v Vec) Scale(s float64) Vec {
	return Vec{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the scalar product of v and w.
func (v Vec) Dot(w Vec) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Norm2 returns the squared modulus of v.
func (v Vec) Norm2() float64 {
	return v.Dot(v)
}

// Norm returns the modulus of v.
func (v Vec) Norm() float64 {
	return math.Sqrt(v.Norm2())
}
