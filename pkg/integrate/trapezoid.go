// Package integrate implements the trapezoid rule over evenly spaced
// samples. One generic routine covers scalar, vector and tensor valued
// integrands so the three cannot drift apart.
package integrate

// Summable is any additive, scalar-multipliable value. vec.Vec and
// vec.Tensor satisfy it directly; float64 goes through Scalar.
type Summable[T any] interface {
	Add(T) T
	Scale(float64) T
}

// Scalar adapts float64 to the Summable constraint.
type Scalar float64

// Add returns s + t.
func (s Scalar) Add(t Scalar) Scalar { return s + t }

// Scale returns s * x.
func (s Scalar) Scale(x float64) Scalar { return s * Scalar(x) }

// Trapezoid integrates samples spaced by delta with the trapezoid rule:
// delta * (0.5*s[0] + s[1] + ... + s[n-2] + 0.5*s[n-1]). An empty sequence
// integrates to the zero value.
func Trapezoid[T Summable[T]](samples []T, delta float64) T {
	var result T
	if len(samples) == 0 {
		return result
	}
	for i := 1; i < len(samples)-1; i++ {
		result = result.Add(samples[i])
	}
	result = result.Add(samples[0].Scale(0.5))
	result = result.Add(samples[len(samples)-1].Scale(0.5))
	return result.Scale(delta)
}
