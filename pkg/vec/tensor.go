package vec

// Tensor is a 3x3 tensor stored by rows. It is used for the virial and for
// the derivative of a scalar with respect to the simulation box.
type Tensor [3][3]float64

// Identity returns the identity tensor.
func Identity() Tensor {
	return Tensor{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Outer returns the dyadic product a (x) b, that is t[i][j] = a[i]*b[j].
func Outer(a, b Vec) Tensor {
	var t Tensor
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = a[i] * b[j]
		}
	}
	return t
}

// Add returns the sum t + u.
func (t Tensor) Add(u Tensor) Tensor {
	var r Tensor
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[i][j] + u[i][j]
		}
	}
	return r
}

// Sub returns the difference t - u.
func (t Tensor) Sub(u Tensor) Tensor {
	var r Tensor
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[i][j] - u[i][j]
		}
	}
	return r
}

// Scale returns the tensor t multiplied by the scalar s.
func (t Tensor) Scale(s float64) Tensor {
	var r Tensor
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[i][j] * s
		}
	}
	return r
}

// MulVec returns the matrix-vector product t*v.
func (t Tensor) MulVec(v Vec) Vec {
	var r Vec
	for i := 0; i < 3; i++ {
		r[i] = t[i][0]*v[0] + t[i][1]*v[1] + t[i][2]*v[2]
	}
	return r
}

// Transpose returns the transposed tensor.
func (t Tensor) Transpose() Tensor {
	var r Tensor
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[j][i]
		}
	}
	return r
}

// Trace returns the sum of the diagonal elements.
func (t Tensor) Trace() float64 {
	return t[0][0] + t[1][1] + t[2][2]
}

// Det returns the determinant of t.
func (t Tensor) Det() float64 {
	return t[0][0]*(t[1][1]*t[2][2]-t[1][2]*t[2][1]) -
		t[0][1]*(t[1][0]*t[2][2]-t[1][2]*t[2][0]) +
		t[0][2]*(t[1][0]*t[2][1]-t[1][1]*t[2][0])
}
