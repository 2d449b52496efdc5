// Package box holds the orthorhombic periodic simulation cell. It provides
// the minimum-image convention used for every pairwise distance and the cell
// volume used to derive the density.
package box

import (
	"fmt"
	"math"

	"github.com/kpotier/pairentropy/pkg/vec"
)

// Box is an orthorhombic periodic cell described by its three edge lengths.
type Box struct {
	L vec.Vec
}

// New returns a Box with the given edge lengths. The lengths must be
// strictly positive.
func New(lx, ly, lz float64) (Box, error) {
	if lx <= 0 || ly <= 0 || lz <= 0 {
		return Box{}, fmt.Errorf("box edges must be positive (got %v %v %v)", lx, ly, lz)
	}
	return Box{L: vec.Vec{lx, ly, lz}}, nil
}

// Volume returns the volume of the cell.
func (b Box) Volume() float64 {
	return b.L[0] * b.L[1] * b.L[2]
}

// MinImage folds the distance vector d into the minimum-image convention.
func (b Box) MinImage(d vec.Vec) vec.Vec {
	for k := 0; k < 3; k++ {
		d[k] -= b.L[k] * math.Round(d[k]/b.L[k])
	}
	return d
}

// Distance returns the minimum-image distance vector from a to c.
func (b Box) Distance(a, c vec.Vec) vec.Vec {
	return b.MinImage(c.Sub(a))
}

// Scale returns the cell rescaled isotropically by s. It is mostly useful to
// probe the volume dependence of a quantity.
func (b Box) Scale(s float64) Box {
	return Box{L: b.L.Scale(s)}
}
