package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 4x4 homogeneous transform. The zero value is the identity.
// An Affine is never modified after construction, so copies may share storage.
type Affine struct {
	m *mat.Dense
}

// IdentityAffine returns the identity transform
func IdentityAffine() Affine {
	return AffineFromRows([16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// NewAffine returns an axis-aligned index-to-world transform with the given
// voxel spacing (mm) and world position of voxel (0,0,0).
func NewAffine(spacing, origin [3]float64) Affine {
	return AffineFromRows([16]float64{
		spacing[0], 0, 0, origin[0],
		0, spacing[1], 0, origin[1],
		0, 0, spacing[2], origin[2],
		0, 0, 0, 1,
	})
}

// AffineFromRows builds a transform from 16 values in row-major order
func AffineFromRows(rows [16]float64) Affine {
	data := make([]float64, 16)
	copy(data, rows[:])
	return Affine{m: mat.NewDense(4, 4, data)}
}

func (a Affine) matrix() *mat.Dense {
	if a.m == nil {
		return IdentityAffine().m
	}
	return a.m
}

// Rows returns the transform in row-major order
func (a Affine) Rows() [16]float64 {
	var out [16]float64
	m := a.matrix()
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = m.At(r, c)
		}
	}
	return out
}

// Apply transforms the point p
func (a Affine) Apply(p [3]float64) [3]float64 {
	r := a.Rows()
	return applyRows(&r, p)
}

func applyRows(r *[16]float64, p [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = r[i*4]*p[0] + r[i*4+1]*p[1] + r[i*4+2]*p[2] + r[i*4+3]
	}
	w := r[12]*p[0] + r[13]*p[1] + r[14]*p[2] + r[15]
	if w != 1 && w != 0 {
		for i := range out {
			out[i] /= w
		}
	}
	return out
}

// Mul returns the composed transform a·b, which applies b first
func (a Affine) Mul(b Affine) Affine {
	var out mat.Dense
	out.Mul(a.matrix(), b.matrix())
	return Affine{m: &out}
}

// Inverse returns the inverse transform. Singular transforms cannot be
// inverted and return an error.
func (a Affine) Inverse() (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.matrix()); err != nil {
		return Affine{}, fmt.Errorf("affine is not invertible: %w", err)
	}
	return Affine{m: &inv}, nil
}

// Equal reports whether all entries of a and b differ by at most tol
func (a Affine) Equal(b Affine, tol float64) bool {
	ra, rb := a.Rows(), b.Rows()
	for i := range ra {
		if math.Abs(ra[i]-rb[i]) > tol {
			return false
		}
	}
	return true
}
