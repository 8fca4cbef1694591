// Package transform provides affine transforms in physical space, built
// from the flat parameter vectors used by ITK and the brain-map alignment
// records, together with composition and the ITK text transform format.
//
// An affine transform of dimension n maps a point p to
//
//	T(p) = M (p - c) + t + c
//
// where M is the n x n matrix (row-major in the parameter vector), t the
// translation (the last n parameters) and c the fixed center, zero unless
// given explicitly.
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform maps points between physical spaces of equal dimension.
type Transform interface {
	Dimension() int
	// TransformPoint returns the image of p. p is not modified.
	TransformPoint(p []float64) []float64
}

// Affine is an immutable affine transform. Its inverse is computed on first
// request and cached.
type Affine struct {
	dim         int
	matrix      *mat.Dense
	translation []float64
	center      []float64

	inverse *Affine
}

// NumParameters returns the length of the parameter vector for dimension dim.
func NumParameters(dim int) int {
	return dim*dim + dim
}

// NewAffine creates a transform from dim*dim matrix entries followed by dim
// translation components. The center is the origin.
func NewAffine(dim int, params []float64) (*Affine, error) {
	return NewAffineWithCenter(dim, params, nil)
}

// NewAffineWithCenter is NewAffine with an explicit fixed center. A nil
// center is the origin.
func NewAffineWithCenter(dim int, params, center []float64) (*Affine, error) {
	if dim < 1 {
		return nil, fmt.Errorf("invalid transform dimension %d", dim)
	}
	if len(params) != NumParameters(dim) {
		return nil, fmt.Errorf("affine transform of dimension %d needs %d parameters, got %d",
			dim, NumParameters(dim), len(params))
	}
	if center != nil && len(center) != dim {
		return nil, fmt.Errorf("affine center has %d components, expected %d", len(center), dim)
	}
	for i, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("affine parameter %d is not finite", i)
		}
	}

	m := mat.NewDense(dim, dim, append([]float64(nil), params[:dim*dim]...))
	a := &Affine{
		dim:         dim,
		matrix:      m,
		translation: append([]float64(nil), params[dim*dim:]...),
		center:      make([]float64, dim),
	}
	copy(a.center, center)
	return a, nil
}

// Identity returns the identity transform of dimension dim.
func Identity(dim int) *Affine {
	params := make([]float64, NumParameters(dim))
	for i := 0; i < dim; i++ {
		params[i*dim+i] = 1
	}
	a, _ := NewAffine(dim, params)
	return a
}

// Dimension returns the dimension of the transform.
func (a *Affine) Dimension() int { return a.dim }

// Parameters returns a copy of the matrix entries followed by the translation.
func (a *Affine) Parameters() []float64 {
	params := make([]float64, 0, NumParameters(a.dim))
	for i := 0; i < a.dim; i++ {
		params = append(params, a.matrix.RawRowView(i)...)
	}
	return append(params, a.translation...)
}

// Center returns a copy of the fixed center.
func (a *Affine) Center() []float64 {
	return append([]float64(nil), a.center...)
}

// Matrix returns a copy of the linear part.
func (a *Affine) Matrix() *mat.Dense {
	return mat.DenseCopyOf(a.matrix)
}

// Offset returns o such that T(p) = M p + o.
func (a *Affine) Offset() []float64 {
	c := mat.NewVecDense(a.dim, append([]float64(nil), a.center...))
	var mc mat.VecDense
	mc.MulVec(a.matrix, c)
	o := make([]float64, a.dim)
	for i := range o {
		o[i] = a.translation[i] + a.center[i] - mc.AtVec(i)
	}
	return o
}

// TransformPoint applies the transform to p.
func (a *Affine) TransformPoint(p []float64) []float64 {
	out := make([]float64, a.dim)
	for i := 0; i < a.dim; i++ {
		row := a.matrix.RawRowView(i)
		v := a.translation[i] + a.center[i]
		for j := 0; j < a.dim; j++ {
			v += row[j] * (p[j] - a.center[j])
		}
		out[i] = v
	}
	return out
}

// Inverse returns the inverse transform. It fails if the matrix is singular.
func (a *Affine) Inverse() (*Affine, error) {
	if a.inverse != nil {
		return a.inverse, nil
	}
	var inv mat.Dense
	if err := inv.Inverse(a.matrix); err != nil {
		return nil, fmt.Errorf("affine transform is not invertible: %w", err)
	}

	offset := mat.NewVecDense(a.dim, a.Offset())
	var invOffset mat.VecDense
	invOffset.MulVec(&inv, offset)

	params := make([]float64, 0, NumParameters(a.dim))
	for i := 0; i < a.dim; i++ {
		params = append(params, inv.RawRowView(i)...)
	}
	for i := 0; i < a.dim; i++ {
		params = append(params, -invOffset.AtVec(i))
	}
	b, err := NewAffine(a.dim, params)
	if err != nil {
		return nil, err
	}
	b.inverse = a
	a.inverse = b
	return b, nil
}

// Then returns the affine equivalent to applying a first and next second.
func (a *Affine) Then(next *Affine) (*Affine, error) {
	if next.dim != a.dim {
		return nil, fmt.Errorf("cannot compose %dD and %dD transforms", a.dim, next.dim)
	}
	var m mat.Dense
	m.Mul(next.matrix, a.matrix)

	var mo mat.VecDense
	mo.MulVec(next.matrix, mat.NewVecDense(a.dim, a.Offset()))
	nextOffset := next.Offset()

	params := make([]float64, 0, NumParameters(a.dim))
	for i := 0; i < a.dim; i++ {
		params = append(params, m.RawRowView(i)...)
	}
	for i := 0; i < a.dim; i++ {
		params = append(params, mo.AtVec(i)+nextOffset[i])
	}
	return NewAffine(a.dim, params)
}

func (a *Affine) String() string {
	return fmt.Sprintf("Affine%dD%v center=%v", a.dim, a.Parameters(), a.center)
}
