package transform

import (
	"fmt"
	"math"
)

// Composite applies a sequence of transforms in order: the first step is
// applied to the input point, the last step produces the result.
type Composite struct {
	dim   int
	steps []Transform
}

// Chain builds a Composite applying steps left to right. All steps must
// share one dimension.
func Chain(steps ...Transform) (*Composite, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty transform chain")
	}
	dim := steps[0].Dimension()
	for i, s := range steps {
		if s.Dimension() != dim {
			return nil, fmt.Errorf("transform %d is %dD, chain is %dD", i, s.Dimension(), dim)
		}
	}
	return &Composite{dim: dim, steps: append([]Transform(nil), steps...)}, nil
}

// Dimension returns the dimension of the chain.
func (c *Composite) Dimension() int { return c.dim }

// Steps returns the transforms in application order.
func (c *Composite) Steps() []Transform {
	return append([]Transform(nil), c.steps...)
}

// TransformPoint applies every step in order.
func (c *Composite) TransformPoint(p []float64) []float64 {
	out := append([]float64(nil), p...)
	for _, s := range c.steps {
		out = s.TransformPoint(out)
	}
	return out
}

// Flatten collapses a chain of affines into one. ok is false when a step
// is not affine.
func (c *Composite) Flatten() (*Affine, bool) {
	var acc *Affine
	for _, s := range c.steps {
		var a *Affine
		switch t := s.(type) {
		case *Affine:
			a = t
		case *Composite:
			flat, ok := t.Flatten()
			if !ok {
				return nil, false
			}
			a = flat
		default:
			return nil, false
		}
		if acc == nil {
			acc = a
			continue
		}
		next, err := acc.Then(a)
		if err != nil {
			return nil, false
		}
		acc = next
	}
	return acc, acc != nil
}

// AsAffine returns t as a single affine when it is one or a chain of them.
func AsAffine(t Transform) (*Affine, bool) {
	switch v := t.(type) {
	case *Affine:
		return v, true
	case *Composite:
		return v.Flatten()
	}
	return nil, false
}

// Pair holds two transforms that are supposed to be mutual inverses, both
// supplied by the data source. Neither is recomputed from the other.
type Pair struct {
	Forward *Affine
	Inverse *Affine
}

// NewPair builds both transforms of a redundant pair from their parameters.
func NewPair(dim int, forward, inverse []float64) (*Pair, error) {
	f, err := NewAffine(dim, forward)
	if err != nil {
		return nil, fmt.Errorf("forward transform: %w", err)
	}
	i, err := NewAffine(dim, inverse)
	if err != nil {
		return nil, fmt.Errorf("inverse transform: %w", err)
	}
	return &Pair{Forward: f, Inverse: i}, nil
}

// Residual is the largest distance |Forward(Inverse(p)) - p| or
// |Inverse(Forward(p)) - p| over the sample points.
func (p *Pair) Residual(points [][]float64) float64 {
	worst := 0.0
	for _, q := range points {
		worst = math.Max(worst, distance(p.Forward.TransformPoint(p.Inverse.TransformPoint(q)), q))
		worst = math.Max(worst, distance(p.Inverse.TransformPoint(p.Forward.TransformPoint(q)), q))
	}
	return worst
}

// BoxCorners returns the 2^dim corners of the box [0, extent[i]].
func BoxCorners(extent []float64) [][]float64 {
	dim := len(extent)
	corners := make([][]float64, 0, 1<<dim)
	for mask := 0; mask < 1<<dim; mask++ {
		c := make([]float64, dim)
		for i := 0; i < dim; i++ {
			if mask&(1<<i) != 0 {
				c[i] = extent[i]
			}
		}
		corners = append(corners, c)
	}
	return corners
}

func distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
