package imaging

import (
	"fmt"
	"math"
	"strings"

	"sectionvolume/pkg/transform"
)

// Interpolator selects how input samples are combined.
type Interpolator int

const (
	// Linear is N-linear interpolation between the 2^N nearest voxels.
	Linear Interpolator = iota
	// NearestNeighbor picks the closest voxel, rounding halves up.
	NearestNeighbor
)

func (i Interpolator) String() string {
	switch i {
	case Linear:
		return "linear"
	case NearestNeighbor:
		return "nearest"
	}
	return fmt.Sprintf("Interpolator(%d)", int(i))
}

// ParseInterpolator accepts "linear" or "nearest".
func ParseInterpolator(s string) (Interpolator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return Linear, nil
	case "nearest", "nearestneighbor", "nearest_neighbor":
		return NearestNeighbor, nil
	}
	return 0, fmt.Errorf("unknown interpolator %q (want linear or nearest)", s)
}

// Resample produces an image on the grid of reference whose value at each
// output voxel is input sampled at tr(p), where p is the physical position
// of that voxel. tr therefore maps reference space into input space.
// Points falling outside the input buffer receive defaultValue. The result
// has the pixel type of input and the geometry of reference; integral
// samples are clamped and truncated.
func Resample(input, reference *Image, tr transform.Transform, interp Interpolator, defaultValue float32) (*Image, error) {
	dim := input.Dimension()
	if reference.Dimension() != dim {
		return nil, fmt.Errorf("cannot resample %dD image onto %dD grid", dim, reference.Dimension())
	}
	if tr == nil {
		tr = transform.Identity(dim)
	}
	if tr.Dimension() != dim {
		return nil, fmt.Errorf("%dD transform cannot resample %dD image", tr.Dimension(), dim)
	}

	out := NewLike(reference, input.ptype)
	mapIndex := indexMapper(input, reference, tr)

	sample := input.linearAt
	if interp == NearestNeighbor {
		sample = input.nearestAt
	}

	idx := make([]float64, dim)
	counter := make([]int, dim)
	for off := range out.data {
		for i, c := range counter {
			idx[i] = float64(c)
		}
		ci := mapIndex(idx)
		if input.insideBuffer(ci) {
			out.data[off] = input.ptype.Truncate(sample(ci))
		} else {
			out.data[off] = defaultValue
		}
		// advance the index counter, x fastest
		for i := 0; i < dim; i++ {
			counter[i]++
			if counter[i] < out.size[i] {
				break
			}
			counter[i] = 0
		}
	}
	return out, nil
}

// indexMapper returns the function taking an output index to an input
// continuous index. When the whole chain is affine it is folded into a
// single matrix evaluated per voxel.
func indexMapper(input, reference *Image, tr transform.Transform) func([]float64) []float64 {
	direct := func(idx []float64) []float64 {
		return input.PhysicalPointToContinuousIndex(tr.TransformPoint(reference.IndexToPhysicalPoint(idx)))
	}
	if _, ok := transform.AsAffine(tr); !ok {
		return direct
	}

	dim := input.Dimension()
	// The composite index map is affine: recover it from the images of
	// the origin and the unit vectors.
	zero := make([]float64, dim)
	b := direct(zero)
	cols := make([][]float64, dim)
	for j := 0; j < dim; j++ {
		e := make([]float64, dim)
		e[j] = 1
		col := direct(e)
		for i := range col {
			col[i] -= b[i]
		}
		cols[j] = col
	}
	return func(idx []float64) []float64 {
		ci := append([]float64(nil), b...)
		for j, v := range idx {
			if v == 0 {
				continue
			}
			for i := range ci {
				ci[i] += cols[j][i] * v
			}
		}
		return ci
	}
}

// insideBuffer reports whether ci lies within half a voxel of the grid.
func (im *Image) insideBuffer(ci []float64) bool {
	for i, v := range ci {
		if !(v >= -0.5 && v < float64(im.size[i])-0.5) {
			return false
		}
	}
	return true
}

func (im *Image) nearestAt(ci []float64) float64 {
	off, stride := 0, 1
	for i, v := range ci {
		k := clampIndex(roundHalfUp(v), im.size[i])
		off += k * stride
		stride *= im.size[i]
	}
	return float64(im.data[off])
}

func (im *Image) linearAt(ci []float64) float64 {
	dim := len(ci)
	var base [3]int
	var frac [3]float64
	var strides [3]int
	stride := 1
	for i, v := range ci {
		f := math.Floor(v)
		base[i] = int(f)
		frac[i] = v - f
		strides[i] = stride
		stride *= im.size[i]
	}

	var sum float64
	for corner := 0; corner < 1<<dim; corner++ {
		w := 1.0
		off := 0
		for i := 0; i < dim; i++ {
			k := base[i]
			if corner&(1<<i) != 0 {
				w *= frac[i]
				k++
			} else {
				w *= 1 - frac[i]
			}
			off += clampIndex(k, im.size[i]) * strides[i]
		}
		if w == 0 {
			continue
		}
		sum += w * float64(im.data[off])
	}
	return sum
}

func clampIndex(k, size int) int {
	if k < 0 {
		return 0
	}
	if k >= size {
		return size - 1
	}
	return k
}
