// Package imaging holds 2D and 3D images with physical geometry (spacing,
// origin and direction) and the resampling operator that maps an output
// grid through a transform into an input image.
//
// Voxel data is stored as float32 with x varying fastest. The PixelType
// records the storage type the image represents; values written through Set
// are not clamped, Cast is applied when resampling and when encoding.
package imaging

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PixelType is the storage type an image represents.
type PixelType int

const (
	Uint8 PixelType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

func (t PixelType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("PixelType(%d)", int(t))
}

// Integral reports whether t holds integers.
func (t PixelType) Integral() bool {
	return t != Float32 && t != Float64
}

// Range returns the representable range of t.
func (t PixelType) Range() (lo, hi float64) {
	switch t {
	case Uint8:
		return 0, math.MaxUint8
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint16:
		return 0, math.MaxUint16
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return -math.MaxFloat64, math.MaxFloat64
}

// Cast converts v to the nearest value representable by t: integral types
// are rounded half away from zero and clamped.
func (t PixelType) Cast(v float64) float32 {
	if !t.Integral() {
		return float32(v)
	}
	lo, hi := t.Range()
	v = math.Round(v)
	if v < lo {
		v = lo
	} else if v > hi {
		v = hi
	}
	return float32(v)
}

// Truncate converts an interpolated sample the way a resampler stores it:
// integral types are clamped and truncated toward zero. Values within 1e-6
// of an integer are taken as that integer first, so floating point noise
// in the index mapping does not drop a grey level.
func (t PixelType) Truncate(v float64) float32 {
	if !t.Integral() {
		return float32(v)
	}
	if r := math.Round(v); math.Abs(v-r) < 1e-6 {
		v = r
	}
	lo, hi := t.Range()
	if v < lo {
		v = lo
	} else if v > hi {
		v = hi
	}
	return float32(math.Trunc(v))
}

// Image is a 2D or 3D image with physical geometry.
type Image struct {
	size      []int
	spacing   []float64
	origin    []float64
	direction []float64 // row-major dim x dim, nil means identity
	ptype     PixelType

	data []float32

	// physical -> continuous index, cached
	toIndex *mat.Dense
}

// New allocates a zero image with unit spacing and zero origin.
func New(ptype PixelType, size ...int) (*Image, error) {
	if len(size) < 2 || len(size) > 3 {
		return nil, fmt.Errorf("only 2D and 3D images are supported, got %dD", len(size))
	}
	n := 1
	for i, s := range size {
		if s <= 0 {
			return nil, fmt.Errorf("image size along axis %d must be positive, got %d", i, s)
		}
		n *= s
	}
	im := &Image{
		size:    append([]int(nil), size...),
		spacing: make([]float64, len(size)),
		origin:  make([]float64, len(size)),
		ptype:   ptype,
		data:    make([]float32, n),
	}
	for i := range im.spacing {
		im.spacing[i] = 1
	}
	return im, nil
}

// NewLike allocates a zero image with the geometry of ref and the given type.
func NewLike(ref *Image, ptype PixelType) *Image {
	im, _ := New(ptype, ref.size...)
	im.CopyGeometry(ref)
	return im
}

// Dimension returns 2 or 3.
func (im *Image) Dimension() int { return len(im.size) }

// Size returns a copy of the extent along each axis.
func (im *Image) Size() []int { return append([]int(nil), im.size...) }

// Spacing returns a copy of the physical voxel size.
func (im *Image) Spacing() []float64 { return append([]float64(nil), im.spacing...) }

// Origin returns a copy of the physical position of index 0.
func (im *Image) Origin() []float64 { return append([]float64(nil), im.origin...) }

// Direction returns the direction cosines, row-major.
func (im *Image) Direction() []float64 {
	if im.direction == nil {
		d := make([]float64, im.Dimension()*im.Dimension())
		for i := 0; i < im.Dimension(); i++ {
			d[i*im.Dimension()+i] = 1
		}
		return d
	}
	return append([]float64(nil), im.direction...)
}

// PixelType returns the storage type of the image.
func (im *Image) PixelType() PixelType { return im.ptype }

// Len returns the number of voxels.
func (im *Image) Len() int { return len(im.data) }

// Data exposes the voxel buffer, x fastest.
func (im *Image) Data() []float32 { return im.data }

// SetSpacing sets the voxel size. All components must be positive.
func (im *Image) SetSpacing(spacing ...float64) error {
	if len(spacing) != im.Dimension() {
		return fmt.Errorf("spacing has %d components, image is %dD", len(spacing), im.Dimension())
	}
	for i, s := range spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("spacing along axis %d must be positive, got %g", i, s)
		}
	}
	copy(im.spacing, spacing)
	im.toIndex = nil
	return nil
}

// SetOrigin sets the physical position of index 0.
func (im *Image) SetOrigin(origin ...float64) error {
	if len(origin) != im.Dimension() {
		return fmt.Errorf("origin has %d components, image is %dD", len(origin), im.Dimension())
	}
	copy(im.origin, origin)
	return nil
}

// SetDirection sets the direction cosines (row-major). The matrix must be
// invertible.
func (im *Image) SetDirection(direction []float64) error {
	dim := im.Dimension()
	if len(direction) != dim*dim {
		return fmt.Errorf("direction has %d entries, expected %d", len(direction), dim*dim)
	}
	if mat.Det(mat.NewDense(dim, dim, append([]float64(nil), direction...))) == 0 {
		return fmt.Errorf("direction matrix is singular")
	}
	im.direction = append([]float64(nil), direction...)
	im.toIndex = nil
	return nil
}

// CopyGeometry copies spacing, origin and direction from ref, which must
// have the same dimension.
func (im *Image) CopyGeometry(ref *Image) {
	copy(im.spacing, ref.spacing)
	copy(im.origin, ref.origin)
	if ref.direction != nil {
		im.direction = append([]float64(nil), ref.direction...)
	} else {
		im.direction = nil
	}
	im.toIndex = nil
}

// Offset returns the buffer position of idx, or -1 if idx is outside.
func (im *Image) Offset(idx ...int) int {
	if len(idx) != len(im.size) {
		return -1
	}
	off, stride := 0, 1
	for i, v := range idx {
		if v < 0 || v >= im.size[i] {
			return -1
		}
		off += v * stride
		stride *= im.size[i]
	}
	return off
}

// At returns the value at idx. It panics if idx is outside the image.
func (im *Image) At(idx ...int) float32 {
	off := im.Offset(idx...)
	if off < 0 {
		panic(fmt.Sprintf("index %v outside image of size %v", idx, im.size))
	}
	return im.data[off]
}

// Set stores v at idx. It panics if idx is outside the image.
func (im *Image) Set(v float32, idx ...int) {
	off := im.Offset(idx...)
	if off < 0 {
		panic(fmt.Sprintf("index %v outside image of size %v", idx, im.size))
	}
	im.data[off] = v
}

// Fill sets every voxel to v.
func (im *Image) Fill(v float32) {
	for i := range im.data {
		im.data[i] = v
	}
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	c := NewLike(im, im.ptype)
	copy(c.data, im.data)
	return c
}

// IndexToPhysicalPoint maps a (continuous) index to physical space:
// origin + D * (spacing .* index).
func (im *Image) IndexToPhysicalPoint(idx []float64) []float64 {
	dim := im.Dimension()
	p := make([]float64, dim)
	for i := 0; i < dim; i++ {
		v := im.origin[i]
		if im.direction == nil {
			v += im.spacing[i] * idx[i]
		} else {
			for j := 0; j < dim; j++ {
				v += im.direction[i*dim+j] * im.spacing[j] * idx[j]
			}
		}
		p[i] = v
	}
	return p
}

// PhysicalPointToContinuousIndex is the inverse of IndexToPhysicalPoint.
func (im *Image) PhysicalPointToContinuousIndex(p []float64) []float64 {
	dim := im.Dimension()
	ci := make([]float64, dim)
	if im.direction == nil {
		for i := 0; i < dim; i++ {
			ci[i] = (p[i] - im.origin[i]) / im.spacing[i]
		}
		return ci
	}
	m := im.physicalToIndexMatrix()
	for i := 0; i < dim; i++ {
		row := m.RawRowView(i)
		v := 0.0
		for j := 0; j < dim; j++ {
			v += row[j] * (p[j] - im.origin[j])
		}
		ci[i] = v
	}
	return ci
}

// PhysicalPointToIndex returns the nearest integer index to p, rounding
// halves up. The result may lie outside the image.
func (im *Image) PhysicalPointToIndex(p []float64) []int {
	ci := im.PhysicalPointToContinuousIndex(p)
	idx := make([]int, len(ci))
	for i, v := range ci {
		idx[i] = roundHalfUp(v)
	}
	return idx
}

// Contains reports whether idx is inside the image.
func (im *Image) Contains(idx []int) bool {
	return im.Offset(idx...) >= 0
}

// physicalToIndexMatrix returns (D * diag(spacing))^-1.
func (im *Image) physicalToIndexMatrix() *mat.Dense {
	if im.toIndex != nil {
		return im.toIndex
	}
	dim := im.Dimension()
	ds := mat.NewDense(dim, dim, nil)
	dir := im.Direction()
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			ds.Set(i, j, dir[i*dim+j]*im.spacing[j])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(ds); err != nil {
		// SetDirection and SetSpacing reject singular input.
		panic(fmt.Sprintf("image geometry not invertible: %v", err))
	}
	im.toIndex = &inv
	return im.toIndex
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// String summarises the geometry.
func (im *Image) String() string {
	return fmt.Sprintf("%s image size=%v spacing=%v origin=%v", im.ptype, im.size, im.spacing, im.origin)
}
