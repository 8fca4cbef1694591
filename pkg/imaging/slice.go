package imaging

import (
	"fmt"
)

// Axis names a volume axis.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// ExtractSlice copies the plane at position along axis out of a 3D image.
// The result is 2D with the in-plane spacing and origin of the volume:
// for AxisZ the plane is (x, y), for AxisY (x, z), for AxisX (y, z).
func (im *Image) ExtractSlice(axis Axis, position int) (*Image, error) {
	if im.Dimension() != 3 {
		return nil, fmt.Errorf("slice extraction needs a 3D image")
	}
	if axis < AxisX || axis > AxisZ {
		return nil, fmt.Errorf("unknown axis %d", axis)
	}
	if position < 0 || position >= im.size[axis] {
		return nil, fmt.Errorf("position %d outside [0,%d) along axis %d", position, im.size[axis], axis)
	}

	u, v := planeAxes(axis)
	out, err := New(im.ptype, im.size[u], im.size[v])
	if err != nil {
		return nil, err
	}
	if err := out.SetSpacing(im.spacing[u], im.spacing[v]); err != nil {
		return nil, err
	}
	if err := out.SetOrigin(im.origin[u], im.origin[v]); err != nil {
		return nil, err
	}

	idx := make([]int, 3)
	idx[axis] = position
	for j := 0; j < im.size[v]; j++ {
		for i := 0; i < im.size[u]; i++ {
			idx[u], idx[v] = i, j
			out.data[j*im.size[u]+i] = im.data[im.Offset(idx...)]
		}
	}
	return out, nil
}

// SetSlice writes a 2D plane into a 3D image at index z. The plane must
// match the in-plane size of the volume; its geometry is ignored.
func (im *Image) SetSlice(z int, plane *Image) error {
	if im.Dimension() != 3 || plane.Dimension() != 2 {
		return fmt.Errorf("SetSlice needs a 3D volume and a 2D plane")
	}
	if plane.size[0] != im.size[0] || plane.size[1] != im.size[1] {
		return fmt.Errorf("plane size %v does not match volume plane %v", plane.size, im.size[:2])
	}
	if z < 0 || z >= im.size[2] {
		return fmt.Errorf("slice %d outside [0,%d)", z, im.size[2])
	}
	n := im.size[0] * im.size[1]
	copy(im.data[z*n:(z+1)*n], plane.data)
	return nil
}

// FillSlice sets every voxel of z-slice z to v.
func (im *Image) FillSlice(z int, v float32) error {
	if im.Dimension() != 3 {
		return fmt.Errorf("FillSlice needs a 3D image")
	}
	if z < 0 || z >= im.size[2] {
		return fmt.Errorf("slice %d outside [0,%d)", z, im.size[2])
	}
	n := im.size[0] * im.size[1]
	plane := im.data[z*n : (z+1)*n]
	for i := range plane {
		plane[i] = v
	}
	return nil
}

func planeAxes(axis Axis) (u, v Axis) {
	switch axis {
	case AxisX:
		return AxisY, AxisZ
	case AxisY:
		return AxisX, AxisZ
	}
	return AxisX, AxisY
}
