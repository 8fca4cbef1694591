// Package visualization writes orthogonal slice previews of a volume.
package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"sectionvolume/pkg/imaging"
)

// Viewer renders the slices of a 3D image as 8-bit grayscale, mapping the
// volume's value range [min, max] onto [0, 255].
type Viewer struct {
	volume *imaging.Image

	min, max float64
}

// NewViewer creates a viewer for a 3D volume.
func NewViewer(volume *imaging.Image) (*Viewer, error) {
	if volume.Dimension() != 3 {
		return nil, fmt.Errorf("viewer needs a 3D image, got %dD", volume.Dimension())
	}
	v := &Viewer{volume: volume, min: math.Inf(1), max: math.Inf(-1)}
	for _, x := range volume.Data() {
		v.min = math.Min(v.min, float64(x))
		v.max = math.Max(v.max, float64(x))
	}
	return v, nil
}

// ParseAxis accepts "x", "y" or "z".
func ParseAxis(s string) (imaging.Axis, error) {
	switch strings.ToLower(s) {
	case "x":
		return imaging.AxisX, nil
	case "y":
		return imaging.AxisY, nil
	case "z":
		return imaging.AxisZ, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", s)
}

// ExtractSlice returns the plane at position along axis as a gray image.
// The row index is the second in-plane axis (y for z slices, z otherwise).
func (v *Viewer) ExtractSlice(axis imaging.Axis, position int) (*image.Gray, error) {
	plane, err := v.volume.ExtractSlice(axis, position)
	if err != nil {
		return nil, err
	}
	size := plane.Size()
	img := image.NewGray(image.Rect(0, 0, size[0], size[1]))
	scale := 0.0
	if v.max > v.min {
		scale = 255 / (v.max - v.min)
	}
	for i, x := range plane.Data() {
		img.Pix[i] = uint8(math.Round((float64(x) - v.min) * scale))
	}
	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence writes every slice along axis to
// <outputDir>/slice_<axis>_<pos>.jpg and returns the number written.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	ax, err := ParseAxis(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	n := v.volume.Size()[ax]
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(ax, pos)
		if err != nil {
			return pos, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", strings.ToLower(axis), pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}
	return n, nil
}

// SaveAllAxes writes the slice sequences along x, y and z into
// subdirectories of outputDir.
func (v *Viewer) SaveAllAxes(outputDir string) error {
	for _, axis := range []string{"x", "y", "z"} {
		if _, err := v.SaveSliceSequence(axis, filepath.Join(outputDir, axis)); err != nil {
			return fmt.Errorf("saving %s-axis slices: %w", axis, err)
		}
	}
	return nil
}
