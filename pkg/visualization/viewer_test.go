package visualization

import (
	"os"
	"path/filepath"
	"testing"

	"sectionvolume/pkg/imaging"
)

func createVolume(t *testing.T) *imaging.Image {
	vol, err := imaging.New(imaging.Uint8, 6, 4, 3)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	// each z slice holds a single value: 0, 100, 200
	for z := 0; z < 3; z++ {
		vol.FillSlice(z, float32(100*z))
	}
	return vol
}

func TestNewViewerRejects2D(t *testing.T) {
	im, _ := imaging.New(imaging.Uint8, 4, 4)
	if _, err := NewViewer(im); err == nil {
		t.Errorf("Expected error for 2D image")
	}
}

func TestExtractSliceScalesRange(t *testing.T) {
	v, err := NewViewer(createVolume(t))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	z, err := v.ExtractSlice(imaging.AxisZ, 2)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	if b := z.Bounds(); b.Dx() != 6 || b.Dy() != 4 {
		t.Errorf("Expected 6x4 z slice, got %v", b)
	}
	if got := z.GrayAt(3, 1).Y; got != 255 {
		t.Errorf("Expected max value to map to 255, got %d", got)
	}

	x, err := v.ExtractSlice(imaging.AxisX, 0)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	if b := x.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("Expected 4x3 x slice, got %v", b)
	}
	// row index is z: 100 of [0,200] maps to 128
	if got := x.GrayAt(0, 1).Y; got != 128 {
		t.Errorf("Expected 128 at z=1, got %d", got)
	}

	if _, err := v.ExtractSlice(imaging.AxisZ, 3); err == nil {
		t.Errorf("Expected error for out of range position")
	}
}

func TestUniformVolume(t *testing.T) {
	vol, _ := imaging.New(imaging.Uint8, 2, 2, 2)
	vol.Fill(7)
	v, _ := NewViewer(vol)
	img, err := v.ExtractSlice(imaging.AxisY, 1)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	for _, p := range img.Pix {
		if p != 0 {
			t.Fatalf("Uniform volume should render black, got %d", p)
		}
	}
}

func TestSaveAllAxes(t *testing.T) {
	dir := t.TempDir()
	v, _ := NewViewer(createVolume(t))
	if err := v.SaveAllAxes(dir); err != nil {
		t.Fatalf("SaveAllAxes failed: %v", err)
	}
	for axis, n := range map[string]int{"x": 6, "y": 4, "z": 3} {
		entries, err := os.ReadDir(filepath.Join(dir, axis))
		if err != nil {
			t.Fatalf("Failed to read %s dir: %v", axis, err)
		}
		if len(entries) != n {
			t.Errorf("Expected %d %s slices, got %d", n, axis, len(entries))
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "z", "slice_z_002.jpg")); err != nil {
		t.Errorf("Expected slice_z_002.jpg: %v", err)
	}

	if _, err := v.SaveSliceSequence("w", dir); err == nil {
		t.Errorf("Expected error for invalid axis")
	}
}
