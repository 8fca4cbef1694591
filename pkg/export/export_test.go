package export

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/nifti"
)

func createArtifacts(t *testing.T) map[string]*imaging.Image {
	artifacts := make(map[string]*imaging.Image)
	for i, name := range Names {
		im, err := imaging.New(imaging.Uint8, 4, 3, 2)
		if err != nil {
			t.Fatalf("Failed to allocate: %v", err)
		}
		im.Fill(float32(i + 1))
		artifacts[name] = im
	}
	return artifacts
}

func TestWriteVolumes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	written, err := WriteVolumes(dir, createArtifacts(t))
	if err != nil {
		t.Fatalf("WriteVolumes failed: %v", err)
	}
	if len(written) != 5 {
		t.Fatalf("Expected 5 files, got %v", written)
	}
	for i, name := range Names {
		path := filepath.Join(dir, name+".nii.gz")
		if written[i] != path {
			t.Errorf("Expected %s at position %d, got %s", path, i, written[i])
		}
		im, err := nifti.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read back %s: %v", name, err)
		}
		if im.At(3, 2, 1) != float32(i+1) {
			t.Errorf("%s: unexpected content %g", name, im.At(3, 2, 1))
		}
	}
}

func TestWriteVolumesMissingArtifact(t *testing.T) {
	artifacts := createArtifacts(t)
	delete(artifacts, ResampledMask)
	dir := t.TempDir()
	if _, err := WriteVolumes(dir, artifacts); !errors.Is(err, errs.ErrWrite) {
		t.Fatalf("Expected WriteError, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("Nothing should be written when an artifact is missing")
	}
}

func TestWriteVolumesIOFailure(t *testing.T) {
	dir := t.TempDir()
	// a directory where a file must go makes the third write fail
	if err := os.Mkdir(Path(dir, ResampledVolume), 0755); err != nil {
		t.Fatalf("Failed to create blocker: %v", err)
	}
	written, err := WriteVolumes(dir, createArtifacts(t))
	if !errors.Is(err, errs.ErrWrite) {
		t.Fatalf("Expected WriteError, got %v", err)
	}
	if len(written) != 2 {
		t.Errorf("Expected the first two files to remain, got %v", written)
	}
	if _, err := os.Stat(Path(dir, Volume)); err != nil {
		t.Errorf("Earlier artifacts must be left in place: %v", err)
	}
}
