package atlas

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/nifti"
	"sectionvolume/pkg/transform"
)

const testMetadata = `{
	"P56": {
		"sagittal": {"standard_size": {"width": 456, "height": 320}},
		"coronal": {"standard_size": {"width": 400, "height": 320}}
	}
}`

// createAtlas writes a P56/sagittal atlas under a temp root.
func createAtlas(t *testing.T) string {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, MetadataFile), []byte(testMetadata), 0644); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}
	dir := filepath.Join(root, "P56", "sagittal")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create atlas dir: %v", err)
	}

	vol, _ := imaging.New(imaging.Uint8, 6, 5, 4)
	vol.SetSpacing(25, 25, 25)
	vol.Fill(3)
	if err := nifti.WriteFile(filepath.Join(dir, VolumeFile), vol); err != nil {
		t.Fatalf("Failed to write volume: %v", err)
	}
	tra, _ := transform.NewAffine(3, []float64{2, 0, 0, 0, 2, 0, 0, 0, 2, 1, 2, 3})
	if err := transform.WriteTFMFile(filepath.Join(dir, TransformFile), tra); err != nil {
		t.Fatalf("Failed to write transform: %v", err)
	}
	return root
}

func TestLoad(t *testing.T) {
	root := createAtlas(t)
	a, err := Load(root, "P56", "sagittal")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if a.StandardSize.Width != 456 || a.StandardSize.Height != 320 {
		t.Errorf("Unexpected standard size %+v", a.StandardSize)
	}
	if s := a.Volume.Size(); s[0] != 6 || s[1] != 5 || s[2] != 4 {
		t.Errorf("Unexpected volume size %v", s)
	}
	p := a.CanonicalToAtlas.TransformPoint([]float64{1, 1, 1})
	if p[0] != 3 || p[1] != 4 || p[2] != 5 {
		t.Errorf("Unexpected transform result %v", p)
	}
}

func TestLoadNotFound(t *testing.T) {
	root := createAtlas(t)

	// metadata has coronal, but no files exist for it
	if _, err := Load(root, "P56", "coronal"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Missing volume: expected NotFound, got %v", err)
	}
	if _, err := Load(root, "E11.5", "sagittal"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Unknown age: expected NotFound, got %v", err)
	}
	if _, err := Load(root, "P56", "horizontal"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Unknown plane: expected NotFound, got %v", err)
	}
	if _, err := Load(t.TempDir(), "P56", "sagittal"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Missing metadata: expected NotFound, got %v", err)
	}

	os.Remove(filepath.Join(root, "P56", "sagittal", TransformFile))
	if _, err := Load(root, "P56", "sagittal"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Missing transform: expected NotFound, got %v", err)
	}
}

func TestLoadUnreadableVolume(t *testing.T) {
	root := createAtlas(t)
	path := filepath.Join(root, "P56", "sagittal", VolumeFile)
	if err := os.WriteFile(path, []byte("corrupt"), 0644); err != nil {
		t.Fatalf("Failed to corrupt volume: %v", err)
	}
	if _, err := Load(root, "P56", "sagittal"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected NotFound for unreadable volume, got %v", err)
	}
}

func TestReadStandardSizeSchema(t *testing.T) {
	cases := []string{
		`{"P56": {"sagittal": {"standard_size": {"width": 456}}}}`,
		`{"P56": {"sagittal": {"standard_size": {"width": "wide", "height": 1}}}}`,
		`{"P56": {"sagittal": {"standard_size": {"width": -1, "height": 1}}}}`,
		`{"P56": {"sagittal": {}}}`,
		`[1, 2]`,
	}
	for _, doc := range cases {
		root := t.TempDir()
		os.WriteFile(filepath.Join(root, MetadataFile), []byte(doc), 0644)
		if _, err := ReadStandardSize(root, "P56", "sagittal"); !errors.Is(err, errs.ErrInput) {
			t.Errorf("%s: expected InputError, got %v", doc, err)
		}
	}
}
