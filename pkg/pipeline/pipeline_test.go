package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"sectionvolume/pkg/atlas"
	"sectionvolume/pkg/config"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/export"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/nifti"
	"sectionvolume/pkg/reconstruction"
	"sectionvolume/pkg/transform"
)

const datasetID = 77

var sectionNumbers = []int{10, 13, 19}

func writeMetadata(t *testing.T, path string, dropKey string) {
	a3 := map[string]interface{}{}
	identity3 := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0}
	for i, v := range identity3 {
		a3[fmt.Sprintf("trv_%02d", i)] = v
		a3[fmt.Sprintf("tvr_%02d", i)] = v
	}
	delete(a3, dropKey)
	var images []interface{}
	for _, n := range sectionNumbers {
		a2 := map[string]interface{}{}
		for i, v := range []float64{1, 0, 0, 1, 0, 0} {
			a2[fmt.Sprintf("tsv_%02d", i)] = v
			a2[fmt.Sprintf("tvs_%02d", i)] = v
		}
		images = append(images, map[string]interface{}{
			"section_number": n, "width": 10, "height": 8, "resolution": 1, "alignment2d": a2,
		})
	}
	payload := []interface{}{map[string]interface{}{
		"id":                datasetID,
		"section_thickness": 25,
		"treatments":        []interface{}{map[string]interface{}{"name": "ISH"}},
		"plane_of_section":  map[string]interface{}{"name": "sagittal"},
		"specimen":          map[string]interface{}{"donor": map[string]interface{}{"age": map[string]interface{}{"name": "P56"}}},
		"alignment3d":       a3,
		"section_images":    images,
	}}
	data, _ := json.Marshal(payload)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}
}

// writeAtlas creates an atlas on the same grid as the reconstructed volume.
func writeAtlas(t *testing.T, root string) {
	os.WriteFile(filepath.Join(root, atlas.MetadataFile),
		[]byte(`{"P56": {"sagittal": {"standard_size": {"width": 20, "height": 16}}}}`), 0644)
	dir := filepath.Join(root, "P56", "sagittal")
	os.MkdirAll(dir, 0755)

	vol, _ := imaging.New(imaging.Uint8, 10, 8, 4)
	vol.SetSpacing(2, 2, 75)
	vol.SetOrigin(0, 0, 250)
	vol.Fill(9)
	if err := nifti.WriteFile(filepath.Join(dir, atlas.VolumeFile), vol); err != nil {
		t.Fatalf("Failed to write atlas volume: %v", err)
	}
	if err := transform.WriteTFMFile(filepath.Join(dir, atlas.TransformFile), transform.Identity(3)); err != nil {
		t.Fatalf("Failed to write atlas transform: %v", err)
	}
}

func writeImages(t *testing.T, dir string) {
	for _, n := range sectionNumbers {
		img := image.NewRGBA(image.Rect(0, 0, 10, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 10; x++ {
				img.Set(x, y, color.RGBA{B: uint8(20 * y), A: 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%04d_%d.jpg", n, datasetID)))
		if err != nil {
			t.Fatalf("Failed to create image: %v", err)
		}
		png.Encode(f, img)
		f.Close()
	}
}

func createFixture(t *testing.T, dropKey string) Options {
	root := t.TempDir()
	opts := Options{
		MetadataPath:      filepath.Join(root, "metadata.json"),
		ImageDir:          filepath.Join(root, "images"),
		AtlasRoot:         filepath.Join(root, "atlas"),
		OutputDir:         filepath.Join(root, "out"),
		DownsampleFactor:  1,
		Channel:           imaging.Blue,
		MaskInterpolation: imaging.NearestNeighbor,
	}
	os.MkdirAll(opts.ImageDir, 0755)
	os.MkdirAll(opts.AtlasRoot, 0755)
	writeMetadata(t, opts.MetadataPath, dropKey)
	writeAtlas(t, opts.AtlasRoot)
	writeImages(t, opts.ImageDir)
	return opts
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	opts := createFixture(t, "")
	opts.SlicesDir = filepath.Join(t.TempDir(), "slices")

	summary, err := Run(opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.Files) != len(export.Names) {
		t.Fatalf("Expected %d files, got %v", len(export.Names), summary.Files)
	}
	if summary.Report.PopulatedSlices != 3 || summary.Report.EmptySlices != 1 {
		t.Errorf("Unexpected report %+v", summary.Report)
	}

	mask, err := nifti.ReadFile(export.Path(opts.OutputDir, export.ResampledMask))
	if err != nil {
		t.Fatalf("Failed to read resampled mask: %v", err)
	}
	for z, want := range []float32{1, 1, 0, 1} {
		if got := mask.At(4, 4, z); got != want {
			t.Errorf("Resampled mask slice %d: got %g want %g", z, got, want)
		}
	}

	vol, err := nifti.ReadFile(export.Path(opts.OutputDir, export.ResampledVolume))
	if err != nil {
		t.Fatalf("Failed to read resampled volume: %v", err)
	}
	// canvas (2,3) samples section pixel (3,4), blue 80
	if got := vol.At(2, 3, 1); got != 255-80 {
		t.Errorf("Expected inverted blue value 175, got %g", got)
	}

	previews, err := os.ReadDir(filepath.Join(opts.SlicesDir, "z"))
	if err != nil || len(previews) != 4 {
		t.Errorf("Expected 4 z slice previews, got %d (%v)", len(previews), err)
	}

	ra, err := nifti.ReadFile(export.Path(opts.OutputDir, export.ResampledAtlas))
	if err != nil {
		t.Fatalf("Failed to read resampled atlas: %v", err)
	}
	if got := ra.At(5, 5, 2); got != 9 {
		t.Errorf("Expected atlas value 9, got %g", got)
	}
}

func TestRunInputErrorAllocatesNothing(t *testing.T) {
	opts := createFixture(t, "tvr_05")
	_, err := Run(opts)
	if !errors.Is(err, errs.ErrInput) {
		t.Fatalf("Expected InputError, got %v", err)
	}
	if _, err := os.Stat(opts.OutputDir); !os.IsNotExist(err) {
		t.Errorf("No output may be produced after an input error")
	}
}

func TestRunMissingAtlas(t *testing.T) {
	opts := createFixture(t, "")
	os.RemoveAll(opts.AtlasRoot)
	if _, err := Run(opts); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Processing.Channel = "green"
	cfg.Processing.MaskInterpolation = "linear"

	opts := OptionsFromConfig(cfg, "meta.json")
	if opts.MetadataPath != "meta.json" || opts.DownsampleFactor != 3 {
		t.Errorf("Unexpected options %+v", opts)
	}
	if opts.Channel != imaging.Green || opts.MaskInterpolation != imaging.Linear {
		t.Errorf("Expected green/linear, got %s/%s", opts.Channel, opts.MaskInterpolation)
	}
	if opts.CanvasOrigin != reconstruction.CanvasOriginSpacing {
		t.Errorf("Expected spacing canvas origin by default, got %s", opts.CanvasOrigin)
	}
	if opts.SlicesDir != "" {
		t.Errorf("Slice previews should be off by default")
	}

	cfg.Processing.ExtractSlices = true
	if opts := OptionsFromConfig(cfg, ""); opts.SlicesDir != cfg.Paths.SlicesDir {
		t.Errorf("Expected slices dir %q, got %q", cfg.Paths.SlicesDir, opts.SlicesDir)
	}
}
