// Package export writes the named output volumes of a run.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"sectionvolume/internal/logging"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/nifti"
)

// Artifact names, in write order.
const (
	Volume          = "volume"
	Mask            = "mask"
	ResampledVolume = "resampled_volume"
	ResampledMask   = "resampled_mask"
	ResampledAtlas  = "resampled_atlas"
)

// Names lists every artifact a run produces, in write order.
var Names = []string{Volume, Mask, ResampledVolume, ResampledMask, ResampledAtlas}

// Extension is appended to each artifact name.
const Extension = ".nii.gz"

// Path returns the file an artifact is written to.
func Path(dir, name string) string {
	return filepath.Join(dir, name+Extension)
}

// WriteVolumes writes every artifact of Names to dir as compressed NIfTI,
// creating dir if needed. All artifacts must be present. The first failure
// stops the write and is returned as an errs.Write error; files already
// written are left in place.
func WriteVolumes(dir string, artifacts map[string]*imaging.Image) ([]string, error) {
	for _, name := range Names {
		if artifacts[name] == nil {
			return nil, errs.New(errs.Write, name, "artifact missing")
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.Write, dir, err)
	}

	written := make([]string, 0, len(Names))
	for _, name := range Names {
		path := Path(dir, name)
		if err := nifti.WriteFile(path, artifacts[name]); err != nil {
			return written, errs.Wrap(errs.Write, path, fmt.Errorf("writing %s: %w", name, err))
		}
		logging.Infof("Wrote %s", path)
		written = append(written, path)
	}
	return written, nil
}
