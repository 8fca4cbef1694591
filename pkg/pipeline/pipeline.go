// Package pipeline runs a full reconstruction: metadata, atlas, volume
// population, atlas resampling and output.
package pipeline

import (
	"time"

	"sectionvolume/internal/logging"
	"sectionvolume/internal/models"
	"sectionvolume/pkg/atlas"
	"sectionvolume/pkg/config"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/export"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/metadata"
	"sectionvolume/pkg/reconstruction"
	"sectionvolume/pkg/registration"
	"sectionvolume/pkg/visualization"
)

// Options is everything a run needs.
type Options struct {
	MetadataPath string
	ImageDir     string
	AtlasRoot    string
	OutputDir    string

	DownsampleFactor     int
	Channel              imaging.Channel
	MaskInterpolation    imaging.Interpolator
	CanvasOrigin         reconstruction.CanvasOrigin
	ConsistencyTolerance float64

	SaveIntermediaryResults bool
	IntermediaryDir         string

	// SlicesDir, when set, receives JPEG slice previews of the volume
	// along each axis.
	SlicesDir string
}

// OptionsFromConfig fills Options from a validated config.
func OptionsFromConfig(cfg *config.Config, metadataPath string) Options {
	opts := Options{
		MetadataPath:            metadataPath,
		ImageDir:                cfg.Paths.ImageDir,
		AtlasRoot:               cfg.Paths.AtlasRoot,
		OutputDir:               cfg.Paths.OutputDir,
		DownsampleFactor:        cfg.Processing.DownsampleFactor,
		Channel:                 cfg.Channel(),
		MaskInterpolation:       cfg.MaskInterpolator(),
		CanvasOrigin:            cfg.CanvasOrigin(),
		ConsistencyTolerance:    cfg.Processing.ConsistencyTolerance,
		SaveIntermediaryResults: cfg.Processing.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Paths.IntermediaryDir,
	}
	if cfg.Processing.ExtractSlices {
		opts.SlicesDir = cfg.Paths.SlicesDir
	}
	return opts
}

// Summary describes a finished run.
type Summary struct {
	Dataset  *models.DatasetRecord
	Report   reconstruction.Report
	Warnings []errs.DataQualityWarning
	Files    []string
	Duration time.Duration
}

// Run executes every stage in order and stops at the first error. Files
// written before a failing stage are left in place.
func Run(opts Options) (*Summary, error) {
	start := time.Now()

	d, warnings, err := metadata.ReadFile(opts.MetadataPath)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logging.Warningf("%s", w)
	}
	logging.Infof("Data set %d: %s %s %s, %d sections, span %d, gap %d",
		d.ID, d.Treatment, d.Age, d.PlaneOfSection, len(d.Sections), d.Geometry.SectionSpan, d.Geometry.MinSectionGap)

	a, err := atlas.Load(opts.AtlasRoot, d.Age, d.PlaneOfSection)
	if err != nil {
		return nil, err
	}

	r := reconstruction.NewReconstructor(&reconstruction.Params{
		Dataset:                 d,
		StandardSize:            a.StandardSize,
		ImageDir:                opts.ImageDir,
		DownsampleFactor:        opts.DownsampleFactor,
		Channel:                 opts.Channel,
		CanvasOrigin:            opts.CanvasOrigin,
		ConsistencyTolerance:    opts.ConsistencyTolerance,
		SaveIntermediaryResults: opts.SaveIntermediaryResults,
		IntermediaryDir:         opts.IntermediaryDir,
	})
	if err := r.Process(); err != nil {
		return nil, err
	}
	out := r.Output()
	report := r.GetReport()
	warnings = append(warnings, report.Warnings...)

	res, err := registration.Resample(d, a, out.Volume, out.Mask, registration.Options{
		MaskInterpolation:    opts.MaskInterpolation,
		ConsistencyTolerance: opts.ConsistencyTolerance,
	})
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, res.Warnings...)

	files, err := export.WriteVolumes(opts.OutputDir, map[string]*imaging.Image{
		export.Volume:          out.Volume,
		export.Mask:            out.Mask,
		export.ResampledVolume: res.ResampledVolume,
		export.ResampledMask:   res.ResampledMask,
		export.ResampledAtlas:  res.ResampledAtlas,
	})
	if err != nil {
		return nil, err
	}

	if opts.SlicesDir != "" {
		if err := savePreviews(out.Volume, opts.SlicesDir); err != nil {
			logging.Warningf("Failed to save slice previews: %v", err)
		}
	}

	return &Summary{
		Dataset:  d,
		Report:   report,
		Warnings: warnings,
		Files:    files,
		Duration: time.Since(start),
	}, nil
}

func savePreviews(vol *imaging.Image, dir string) error {
	v, err := visualization.NewViewer(vol)
	if err != nil {
		return err
	}
	logging.Infof("Saving slice previews to %s", dir)
	return v.SaveAllAxes(dir)
}
