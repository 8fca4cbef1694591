// Package reconstruction builds a 3D volume and its mask from a stack of
// aligned 2D section images.
package reconstruction

import (
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"sectionvolume/internal/logging"
	"sectionvolume/internal/models"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/geometry"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/transform"
)

// Params holds the reconstruction inputs and settings.
type Params struct {
	// Dataset is the parsed metadata with derived geometry filled in.
	Dataset *models.DatasetRecord

	// StandardSize is the physical in-plane extent of the output, taken
	// from the atlas metadata.
	StandardSize models.StandardSize

	// ImageDir holds the section images named <%04d section>_<dataset>.jpg.
	ImageDir string

	// DownsampleFactor d: images were downloaded at 1/2^d of native
	// resolution and the output in-plane spacing is min_resolution * 2^d.
	DownsampleFactor int

	// Channel is the color channel read from each section image.
	Channel imaging.Channel

	// CanvasOrigin places the 2D grid every section is resampled onto.
	CanvasOrigin CanvasOrigin

	// ConsistencyTolerance is the largest acceptable round-trip error of
	// a section's tsv/tvs pair, in canvas physical units. Zero disables
	// the check.
	ConsistencyTolerance float64

	// SaveIntermediaryResults writes each resampled slice as a JPEG under
	// IntermediaryDir.
	SaveIntermediaryResults bool
	IntermediaryDir         string
}

// Output is the set of images the reconstruction allocates and fills.
type Output struct {
	Volume *imaging.Image
	Mask   *imaging.Image

	// Canvas is the 2D reference grid every section is resampled onto.
	Canvas *imaging.Image
}

// Report summarises a finished run.
type Report struct {
	Sections        int
	PopulatedSlices int
	EmptySlices     int

	// Coverage is the fraction of z slices holding real section data.
	Coverage float64

	// Intensity statistics over the voxels of populated slices.
	MeanIntensity float64
	StdIntensity  float64

	Warnings []errs.DataQualityWarning
}

// Reconstructor allocates the output volume and populates it slice by slice.
//
// The process consists of:
// 1. Allocating volume, mask and canvas at the output geometry
// 2. Mapping every section to its z slice, failing before any write if one
//    falls outside the volume
// 3. Resampling each section onto the canvas and writing it into the volume
// 4. Computing the run report
type Reconstructor struct {
	params *Params
	output *Output

	// zIndex[i] is the volume slice of params.Dataset.Sections[i]
	zIndex []int

	report Report
}

// NewReconstructor creates a reconstructor for params.
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{params: params}
}

// Process runs allocation, validation and population. On error the output
// may be partially populated.
func (r *Reconstructor) Process() error {
	d := r.params.Dataset
	if d == nil {
		return errs.New(errs.Input, "reconstruction", "no dataset")
	}

	logging.Infof("Step 1: Allocating output volume...")
	out, err := Allocate(d, r.params.StandardSize, r.params.DownsampleFactor, r.params.CanvasOrigin)
	if err != nil {
		return err
	}
	r.output = out
	logging.Infof("Volume %s", out.Volume)

	logging.Infof("Step 2: Mapping %d sections to volume slices...", len(d.Sections))
	if r.zIndex, err = SliceIndices(d, out.Volume); err != nil {
		return err
	}

	logging.Infof("Step 3: Populating volume from section images...")
	for i, s := range d.Sections {
		if err := r.populateSection(s, r.zIndex[i]); err != nil {
			return err
		}
	}

	logging.Infof("Step 4: Calculating run report...")
	r.calculateReport()
	return nil
}

// Allocate creates the zero volume, mask and canvas for d. In-plane size is
// the standard size divided by min_resolution * 2^downsample, rounded; the
// z extent holds one slice per multiple of the minimum gap across the span.
func Allocate(d *models.DatasetRecord, size models.StandardSize, downsample int, origin CanvasOrigin) (*Output, error) {
	if downsample < 0 {
		return nil, errs.New(errs.Input, "downsample", "factor must be non-negative, got %d", downsample)
	}
	xyres := d.Geometry.MinResolution * math.Pow(2, float64(downsample))
	if !(xyres > 0) {
		return nil, errs.New(errs.Input, "resolution", "in-plane resolution must be positive, got %g", xyres)
	}
	xsize := int(math.Round(size.Width / xyres))
	ysize := int(math.Round(size.Height / xyres))
	zsize := geometry.SliceCount(d.Geometry)
	if xsize < 1 || ysize < 1 || zsize < 1 {
		return nil, errs.New(errs.Geometry, "allocate", "empty output grid %dx%dx%d", xsize, ysize, zsize)
	}

	vol, err := imaging.New(imaging.Uint8, xsize, ysize, zsize)
	if err != nil {
		return nil, errs.Wrap(errs.Geometry, "allocate", err)
	}
	if err := vol.SetSpacing(xyres, xyres, d.SectionSpacing); err != nil {
		return nil, errs.Wrap(errs.Input, "section_thickness", err)
	}
	if err := vol.SetOrigin(0, 0, d.SectionOrigin); err != nil {
		return nil, errs.Wrap(errs.Geometry, "allocate", err)
	}

	mask := imaging.NewLike(vol, imaging.Uint8)

	canvas, err := imaging.New(imaging.Uint8, xsize, ysize)
	if err != nil {
		return nil, errs.Wrap(errs.Geometry, "allocate", err)
	}
	if err := canvas.SetSpacing(xyres, xyres); err != nil {
		return nil, errs.Wrap(errs.Geometry, "canvas", err)
	}
	if origin == CanvasOriginSpacing {
		if err := canvas.SetOrigin(xyres, xyres); err != nil {
			return nil, errs.Wrap(errs.Geometry, "canvas", err)
		}
	}

	return &Output{Volume: vol, Mask: mask, Canvas: canvas}, nil
}

// SliceIndices maps every section of d to its z index in vol. A section
// outside the volume is an errs.Geometry error.
func SliceIndices(d *models.DatasetRecord, vol *imaging.Image) ([]int, error) {
	zsize := vol.Size()[2]
	indices := make([]int, len(d.Sections))
	for i, s := range d.Sections {
		z := float64(s.SectionNumber) * d.SectionThickness
		zi := vol.PhysicalPointToIndex([]float64{0, 0, z})[2]
		if zi < 0 || zi >= zsize {
			return nil, errs.New(errs.Geometry, fmt.Sprintf("section %d", s.SectionNumber),
				"z=%g maps to slice %d outside [0,%d)", z, zi, zsize)
		}
		indices[i] = zi
	}
	return indices, nil
}

// populateSection loads, inverts and resamples one section into slice zi.
func (r *Reconstructor) populateSection(s models.SectionImageRecord, zi int) error {
	d := r.params.Dataset
	path := filepath.Join(r.params.ImageDir, s.ImageName(d.ID))
	img, err := imaging.ReadSection(path, r.params.Channel)
	if err != nil {
		return err
	}
	imaging.InvertIntensity(img)
	scale := math.Pow(2, float64(r.params.DownsampleFactor))
	if err := img.SetSpacing(scale, scale); err != nil {
		return errs.Wrap(errs.Input, fmt.Sprintf("section %d", s.SectionNumber), err)
	}

	pair, err := s.Alignment.Pair()
	if err != nil {
		return errs.Wrap(errs.Input, fmt.Sprintf("section %d alignment2d", s.SectionNumber), err)
	}
	r.checkConsistency(s.SectionNumber, pair)

	// tvs maps canvas points into image pixels
	resampled, err := imaging.Resample(img, r.output.Canvas, pair.Inverse, imaging.Linear, 0)
	if err != nil {
		return fmt.Errorf("resampling section %d: %w", s.SectionNumber, err)
	}
	if err := r.output.Volume.SetSlice(zi, resampled); err != nil {
		return errs.Wrap(errs.Geometry, fmt.Sprintf("section %d", s.SectionNumber), err)
	}
	if err := r.output.Mask.FillSlice(zi, 1); err != nil {
		return errs.Wrap(errs.Geometry, fmt.Sprintf("section %d", s.SectionNumber), err)
	}
	logging.Debugf("Section %d -> slice %d (%s)", s.SectionNumber, zi, filepath.Base(path))

	if r.params.SaveIntermediaryResults {
		if err := r.saveIntermediaryResult("resampled_sections", resampled, s.SectionNumber); err != nil {
			logging.Warningf("Failed to save resampled section %d: %v", s.SectionNumber, err)
		}
	}
	return nil
}

// checkConsistency records a warning when the section's tsv/tvs pair does
// not round-trip the canvas corners within tolerance.
func (r *Reconstructor) checkConsistency(section int, pair *transform.Pair) {
	tol := r.params.ConsistencyTolerance
	if tol <= 0 {
		return
	}
	c := r.output.Canvas
	sz := c.Size()
	var points [][]float64
	for _, corner := range transform.BoxCorners([]float64{float64(sz[0]), float64(sz[1])}) {
		points = append(points, c.IndexToPhysicalPoint(corner))
	}
	residual := pair.Residual(points)
	if residual > tol {
		w := errs.DataQualityWarning{
			Message: fmt.Sprintf("section %d: tsv/tvs round trip error %.4g exceeds %.4g", section, residual, tol),
		}
		logging.Warningf("%s", w)
		r.report.Warnings = append(r.report.Warnings, w)
	}
}

func (r *Reconstructor) calculateReport() {
	vol := r.output.Volume
	size := vol.Size()
	plane := size[0] * size[1]

	populated := make(map[int]bool)
	for _, zi := range r.zIndex {
		populated[zi] = true
	}
	values := make([]float64, 0, len(populated)*plane)
	data := vol.Data()
	for zi := range populated {
		for _, v := range data[zi*plane : (zi+1)*plane] {
			values = append(values, float64(v))
		}
	}

	r.report.Sections = len(r.params.Dataset.Sections)
	r.report.PopulatedSlices = len(populated)
	r.report.EmptySlices = size[2] - len(populated)
	r.report.Coverage = float64(len(populated)) / float64(size[2])
	if len(values) > 1 {
		r.report.MeanIntensity, r.report.StdIntensity = stat.MeanStdDev(values, nil)
	} else if len(values) == 1 {
		r.report.MeanIntensity = values[0]
	}
	logging.Infof("Populated %d of %d slices (%.1f%%), mean intensity %.2f",
		r.report.PopulatedSlices, size[2], 100*r.report.Coverage, r.report.MeanIntensity)
}

// Output returns the allocated images, or nil before Process.
func (r *Reconstructor) Output() *Output {
	return r.output
}

// GetReport returns the report of the last run.
func (r *Reconstructor) GetReport() Report {
	return r.report
}

// saveIntermediaryResult writes a 2D image as <IntermediaryDir>/<stage>/<index>.jpg.
func (r *Reconstructor) saveIntermediaryResult(stage string, im *imaging.Image, index int) error {
	stageDir := filepath.Join(r.params.IntermediaryDir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}
	file, err := os.Create(filepath.Join(stageDir, fmt.Sprintf("%04d.jpg", index)))
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()
	if err := jpeg.Encode(file, toGray(im), &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// toGray converts a 2D image to 8-bit grayscale, clamping to [0,255].
func toGray(im *imaging.Image) *image.Gray {
	size := im.Size()
	g := image.NewGray(image.Rect(0, 0, size[0], size[1]))
	for i, v := range im.Data() {
		g.Pix[i] = uint8(imaging.Uint8.Cast(float64(v)))
	}
	return g
}
