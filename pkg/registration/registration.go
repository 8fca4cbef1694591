// Package registration brings a reconstructed volume and an atlas into a
// common frame in both directions.
//
// Four affines are involved:
//
//	tvr  volume -> canonical reference   (dataset alignment3d)
//	trv  canonical reference -> volume   (dataset alignment3d)
//	tra  canonical reference -> atlas    (atlas transform file)
//	tar  atlas -> canonical reference    (inverse of tra)
//
// tar is the only transform computed here; tvr and trv are used as given.
package registration

import (
	"fmt"

	"sectionvolume/internal/logging"
	"sectionvolume/internal/models"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/transform"
)

// Options controls resampling.
type Options struct {
	// MaskInterpolation is used for the mask only. Intensity images are
	// always resampled linearly.
	MaskInterpolation imaging.Interpolator

	// ConsistencyTolerance bounds the round-trip error of the trv/tvr pair
	// over the volume corners. Zero disables the check.
	ConsistencyTolerance float64
}

// DefaultOptions resamples the mask with nearest neighbour so it stays
// binary.
func DefaultOptions() Options {
	return Options{MaskInterpolation: imaging.NearestNeighbor}
}

// Result holds the three resampled images and the transforms used.
type Result struct {
	// ResampledVolume and ResampledMask are on the atlas grid.
	ResampledVolume *imaging.Image
	ResampledMask   *imaging.Image

	// ResampledAtlas is on the volume grid.
	ResampledAtlas *imaging.Image

	VolumeToAtlas *transform.Composite
	AtlasToVolume *transform.Composite

	Warnings []errs.DataQualityWarning
}

// Transforms builds the two composite mappings: volume -> atlas applies tvr
// then tra, atlas -> volume applies tar then trv.
func Transforms(d *models.DatasetRecord, a *models.Atlas) (volumeToAtlas, atlasToVolume *transform.Composite, err error) {
	pair, err := d.Alignment.Pair()
	if err != nil {
		return nil, nil, errs.Wrap(errs.Input, "alignment3d", err)
	}
	tvr, trv := pair.Forward, pair.Inverse

	tra := a.CanonicalToAtlas
	if tra == nil {
		return nil, nil, errs.New(errs.NotFound, "atlas", "no canonical-to-atlas transform")
	}
	tar, err := tra.Inverse()
	if err != nil {
		return nil, nil, errs.Wrap(errs.Geometry, "canonical-to-atlas transform", err)
	}

	if volumeToAtlas, err = transform.Chain(tvr, tra); err != nil {
		return nil, nil, errs.Wrap(errs.Geometry, "volume to atlas", err)
	}
	if atlasToVolume, err = transform.Chain(tar, trv); err != nil {
		return nil, nil, errs.Wrap(errs.Geometry, "atlas to volume", err)
	}
	return volumeToAtlas, atlasToVolume, nil
}

// Resample maps volume and mask onto the atlas grid and the atlas onto the
// volume grid. Each output is a new image with the target's geometry and
// the source's pixel type; points outside the source become 0.
func Resample(d *models.DatasetRecord, a *models.Atlas, volume, mask *imaging.Image, opts Options) (*Result, error) {
	if a == nil || a.Volume == nil {
		return nil, errs.New(errs.NotFound, "atlas", "no atlas volume")
	}
	tva, tav, err := Transforms(d, a)
	if err != nil {
		return nil, err
	}
	res := &Result{VolumeToAtlas: tva, AtlasToVolume: tav}

	if opts.ConsistencyTolerance > 0 {
		if w, ok := checkPair(d, volume, opts.ConsistencyTolerance); !ok {
			logging.Warningf("%s", w)
			res.Warnings = append(res.Warnings, w)
		}
	}

	// Resampling pulls: output points are mapped into the source image, so
	// the atlas grid is filled through atlas -> volume.
	logging.Infof("Resampling volume into atlas space...")
	if res.ResampledVolume, err = imaging.Resample(volume, a.Volume, tav, imaging.Linear, 0); err != nil {
		return nil, fmt.Errorf("resampling volume: %w", err)
	}
	logging.Infof("Resampling mask into atlas space (%s)...", opts.MaskInterpolation)
	if res.ResampledMask, err = imaging.Resample(mask, a.Volume, tav, opts.MaskInterpolation, 0); err != nil {
		return nil, fmt.Errorf("resampling mask: %w", err)
	}
	logging.Infof("Resampling atlas into volume space...")
	if res.ResampledAtlas, err = imaging.Resample(a.Volume, volume, tva, imaging.Linear, 0); err != nil {
		return nil, fmt.Errorf("resampling atlas: %w", err)
	}
	return res, nil
}

// checkPair measures how far trv and tvr are from being inverses over the
// corners of the volume.
func checkPair(d *models.DatasetRecord, volume *imaging.Image, tol float64) (errs.DataQualityWarning, bool) {
	pair, err := d.Alignment.Pair()
	if err != nil {
		return errs.DataQualityWarning{}, true
	}
	size := volume.Size()
	extent := make([]float64, len(size))
	for i, s := range size {
		extent[i] = float64(s - 1)
	}
	var points [][]float64
	for _, c := range transform.BoxCorners(extent) {
		points = append(points, volume.IndexToPhysicalPoint(c))
	}
	residual := pair.Residual(points)
	logging.Debugf("alignment3d round trip error %.4g", residual)
	if residual <= tol {
		return errs.DataQualityWarning{}, true
	}
	return errs.DataQualityWarning{
		Message: fmt.Sprintf("alignment3d trv/tvr round trip error %.4g exceeds %.4g", residual, tol),
	}, false
}
