package models

import (
	"fmt"

	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/transform"
)

// Alignment3D is the volume-level affine pair of a dataset. Each vector is
// a 3x3 linear part in row-major order followed by a 3 component
// translation.
type Alignment3D struct {
	// TRV maps canonical reference space into the dataset volume
	TRV [12]float64

	// TVR maps the dataset volume into canonical reference space
	TVR [12]float64
}

// Pair returns the alignment as a transform pair whose forward direction
// is volume to reference (TVR).
func (a Alignment3D) Pair() (*transform.Pair, error) {
	return transform.NewPair(3, a.TVR[:], a.TRV[:])
}

// Alignment2D is the per-section affine pair: a 2x2 linear part followed by
// a 2 component translation.
type Alignment2D struct {
	// TSV maps section image pixels into the volume slice
	TSV [6]float64

	// TVS maps the volume slice into section image pixels
	TVS [6]float64
}

// Pair returns the alignment as a transform pair whose forward direction
// is section to volume (TSV).
func (a Alignment2D) Pair() (*transform.Pair, error) {
	return transform.NewPair(2, a.TSV[:], a.TVS[:])
}

// SectionImageRecord describes one physical tissue section.
type SectionImageRecord struct {
	// SectionNumber is the index along the cutting axis; numbers are not
	// necessarily contiguous
	SectionNumber int

	// Width and Height are the pixel extent at native resolution
	Width, Height int

	// Resolution is the physical pixel size at native scale
	Resolution float64

	Alignment Alignment2D
}

// ImageName is the file name of the section's image for dataset id.
func (s SectionImageRecord) ImageName(datasetID int64) string {
	return fmt.Sprintf("%04d_%d.jpg", s.SectionNumber, datasetID)
}

// SectionGeometry is the stack geometry derived from a set of sections.
type SectionGeometry struct {
	// SectionSpan is max - min section number
	SectionSpan int

	// MinSectionNumber is the smallest section number present
	MinSectionNumber int

	// MinSectionGap is the smallest positive difference between
	// consecutive sorted section numbers
	MinSectionGap int

	// MinResolution is the smallest pixel size present
	MinResolution float64
}

// DatasetRecord is one gene-expression dataset with its sections. It is
// read-only once parsed.
type DatasetRecord struct {
	ID             int64
	Treatment      string
	PlaneOfSection string
	Age            string

	// SectionThickness is the physical distance between nominal section
	// numbers
	SectionThickness float64

	Alignment Alignment3D

	// Sections keeps the order of the source record
	Sections []SectionImageRecord

	Geometry SectionGeometry

	// SectionSpacing is MinSectionGap * SectionThickness
	SectionSpacing float64

	// SectionOrigin is MinSectionNumber * SectionThickness
	SectionOrigin float64
}

// SetGeometry stores derived geometry and the spacing and origin that
// follow from it.
func (d *DatasetRecord) SetGeometry(g SectionGeometry) {
	d.Geometry = g
	d.SectionSpacing = float64(g.MinSectionGap) * d.SectionThickness
	d.SectionOrigin = float64(g.MinSectionNumber) * d.SectionThickness
}

// StandardSize is the physical in-plane extent of output volumes for one
// (age, plane of section) pair.
type StandardSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Atlas is a reference volume with the transform that maps canonical
// space into it.
type Atlas struct {
	Age            string
	PlaneOfSection string

	Volume *imaging.Image

	// CanonicalToAtlas maps canonical reference points into atlas space
	CanonicalToAtlas *transform.Affine

	StandardSize StandardSize
}
