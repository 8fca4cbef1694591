// Package geometry derives stack geometry from a dataset's sections.
package geometry

import (
	"fmt"
	"sort"

	"sectionvolume/internal/models"
	"sectionvolume/pkg/errs"
)

// Compute returns the span, minimum section number, minimum gap and minimum
// resolution of sections. The result does not depend on the order of
// sections. Differing resolutions yield a warning, not an error.
func Compute(sections []models.SectionImageRecord) (models.SectionGeometry, []errs.DataQualityWarning, error) {
	var g models.SectionGeometry
	if len(sections) < 2 {
		return g, nil, errs.New(errs.InsufficientData, "section_images",
			"need at least 2 sections to define a gap, have %d", len(sections))
	}

	numbers := make([]int, len(sections))
	for i, s := range sections {
		numbers[i] = s.SectionNumber
	}
	sort.Ints(numbers)
	g.MinSectionNumber = numbers[0]
	g.SectionSpan = numbers[len(numbers)-1] - numbers[0]

	for i := 1; i < len(numbers); i++ {
		d := numbers[i] - numbers[i-1]
		// duplicates are not gaps
		if d > 0 && (g.MinSectionGap == 0 || d < g.MinSectionGap) {
			g.MinSectionGap = d
		}
	}
	if g.MinSectionGap == 0 {
		return g, nil, errs.New(errs.InsufficientData, "section_images",
			"all %d sections share section number %d", len(numbers), numbers[0])
	}

	var warnings []errs.DataQualityWarning
	distinct := make(map[float64]struct{})
	g.MinResolution = sections[0].Resolution
	for _, s := range sections {
		distinct[s.Resolution] = struct{}{}
		if s.Resolution < g.MinResolution {
			g.MinResolution = s.Resolution
		}
	}
	if len(distinct) > 1 {
		warnings = append(warnings, errs.DataQualityWarning{
			Message: fmt.Sprintf("sections have %d different resolutions, using smallest value %g", len(distinct), g.MinResolution),
		})
	}
	return g, warnings, nil
}

// SliceCount is the number of z slices needed to hold every multiple of
// the minimum gap across the span: round(span/gap + 1).
func SliceCount(g models.SectionGeometry) int {
	if g.MinSectionGap <= 0 {
		return 0
	}
	return int(float64(g.SectionSpan)/float64(g.MinSectionGap) + 1.5)
}
