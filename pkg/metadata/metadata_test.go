package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sectionvolume/pkg/errs"
)

// createPayload builds a metadata record for sections numbered numbers.
func createPayload(numbers ...int) map[string]interface{} {
	a3 := map[string]interface{}{}
	for i := 0; i < 12; i++ {
		a3[fmt.Sprintf("trv_%02d", i)] = float64(i) + 0.5
		a3[fmt.Sprintf("tvr_%02d", i)] = float64(-i)
	}
	var images []interface{}
	for _, n := range numbers {
		a2 := map[string]interface{}{}
		for i := 0; i < 6; i++ {
			a2[fmt.Sprintf("tsv_%02d", i)] = float64(i)
			a2[fmt.Sprintf("tvs_%02d", i)] = float64(10 + i)
		}
		images = append(images, map[string]interface{}{
			"id":             1000 + n,
			"section_number": n,
			"width":          640,
			"height":         480,
			"resolution":     1.4,
			"alignment2d":    a2,
		})
	}
	return map[string]interface{}{
		"id":                100055124,
		"section_thickness": 25,
		"treatments":        []interface{}{map[string]interface{}{"name": "ISH"}},
		"plane_of_section":  map[string]interface{}{"name": "sagittal"},
		"specimen": map[string]interface{}{
			"donor": map[string]interface{}{
				"age": map[string]interface{}{"name": "P56"},
			},
		},
		"alignment3d":    a3,
		"section_images": images,
	}
}

func encode(t *testing.T, v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to encode payload: %v", err)
	}
	return data
}

func TestParse(t *testing.T) {
	d, warnings, err := Parse(encode(t, []interface{}{createPayload(10, 13, 17)}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Unexpected warnings: %v", warnings)
	}
	if d.ID != 100055124 || d.Treatment != "ISH" || d.PlaneOfSection != "sagittal" || d.Age != "P56" {
		t.Errorf("Unexpected identity fields: %+v", d)
	}
	if d.Alignment.TRV[11] != 11.5 || d.Alignment.TVR[5] != -5 {
		t.Errorf("Alignment3D not read in order: %v %v", d.Alignment.TRV, d.Alignment.TVR)
	}
	if len(d.Sections) != 3 {
		t.Fatalf("Expected 3 sections, got %d", len(d.Sections))
	}
	s := d.Sections[1]
	if s.SectionNumber != 13 || s.Width != 640 || s.Height != 480 || s.Resolution != 1.4 {
		t.Errorf("Unexpected section: %+v", s)
	}
	if s.Alignment.TVS[5] != 15 || s.Alignment.TSV[0] != 0 {
		t.Errorf("Alignment2D not read in order: %+v", s.Alignment)
	}
	if d.Geometry.MinSectionNumber != 10 || d.Geometry.SectionSpan != 7 || d.Geometry.MinSectionGap != 3 {
		t.Errorf("Unexpected geometry: %+v", d.Geometry)
	}
	if d.SectionSpacing != 75 || d.SectionOrigin != 250 {
		t.Errorf("Expected spacing 75 origin 250, got %g %g", d.SectionSpacing, d.SectionOrigin)
	}
	if name := s.ImageName(d.ID); name != "0013_100055124.jpg" {
		t.Errorf("Unexpected image name %q", name)
	}
}

func TestParseEnvelope(t *testing.T) {
	env := map[string]interface{}{
		"success": true,
		"msg":     []interface{}{createPayload(1, 2)},
	}
	d, _, err := Parse(encode(t, env))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if d.Geometry.MinSectionGap != 1 {
		t.Errorf("Expected gap 1, got %d", d.Geometry.MinSectionGap)
	}
}

func TestParseMissingFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p map[string]interface{})
		path   string
	}{
		{"tvr_05", func(p map[string]interface{}) {
			delete(p["alignment3d"].(map[string]interface{}), "tvr_05")
		}, "alignment3d.tvr_05"},
		{"trv non-numeric", func(p map[string]interface{}) {
			p["alignment3d"].(map[string]interface{})["trv_00"] = "1.0"
		}, "alignment3d.trv_00"},
		{"tvs_05", func(p map[string]interface{}) {
			img := p["section_images"].([]interface{})[1].(map[string]interface{})
			delete(img["alignment2d"].(map[string]interface{}), "tvs_05")
		}, "section_images[1].alignment2d.tvs_05"},
		{"age", func(p map[string]interface{}) {
			delete(p["specimen"].(map[string]interface{})["donor"].(map[string]interface{}), "age")
		}, "specimen.donor.age"},
		{"treatments empty", func(p map[string]interface{}) {
			p["treatments"] = []interface{}{}
		}, "treatments"},
		{"thickness", func(p map[string]interface{}) {
			delete(p, "section_thickness")
		}, "section_thickness"},
		{"section number fractional", func(p map[string]interface{}) {
			p["section_images"].([]interface{})[0].(map[string]interface{})["section_number"] = 1.5
		}, "section_images[0].section_number"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := createPayload(10, 13, 17)
			c.mutate(p)
			d, _, err := Parse(encode(t, []interface{}{p}))
			if d != nil {
				t.Errorf("Expected no record on error")
			}
			if !errors.Is(err, errs.ErrInput) {
				t.Fatalf("Expected InputError, got %v", err)
			}
			if !strings.Contains(err.Error(), c.path) {
				t.Errorf("Error %q does not name %q", err, c.path)
			}
		})
	}
}

func TestParseInvalidDocuments(t *testing.T) {
	for _, doc := range []string{`not json`, `[]`, `{"success": true}`, `[42]`, `"text"`} {
		if _, _, err := Parse([]byte(doc)); !errors.Is(err, errs.ErrInput) {
			t.Errorf("Parse(%s): expected InputError, got %v", doc, err)
		}
	}
}

func TestParseSingleSection(t *testing.T) {
	_, _, err := Parse(encode(t, []interface{}{createPayload(4)}))
	if !errors.Is(err, errs.ErrInsufficientData) {
		t.Errorf("Expected InsufficientData, got %v", err)
	}
}

func TestParseMixedResolutions(t *testing.T) {
	p := createPayload(1, 2)
	p["section_images"].([]interface{})[0].(map[string]interface{})["resolution"] = 2.0
	d, warnings, err := Parse(encode(t, []interface{}{p}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if d.Geometry.MinResolution != 1.4 || len(warnings) != 1 {
		t.Errorf("Expected min resolution 1.4 and one warning, got %g %v", d.Geometry.MinResolution, warnings)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, encode(t, []interface{}{createPayload(2, 4)}), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	d, _, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if d.Geometry.MinSectionGap != 2 {
		t.Errorf("Expected gap 2, got %d", d.Geometry.MinSectionGap)
	}
	if _, _, err := ReadFile(filepath.Join(t.TempDir(), "none.json")); !errors.Is(err, errs.ErrInput) {
		t.Errorf("Expected InputError for missing file, got %v", err)
	}
}
