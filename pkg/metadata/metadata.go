// Package metadata extracts a DatasetRecord from the JSON document the
// brain-map API returns for a section data set.
//
// Extraction is field by field. A missing or mistyped required field is an
// errs.Input error whose Op is the field path, e.g.
// "section_images[3].alignment2d.tvs_05". Nothing is defaulted.
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"sectionvolume/internal/models"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/geometry"
)

type object = map[string]interface{}

// ReadFile parses the metadata file at path.
func ReadFile(path string) (*models.DatasetRecord, []errs.DataQualityWarning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errs.Wrap(errs.Input, path, err)
	}
	return Parse(data)
}

// Parse decodes a metadata payload: a JSON array whose first element is the
// dataset, or the API envelope {"success": ..., "msg": [...]}. Derived
// geometry is filled in; data quality warnings are returned, not logged.
func Parse(data []byte) (*models.DatasetRecord, []errs.DataQualityWarning, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, errs.Wrap(errs.Input, "metadata", fmt.Errorf("invalid JSON: %w", err))
	}

	if env, ok := raw.(object); ok {
		msg, found := env["msg"]
		if !found {
			return nil, nil, errs.New(errs.Input, "metadata", "expected an array or an object with \"msg\"")
		}
		raw = msg
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, nil, errs.New(errs.Input, "metadata", "expected an array of dataset records")
	}
	if len(list) == 0 {
		return nil, nil, errs.New(errs.Input, "metadata", "empty dataset list")
	}
	payload, ok := list[0].(object)
	if !ok {
		return nil, nil, errs.New(errs.Input, "metadata[0]", "expected an object")
	}

	d, err := parseDataset(payload)
	if err != nil {
		return nil, nil, err
	}
	g, warnings, err := geometry.Compute(d.Sections)
	if err != nil {
		return nil, nil, err
	}
	d.SetGeometry(g)
	return d, warnings, nil
}

func parseDataset(p object) (*models.DatasetRecord, error) {
	var (
		d   models.DatasetRecord
		err error
	)
	if d.ID, err = integer(p, "", "id"); err != nil {
		return nil, err
	}
	if d.Treatment, err = nestedName(p, "treatments"); err != nil {
		return nil, err
	}
	if d.PlaneOfSection, err = nestedName(p, "plane_of_section"); err != nil {
		return nil, err
	}
	if d.Age, err = nestedName(p, "specimen", "donor", "age"); err != nil {
		return nil, err
	}
	if d.SectionThickness, err = number(p, "", "section_thickness"); err != nil {
		return nil, err
	}

	a3, err := child(p, "", "alignment3d")
	if err != nil {
		return nil, err
	}
	if err := vector(a3, "alignment3d", "trv", d.Alignment.TRV[:]); err != nil {
		return nil, err
	}
	if err := vector(a3, "alignment3d", "tvr", d.Alignment.TVR[:]); err != nil {
		return nil, err
	}

	v, ok := p["section_images"]
	if !ok {
		return nil, missing("section_images")
	}
	images, ok := v.([]interface{})
	if !ok {
		return nil, errs.New(errs.Input, "section_images", "expected an array")
	}
	d.Sections = make([]models.SectionImageRecord, 0, len(images))
	for i, img := range images {
		path := fmt.Sprintf("section_images[%d]", i)
		obj, ok := img.(object)
		if !ok {
			return nil, errs.New(errs.Input, path, "expected an object")
		}
		s, err := parseSection(obj, path)
		if err != nil {
			return nil, err
		}
		d.Sections = append(d.Sections, s)
	}
	return &d, nil
}

func parseSection(o object, path string) (models.SectionImageRecord, error) {
	var s models.SectionImageRecord
	n, err := integer(o, path, "section_number")
	if err != nil {
		return s, err
	}
	s.SectionNumber = int(n)
	w, err := integer(o, path, "width")
	if err != nil {
		return s, err
	}
	h, err := integer(o, path, "height")
	if err != nil {
		return s, err
	}
	s.Width, s.Height = int(w), int(h)
	if s.Resolution, err = number(o, path, "resolution"); err != nil {
		return s, err
	}
	a2, err := child(o, path, "alignment2d")
	if err != nil {
		return s, err
	}
	a2path := join(path, "alignment2d")
	if err := vector(a2, a2path, "tsv", s.Alignment.TSV[:]); err != nil {
		return s, err
	}
	if err := vector(a2, a2path, "tvs", s.Alignment.TVS[:]); err != nil {
		return s, err
	}
	return s, nil
}

// vector reads <prefix>_00 .. <prefix>_NN into dst.
func vector(o object, path, prefix string, dst []float64) error {
	for i := range dst {
		v, err := number(o, path, fmt.Sprintf("%s_%02d", prefix, i))
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// nestedName follows keys through nested objects and returns the "name"
// field at the end. The first element is taken when a key holds an array.
func nestedName(o object, keys ...string) (string, error) {
	path := ""
	cur := o
	for _, k := range keys {
		v, ok := cur[k]
		if !ok {
			return "", missing(join(path, k))
		}
		path = join(path, k)
		if arr, isArr := v.([]interface{}); isArr {
			if len(arr) == 0 {
				return "", errs.New(errs.Input, path, "empty array")
			}
			v = arr[0]
			path += "[0]"
		}
		next, ok := v.(object)
		if !ok {
			return "", errs.New(errs.Input, path, "expected an object")
		}
		cur = next
	}
	v, ok := cur["name"]
	if !ok {
		return "", missing(join(path, "name"))
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.New(errs.Input, join(path, "name"), "expected a string")
	}
	return s, nil
}

func child(o object, path, key string) (object, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, missing(join(path, key))
	}
	c, ok := v.(object)
	if !ok {
		return nil, errs.New(errs.Input, join(path, key), "expected an object")
	}
	return c, nil
}

func number(o object, path, key string) (float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return 0, missing(join(path, key))
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, errs.New(errs.Input, join(path, key), "expected a number, got %T", v)
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errs.New(errs.Input, join(path, key), "invalid number %q", n.String())
	}
	return f, nil
}

func integer(o object, path, key string) (int64, error) {
	f, err := number(o, path, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errs.New(errs.Input, join(path, key), "expected an integer, got %g", f)
	}
	return int64(f), nil
}

func missing(path string) error {
	return errs.New(errs.Input, path, "missing required field")
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
