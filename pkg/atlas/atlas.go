// Package atlas loads reference atlases laid out as
//
//	<root>/atlas_metadata.json
//	<root>/<age>/<plane>/atlasVolume.nii.gz
//	<root>/<age>/<plane>/CanonicalToAtlasVolume.tfm
package atlas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sectionvolume/internal/logging"
	"sectionvolume/internal/models"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/nifti"
	"sectionvolume/pkg/transform"
)

const (
	MetadataFile  = "atlas_metadata.json"
	VolumeFile    = "atlasVolume.nii.gz"
	TransformFile = "CanonicalToAtlasVolume.tfm"
)

// metadataSchema describes age -> plane -> {standard_size: {width, height}}.
const metadataSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"required": ["standard_size"],
			"properties": {
				"standard_size": {
					"type": "object",
					"required": ["width", "height"],
					"properties": {
						"width": {"type": "number", "exclusiveMinimum": 0},
						"height": {"type": "number", "exclusiveMinimum": 0}
					}
				}
			}
		}
	}
}`

var schema = jsonschema.MustCompileString("atlas_metadata.schema.json", metadataSchema)

type planeEntry struct {
	StandardSize models.StandardSize `json:"standard_size"`
}

// Load reads the atlas for (age, plane). A missing or unreadable file, or
// no metadata entry for the pair, is an errs.NotFound error.
func Load(root, age, plane string) (*models.Atlas, error) {
	size, err := ReadStandardSize(root, age, plane)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(root, age, plane)
	volPath := filepath.Join(dir, VolumeFile)
	vol, err := nifti.ReadFile(volPath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, volPath, err)
	}
	if vol.Dimension() != 3 {
		return nil, errs.New(errs.NotFound, volPath, "atlas volume is %dD, expected 3D", vol.Dimension())
	}

	tfmPath := filepath.Join(dir, TransformFile)
	tra, err := transform.ReadTFMFile(tfmPath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, tfmPath, err)
	}
	if tra.Dimension() != 3 {
		return nil, errs.New(errs.NotFound, tfmPath, "canonical transform is %dD, expected 3D", tra.Dimension())
	}

	logging.Debugf("Loaded atlas %s/%s: %s", age, plane, vol)
	return &models.Atlas{
		Age:              age,
		PlaneOfSection:   plane,
		Volume:           vol,
		CanonicalToAtlas: tra,
		StandardSize:     size,
	}, nil
}

// ReadStandardSize returns the standard in-plane size for (age, plane)
// from the atlas metadata file. The file is validated against a schema;
// a malformed file is an errs.Input error.
func ReadStandardSize(root, age, plane string) (models.StandardSize, error) {
	path := filepath.Join(root, MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return models.StandardSize{}, errs.Wrap(errs.NotFound, path, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.StandardSize{}, errs.Wrap(errs.Input, path, fmt.Errorf("invalid JSON: %w", err))
	}
	if err := schema.Validate(doc); err != nil {
		return models.StandardSize{}, errs.Wrap(errs.Input, path, err)
	}

	var meta map[string]map[string]planeEntry
	if err := json.Unmarshal(data, &meta); err != nil {
		return models.StandardSize{}, errs.Wrap(errs.Input, path, err)
	}
	planes, ok := meta[age]
	if !ok {
		return models.StandardSize{}, errs.New(errs.NotFound, path, "no atlas for age %q", age)
	}
	entry, ok := planes[plane]
	if !ok {
		return models.StandardSize{}, errs.New(errs.NotFound, path, "no atlas for age %q plane %q", age, plane)
	}
	return entry.StandardSize, nil
}
