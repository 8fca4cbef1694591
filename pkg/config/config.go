// Package config provides configuration loading and management for sectionvolume.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"sectionvolume/internal/logging"
	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/reconstruction"
)

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// DownsampleFactor d: images are fetched at 1/2^d of native resolution
		DownsampleFactor int `yaml:"downsampleFactor" toml:"downsample_factor"`

		// Channel is the color channel read from section images: red, green or blue
		Channel string `yaml:"channel" toml:"channel"`

		// MaskInterpolation is used when resampling the mask: nearest or linear
		MaskInterpolation string `yaml:"maskInterpolation" toml:"mask_interpolation"`

		// CanvasOrigin places the section canvas: spacing puts index 0 one
		// pixel in from the tvs origin, zero puts it at the tvs origin
		CanvasOrigin string `yaml:"canvasOrigin" toml:"canvas_origin"`

		// ConsistencyTolerance bounds the round-trip error of redundant
		// transform pairs; 0 disables the check
		ConsistencyTolerance float64 `yaml:"consistencyTolerance" toml:"consistency_tolerance"`

		// SaveIntermediaryResults writes each resampled section as a JPEG
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults" toml:"save_intermediary_results"`

		// ExtractSlices writes x, y and z slice previews of the volume
		ExtractSlices bool `yaml:"extractSlices" toml:"extract_slices"`
	} `yaml:"processing" toml:"processing"`

	// Input and output locations
	Paths struct {
		AtlasRoot       string `yaml:"atlasRoot" toml:"atlas_root"`
		ImageDir        string `yaml:"imageDir" toml:"image_dir"`
		OutputDir       string `yaml:"outputDir" toml:"output_dir"`
		IntermediaryDir string `yaml:"intermediaryDir" toml:"intermediary_dir"`
		SlicesDir       string `yaml:"slicesDir" toml:"slices_dir"`
	} `yaml:"paths" toml:"paths"`

	Logging logging.Config `yaml:"logging" toml:"logging"`

	// Download helper parameters
	Download struct {
		// ProductID filters the section data set query
		ProductID int `yaml:"productId" toml:"product_id"`

		// Workers is the number of concurrent image downloads
		Workers int `yaml:"workers" toml:"workers"`

		// BaseURL is the API host
		BaseURL string `yaml:"baseUrl" toml:"base_url"`
	} `yaml:"download" toml:"download"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.DownsampleFactor = 3
	cfg.Processing.Channel = imaging.Blue.String()
	cfg.Processing.MaskInterpolation = imaging.NearestNeighbor.String()
	cfg.Processing.CanvasOrigin = reconstruction.CanvasOriginSpacing.String()
	cfg.Processing.ConsistencyTolerance = 1.0
	cfg.Processing.SaveIntermediaryResults = false

	cfg.Paths.AtlasRoot = "atlas"
	cfg.Paths.ImageDir = "images"
	cfg.Paths.OutputDir = "output"
	cfg.Paths.IntermediaryDir = "intermediary"
	cfg.Paths.SlicesDir = "reconstructed_slices"

	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30

	cfg.Download.ProductID = 3
	cfg.Download.Workers = 4
	cfg.Download.BaseURL = "http://api.brain-map.org"

	return cfg
}

// LoadConfig loads configuration from a YAML file, or a TOML file when the
// path ends in ".toml". If the file doesn't exist, it returns the default
// configuration. Values absent from the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration as YAML, or TOML for ".toml" paths
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks enumerated and ranged values. Failures are errs.Input
// errors naming the offending key.
func (c *Config) Validate() error {
	if c.Processing.DownsampleFactor < 0 {
		return errs.New(errs.Input, "processing.downsampleFactor", "must be non-negative, got %d", c.Processing.DownsampleFactor)
	}
	if _, err := imaging.ParseChannel(c.Processing.Channel); err != nil {
		return errs.Wrap(errs.Input, "processing.channel", err)
	}
	if _, err := imaging.ParseInterpolator(c.Processing.MaskInterpolation); err != nil {
		return errs.Wrap(errs.Input, "processing.maskInterpolation", err)
	}
	if _, err := reconstruction.ParseCanvasOrigin(c.Processing.CanvasOrigin); err != nil {
		return errs.Wrap(errs.Input, "processing.canvasOrigin", err)
	}
	if c.Processing.ConsistencyTolerance < 0 {
		return errs.New(errs.Input, "processing.consistencyTolerance", "must be non-negative, got %g", c.Processing.ConsistencyTolerance)
	}
	if c.Download.Workers < 1 {
		return errs.New(errs.Input, "download.workers", "must be at least 1, got %d", c.Download.Workers)
	}
	return nil
}

// Channel returns the validated color channel.
func (c *Config) Channel() imaging.Channel {
	ch, err := imaging.ParseChannel(c.Processing.Channel)
	if err != nil {
		return imaging.Blue
	}
	return ch
}

// MaskInterpolator returns the validated mask interpolator.
func (c *Config) MaskInterpolator() imaging.Interpolator {
	i, err := imaging.ParseInterpolator(c.Processing.MaskInterpolation)
	if err != nil {
		return imaging.NearestNeighbor
	}
	return i
}

// CanvasOrigin returns the validated canvas origin setting.
func (c *Config) CanvasOrigin() reconstruction.CanvasOrigin {
	o, err := reconstruction.ParseCanvasOrigin(c.Processing.CanvasOrigin)
	if err != nil {
		return reconstruction.CanvasOriginSpacing
	}
	return o
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
