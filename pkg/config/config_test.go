package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sectionvolume/pkg/errs"
	"sectionvolume/pkg/imaging"
	"sectionvolume/pkg/reconstruction"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Processing.DownsampleFactor != 3 {
		t.Errorf("Expected downsample factor 3, got %d", cfg.Processing.DownsampleFactor)
	}
	if cfg.Channel() != imaging.Blue {
		t.Errorf("Expected blue channel, got %s", cfg.Channel())
	}
	if cfg.MaskInterpolator() != imaging.NearestNeighbor {
		t.Errorf("Expected nearest neighbour mask interpolation, got %s", cfg.MaskInterpolator())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Channel != "blue" {
		t.Errorf("Expected defaults, got %+v", cfg.Processing)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		path := filepath.Join(t.TempDir(), "sub", name)
		cfg := DefaultConfig()
		cfg.Processing.DownsampleFactor = 5
		cfg.Processing.Channel = "green"
		cfg.Paths.AtlasRoot = "/data/atlas"
		cfg.Logging.Verbose = true
		if err := SaveConfig(cfg, path); err != nil {
			t.Fatalf("%s: SaveConfig failed: %v", name, err)
		}
		loaded, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("%s: LoadConfig failed: %v", name, err)
		}
		if loaded.Processing.DownsampleFactor != 5 || loaded.Channel() != imaging.Green {
			t.Errorf("%s: processing not preserved: %+v", name, loaded.Processing)
		}
		if loaded.Paths.AtlasRoot != "/data/atlas" || !loaded.Logging.Verbose {
			t.Errorf("%s: paths or logging not preserved", name)
		}
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	doc := "[processing]\nchannel = \"red\"\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Channel() != imaging.Red || cfg.Processing.DownsampleFactor != 3 {
		t.Errorf("Expected red channel with default downsample, got %+v", cfg.Processing)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"channel", func(c *Config) { c.Processing.Channel = "alpha" }},
		{"interpolation", func(c *Config) { c.Processing.MaskInterpolation = "cubic" }},
		{"downsample", func(c *Config) { c.Processing.DownsampleFactor = -1 }},
		{"tolerance", func(c *Config) { c.Processing.ConsistencyTolerance = -0.5 }},
		{"canvas origin", func(c *Config) { c.Processing.CanvasOrigin = "center" }},
		{"workers", func(c *Config) { c.Download.Workers = 0 }},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		c.mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, errs.ErrInput) {
			t.Errorf("%s: expected InputError, got %v", c.name, err)
		}
	}
}

func TestCanvasOrigin(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.CanvasOrigin() != reconstruction.CanvasOriginSpacing {
		t.Errorf("Expected default canvas origin spacing, got %s", cfg.CanvasOrigin())
	}

	path := filepath.Join(t.TempDir(), "zero.yaml")
	os.WriteFile(path, []byte("processing:\n  canvasOrigin: zero\n"), 0644)
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.CanvasOrigin() != reconstruction.CanvasOriginZero {
		t.Errorf("Expected canvas origin zero, got %s", loaded.CanvasOrigin())
	}
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("processing: [unclosed"), 0644)
	if _, err := LoadConfig(bad); err == nil {
		t.Errorf("Expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(invalid, []byte("processing:\n  channel: purple\n"), 0644)
	if _, err := LoadConfig(invalid); !errors.Is(err, errs.ErrInput) {
		t.Errorf("Expected InputError for unknown channel, got %v", err)
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Download.ProductID != 3 {
		t.Errorf("Expected product id 3, got %d", cfg.Download.ProductID)
	}
}
