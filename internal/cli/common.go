// Package cli holds the cobra commands of the sectionvolume binary.
package cli

import (
	"github.com/fatih/color"

	"sectionvolume/internal/logging"
	"sectionvolume/pkg/config"
)

var (
	okMark   = color.New(color.FgHiGreen).Sprint("✓")
	warnMark = color.New(color.FgHiYellow).Sprint("⚠")
	bold     = color.New(color.Bold)
)

// loadConfig reads the config file and starts logging. Flag values override
// the file only when set explicitly.
func loadConfig(path, logfile string, verbose bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if logfile != "" {
		cfg.Logging.Logfile = logfile
	}
	if verbose {
		cfg.Logging.Verbose = true
	}
	logging.Setup(cfg.Logging)
	return cfg, nil
}
