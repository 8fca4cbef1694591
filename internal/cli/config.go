package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sectionvolume/pkg/config"
)

// ConfigCmd returns the config command group.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configCheckCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default values",
		Long: `Writes the default configuration. The format follows the extension:
.toml files are TOML, anything else YAML.

Examples:
  sectionvolume config init
  sectionvolume config init sectionvolume.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "sectionvolume.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", okMark, path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: downsample %d, channel %s, mask %s\n", okMark, args[0],
				cfg.Processing.DownsampleFactor, cfg.Processing.Channel, cfg.Processing.MaskInterpolation)
			return nil
		},
	}
}
