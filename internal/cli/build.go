package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sectionvolume/pkg/config"
	"sectionvolume/pkg/pipeline"
)

// BuildCmd returns the command that reconstructs a data set and resamples
// it to and from its atlas.
func BuildCmd() *cobra.Command {
	var (
		configPath        string
		metadataPath      string
		imageDir          string
		atlasRoot         string
		outputDir         string
		downsample        int
		channel           string
		maskInterpolation string
		canvasOrigin      string
		tolerance         float64
		saveIntermediary  bool
		extractSlices     bool
		slicesDir         string
		logfile           string
		verbose           bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a 3D volume from section images and resample it to the atlas",
		Long: `Reads the section data set metadata, stacks the section images into a
volume and mask, and resamples both into atlas space and the atlas into
volume space. Five NIfTI files are written to the output directory:

  volume.nii.gz, mask.nii.gz,
  resampled_volume.nii.gz, resampled_mask.nii.gz, resampled_atlas.nii.gz

Examples:
  sectionvolume build --metadata 100055124.json --images images/100055124
  sectionvolume build --config sectionvolume.toml --metadata meta.json --downsample 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, logfile, verbose)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("images") {
				cfg.Paths.ImageDir = imageDir
			}
			if flags.Changed("atlas") {
				cfg.Paths.AtlasRoot = atlasRoot
			}
			if flags.Changed("output") {
				cfg.Paths.OutputDir = outputDir
			}
			if flags.Changed("downsample") {
				cfg.Processing.DownsampleFactor = downsample
			}
			if flags.Changed("channel") {
				cfg.Processing.Channel = channel
			}
			if flags.Changed("mask-interpolation") {
				cfg.Processing.MaskInterpolation = maskInterpolation
			}
			if flags.Changed("canvas-origin") {
				cfg.Processing.CanvasOrigin = canvasOrigin
			}
			if flags.Changed("tolerance") {
				cfg.Processing.ConsistencyTolerance = tolerance
			}
			if flags.Changed("save-intermediary") {
				cfg.Processing.SaveIntermediaryResults = saveIntermediary
			}
			if flags.Changed("extract-slices") {
				cfg.Processing.ExtractSlices = extractSlices
			}
			if flags.Changed("slices-dir") {
				cfg.Paths.SlicesDir = slicesDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			summary, err := pipeline.Run(pipeline.OptionsFromConfig(cfg, metadataPath))
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		},
	}

	defaults := config.DefaultConfig()
	cmd.Flags().StringVarP(&configPath, "config", "c", "sectionvolume.yaml", "Config file (YAML, or TOML with a .toml extension)")
	cmd.Flags().StringVarP(&metadataPath, "metadata", "m", "", "Section data set metadata JSON")
	cmd.Flags().StringVar(&imageDir, "images", defaults.Paths.ImageDir, "Directory of section images")
	cmd.Flags().StringVar(&atlasRoot, "atlas", defaults.Paths.AtlasRoot, "Atlas root directory")
	cmd.Flags().StringVarP(&outputDir, "output", "o", defaults.Paths.OutputDir, "Output directory")
	cmd.Flags().IntVarP(&downsample, "downsample", "d", defaults.Processing.DownsampleFactor, "Downsample factor the images were fetched with")
	cmd.Flags().StringVar(&channel, "channel", defaults.Processing.Channel, "Image channel: red, green or blue")
	cmd.Flags().StringVar(&maskInterpolation, "mask-interpolation", defaults.Processing.MaskInterpolation, "Mask interpolation: nearest or linear")
	cmd.Flags().StringVar(&canvasOrigin, "canvas-origin", defaults.Processing.CanvasOrigin, "Section canvas origin: spacing or zero")
	cmd.Flags().Float64Var(&tolerance, "tolerance", defaults.Processing.ConsistencyTolerance, "Round trip tolerance for transform pairs, 0 disables")
	cmd.Flags().BoolVar(&saveIntermediary, "save-intermediary", false, "Save resampled sections as JPEG")
	cmd.Flags().BoolVar(&extractSlices, "extract-slices", false, "Save JPEG slices of the volume along all axes")
	cmd.Flags().StringVar(&slicesDir, "slices-dir", defaults.Paths.SlicesDir, "Directory for extracted slices")
	cmd.Flags().StringVar(&logfile, "logfile", "", "Also log to this file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	cmd.MarkFlagRequired("metadata")

	return cmd
}

func printSummary(s *pipeline.Summary) {
	r := s.Report
	d := s.Dataset
	fmt.Println()
	bold.Printf("Data set %d (%s, %s, %s)\n", d.ID, d.Treatment, d.Age, d.PlaneOfSection)
	fmt.Printf("  Sections:  %d\n", r.Sections)
	fmt.Printf("  Slices:    %d populated, %d empty (%.1f%% coverage)\n", r.PopulatedSlices, r.EmptySlices, 100*r.Coverage)
	fmt.Printf("  Intensity: mean %.2f, std %.2f\n", r.MeanIntensity, r.StdIntensity)
	fmt.Printf("  Duration:  %.2fs\n", s.Duration.Seconds())
	fmt.Println()
	for _, f := range s.Files {
		fmt.Printf("%s %s\n", okMark, f)
	}
	if len(s.Warnings) > 0 {
		fmt.Println()
		for _, w := range s.Warnings {
			fmt.Printf("%s %s\n", warnMark, w.Message)
		}
	}
}
