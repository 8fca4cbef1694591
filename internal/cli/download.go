package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"sectionvolume/internal/logging"
	"sectionvolume/pkg/brainmap"
)

// DownloadCmd returns the command group fetching inputs from the brain map API.
func DownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch section metadata and images from the brain map API",
	}
	cmd.AddCommand(downloadMetadataCmd())
	cmd.AddCommand(downloadImagesCmd())
	return cmd
}

type downloadFlags struct {
	configPath string
	baseURL    string
	logfile    string
	verbose    bool
}

func (f *downloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "sectionvolume.yaml", "Config file")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "API host, overrides the config")
	cmd.Flags().StringVar(&f.logfile, "logfile", "", "Also log to this file")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Debug logging")
}

func (f *downloadFlags) client() (*brainmap.Client, int, error) {
	cfg, err := loadConfig(f.configPath, f.logfile, f.verbose)
	if err != nil {
		return nil, 0, err
	}
	base := cfg.Download.BaseURL
	if f.baseURL != "" {
		base = f.baseURL
	}
	return brainmap.NewClient(base, cfg.Download.Workers), cfg.Download.ProductID, nil
}

func parseDatasetID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid data set id %q", s)
	}
	return id, nil
}

func downloadMetadataCmd() *cobra.Command {
	var (
		flags     downloadFlags
		output    string
		productID int
	)

	cmd := &cobra.Command{
		Use:   "metadata <dataset-id>",
		Short: "Save the metadata record of a section data set as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDatasetID(args[0])
			if err != nil {
				return err
			}
			client, product, err := flags.client()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("product") {
				product = productID
			}
			if output == "" {
				output = fmt.Sprintf("%d.json", id)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := client.DownloadMetadata(ctx, id, product, output); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", okMark, output)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <dataset-id>.json)")
	cmd.Flags().IntVar(&productID, "product", 0, "Product id filter, overrides the config")
	return cmd
}

func downloadImagesCmd() *cobra.Command {
	var (
		flags      downloadFlags
		dir        string
		downsample int
	)

	cmd := &cobra.Command{
		Use:   "images <dataset-id>",
		Short: "Download the section images of a data set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDatasetID(args[0])
			if err != nil {
				return err
			}
			client, _, err := flags.client()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = filepath.Join("images", args[0])
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			files, err := client.DownloadImages(ctx, id, downsample, dir)
			if err != nil {
				return err
			}
			logging.Infof("Downloaded %d images to %s", len(files), dir)
			fmt.Printf("%s %d images in %s\n", okMark, len(files), dir)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&dir, "output", "o", "", "Output directory (default images/<dataset-id>)")
	cmd.Flags().IntVarP(&downsample, "downsample", "d", 3, "Fetch images at 1/2^d of native resolution")
	return cmd
}
