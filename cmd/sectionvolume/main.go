package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sectionvolume/internal/cli"
	"sectionvolume/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sectionvolume",
		Short: "Reconstruct 3D gene expression volumes from aligned section images",
		Long: `sectionvolume stacks the 2D section images of an in situ hybridization
data set into a 3D volume using the data set's 2D and 3D alignment
affines, then resamples the volume into reference atlas space and the
atlas into volume space. Results are written as NIfTI files.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.BuildCmd())
	rootCmd.AddCommand(cli.DownloadCmd())
	rootCmd.AddCommand(cli.ConfigCmd())

	err := rootCmd.Execute()
	logging.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
