package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/regindex/internal/index"
	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/record"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Print the index record a .crate archive would produce",
	Long: `Build the record for an archive and print it as one JSON line, without
touching any index.`,
	Args: cobra.NoArgs,
	RunE: runMetadata,
}

var (
	flagMetadataCrate string
	flagMetadataCksum string
)

func init() {
	metadataCmd.Flags().StringVar(&flagMetadataCrate, "crate", "", "Path to the .crate archive (required)")
	metadataCmd.Flags().StringVar(&flagMetadataCksum, "cksum", "", "Expected SHA-256 of the archive")
	_ = metadataCmd.MarkFlagRequired("crate")
	rootCmd.AddCommand(metadataCmd)
}

func runMetadata(cmd *cobra.Command, _ []string) error {
	if err := requireIndexURL(); err != nil {
		return err
	}
	archive, err := os.ReadFile(flagMetadataCrate)
	if err != nil {
		return indexerr.Wrap(indexerr.IoFailure, err, "cannot read archive").WithPath(flagMetadataCrate, 0)
	}
	rec, err := index.Metadata(cmd.Context(), archive, flagIndexURL, index.MetadataOptions{ExpectedChecksum: flagMetadataCksum})
	if err != nil {
		return err
	}
	line, err := record.Encode(rec)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(line))
	return nil
}
