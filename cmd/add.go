package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/regindex/internal/importer"
	"github.com/kamusis/regindex/internal/index"
	"github.com/kamusis/regindex/internal/indexerr"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Publish a .crate archive to the index",
	Args:  cobra.NoArgs,
	RunE:  runAdd,
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Publish every .crate archive found under a directory",
	Long: `Walk <dir> for *.crate files and add each one.

Versions already in the index with the same checksum are skipped. A version
published with a different checksum is reported as a conflict and left
untouched. Paths matching the settings' excludes are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var (
	flagAddCrate  string
	flagAddForce  bool
	flagAddUpload string
	flagAddCksum  string
)

func init() {
	addCmd.Flags().StringVar(&flagAddCrate, "crate", "", "Path to the .crate archive (required)")
	addCmd.Flags().BoolVar(&flagAddForce, "force", false, "Replace an existing record for the same version")
	addCmd.Flags().StringVar(&flagAddUpload, "upload", "", "Copy the archive into this directory first ({crate} and {version} are expanded)")
	addCmd.Flags().StringVar(&flagAddCksum, "cksum", "", "Expected SHA-256 of the archive")
	_ = addCmd.MarkFlagRequired("crate")
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(importCmd)
}

func runAdd(cmd *cobra.Command, _ []string) error {
	if err := requireIndexURL(); err != nil {
		return err
	}
	root, err := openIndex()
	if err != nil {
		return err
	}
	upload := flagAddUpload
	if !cmd.Flags().Changed("upload") {
		upload = settings.Upload
	}
	if upload != "" {
		if upload, err = filepath.Abs(upload); err != nil {
			return fmt.Errorf("cannot resolve upload directory: %w", err)
		}
	}
	rec, err := index.AddFile(cmd.Context(), root, flagAddCrate, flagIndexURL, index.AddOptions{
		Force:            flagAddForce,
		Upload:           filepath.ToSlash(upload),
		ExpectedChecksum: flagAddCksum,
	})
	if err != nil {
		return err
	}
	printOK(rec.ID(), fmt.Sprintf("added to %s", filepath.Join(flagIndex, filepath.FromSlash(root.Store().PathOf(rec.Name)))))
	if cfg, err := root.Config(); err == nil {
		printInfo(rec.ID(), "download: "+cfg.DownloadURL(rec.Name, rec.Vers, rec.Cksum))
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := requireIndexURL(); err != nil {
		return err
	}
	root, err := openIndex()
	if err != nil {
		return err
	}
	res, err := importer.ImportDir(cmd.Context(), root, args[0], flagIndexURL, settings.Excludes)
	if err != nil {
		return err
	}

	printSection("Import")
	printOK("", fmt.Sprintf("%d archive(s) imported", res.Imported))
	if res.Skipped > 0 {
		printSkip("", fmt.Sprintf("%d archive(s) already in the index", res.Skipped))
	}
	if res.Excluded > 0 {
		printSkip("", fmt.Sprintf("%d path(s) excluded", res.Excluded))
	}
	for _, c := range res.Conflicts {
		printWarn(c.Package+":"+c.Version, fmt.Sprintf("%s has checksum %s, index has %s", c.Path, c.Incoming, c.Existing))
	}
	if n := len(res.Conflicts); n > 0 {
		return indexerr.New(indexerr.DuplicateVersion, "%d archive(s) conflict with published versions", n)
	}
	return nil
}
