package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/regindex/internal/index"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every file and record of the index",
	Long: `Walk the whole index and report every broken rule: file placement, record
syntax, names, versions, requirements, checksums, duplicates and config.json.
With --crates, every record's archive must exist there with a matching
checksum. The index is never modified.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var (
	flagValidateCrates      string
	flagValidateConcurrency int
)

func init() {
	validateCmd.Flags().StringVar(&flagValidateCrates, "crates", "", "Directory holding the archives ({crate} and {version} are expanded)")
	validateCmd.Flags().IntVar(&flagValidateConcurrency, "concurrency", 0, "Files checked in parallel (0 = number of CPUs)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	root, err := openIndex()
	if err != nil {
		return err
	}
	opts := index.ValidateOptions{Concurrency: flagValidateConcurrency}
	if flagValidateCrates != "" {
		abs, err := filepath.Abs(flagValidateCrates)
		if err != nil {
			return fmt.Errorf("cannot resolve crates directory: %w", err)
		}
		opts.CratesDir = filepath.ToSlash(abs)
	}
	violations, err := index.Validate(cmd.Context(), root, opts)
	if err != nil {
		return err
	}

	printSection("Validate")
	if len(violations) == 0 {
		printOK("", fmt.Sprintf("%s is valid", flagIndex))
		return nil
	}
	for _, v := range violations {
		printErr("", v.String())
	}
	return fmt.Errorf("%w: %d violation(s)", errInvalidIndex, len(violations))
}
