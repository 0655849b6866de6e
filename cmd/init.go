package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kamusis/regindex/internal/index"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new, empty index",
	Long: `Create the index directory and write its config.json.

The dl template may use {crate}, {version}, {prefix}, {lowerprefix} and
{sha256-checksum}; without markers "/{crate}/{version}/download" is appended
by clients. A directory holding anything but dot-entries is refused, unless
it is already a valid index without packages.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	flagInitDL                string
	flagInitAPI               string
	flagInitAuthRequired      bool
	flagInitAllowedRegistries []string
)

func init() {
	initCmd.Flags().StringVar(&flagInitDL, "dl", "", "Download URL template for archives (required)")
	initCmd.Flags().StringVar(&flagInitAPI, "api", "", "Base URL of the registry web API")
	initCmd.Flags().BoolVar(&flagInitAuthRequired, "auth-required", false, "Clients must authenticate for every request")
	initCmd.Flags().StringArrayVar(&flagInitAllowedRegistries, "allowed-registry", nil, "Registry index URL dependencies may come from (repeatable)")
	_ = initCmd.MarkFlagRequired("dl")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	if err := requireIndex(); err != nil {
		return err
	}
	opts, err := indexOptions()
	if err != nil {
		return err
	}
	root, err := index.Init(cmd.Context(), flagIndex, index.InitOptions{
		DL:                flagInitDL,
		API:               flagInitAPI,
		AuthRequired:      flagInitAuthRequired,
		AllowedRegistries: flagInitAllowedRegistries,
		Options:           opts,
	})
	if err != nil {
		return err
	}
	printOK("", fmt.Sprintf("Index ready: %s", root.Path()))
	return nil
}
