package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kamusis/regindex/internal/index"
)

var yankCmd = &cobra.Command{
	Use:   "yank",
	Short: "Mark a published version as yanked",
	Args:  cobra.NoArgs,
	RunE:  runYank,
}

var unyankCmd = &cobra.Command{
	Use:   "unyank",
	Short: "Clear the yanked flag of a published version",
	Args:  cobra.NoArgs,
	RunE:  runYank,
}

var (
	flagYankPackage string
	flagYankVersion string
)

func init() {
	for _, c := range []*cobra.Command{yankCmd, unyankCmd} {
		c.Flags().StringVarP(&flagYankPackage, "package", "p", "", "Package name (required)")
		c.Flags().StringVar(&flagYankVersion, "version", "", "Exact version (required)")
		_ = c.MarkFlagRequired("package")
		_ = c.MarkFlagRequired("version")
		rootCmd.AddCommand(c)
	}
}

func runYank(cmd *cobra.Command, _ []string) error {
	root, err := openIndex()
	if err != nil {
		return err
	}
	id := flagYankPackage + ":" + flagYankVersion
	if cmd.Name() == "unyank" {
		if err := index.Unyank(cmd.Context(), root, flagYankPackage, flagYankVersion); err != nil {
			return err
		}
		printOK(id, "unyanked")
		return nil
	}
	if err := index.Yank(cmd.Context(), root, flagYankPackage, flagYankVersion); err != nil {
		return err
	}
	printOK(id, "yanked")
	return nil
}
