package cmd

import (
	"fmt"

	packageurl "github.com/package-url/packageurl-go"
	"github.com/spf13/cobra"

	"github.com/kamusis/regindex/internal/index"
	"github.com/kamusis/regindex/internal/indexcfg"
	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/record"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print index records",
	Long: `Print the records of one package (-p) or of the whole index, one per line.

Formats:
  json  the record line as stored in the index (default)
  purl  pkg:cargo/<name>@<version>, qualified with the index URL when known
  url   the download URL expanded from the index's dl template`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	flagListPackage string
	flagListVersion string
	flagListFormat  string
)

func init() {
	listCmd.Flags().StringVarP(&flagListPackage, "package", "p", "", "Package name (case-insensitive); all packages when empty")
	listCmd.Flags().StringVar(&flagListVersion, "version", "", "Only versions matching this requirement, e.g. \"^1.2\" or \"<2\"")
	listCmd.Flags().StringVar(&flagListFormat, "format", "json", "Output format: json, purl or url")
	rootCmd.AddCommand(listCmd)
}

// formatter renders one record as an output line.
type formatter func(record.Record) (string, error)

func newFormatter(format, indexURL string, cfg *indexcfg.Config) (formatter, error) {
	switch format {
	case "json":
		return func(r record.Record) (string, error) {
			line, err := record.Encode(r)
			return string(line), err
		}, nil
	case "purl":
		return func(r record.Record) (string, error) {
			return purl(r, indexURL), nil
		}, nil
	case "url":
		if cfg == nil {
			return nil, fmt.Errorf("--format url needs a readable config.json")
		}
		return func(r record.Record) (string, error) {
			return cfg.DownloadURL(r.Name, r.Vers, r.Cksum), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown format %q (want json, purl or url)", format)
}

// purl renders r as a Package URL of type cargo.
func purl(r record.Record, indexURL string) string {
	var q packageurl.Qualifiers
	if indexURL != "" {
		q = packageurl.QualifiersFromMap(map[string]string{"repository_url": indexURL})
	}
	return packageurl.NewPackageURL(packageurl.TypeCargo, "", r.Name, r.Vers, q, "").ToString()
}

func runList(cmd *cobra.Command, _ []string) error {
	root, err := openIndex()
	if err != nil {
		return err
	}
	var cfg *indexcfg.Config
	if flagListFormat == "url" {
		if cfg, err = root.Config(); err != nil {
			return err
		}
	}
	format, err := newFormatter(flagListFormat, flagIndexURL, cfg)
	if err != nil {
		return err
	}
	emit := func(r record.Record) error {
		line, err := format(r)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, line)
		return nil
	}

	if flagListPackage == "" {
		return index.ListAll(cmd.Context(), root, flagListVersion, emit)
	}
	recs, err := index.List(cmd.Context(), root, flagListPackage, flagListVersion)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return notListed(cmd, root, flagListPackage, flagListVersion)
	}
	for _, r := range recs {
		if err := emit(r); err != nil {
			return err
		}
	}
	return nil
}

// notListed explains an empty listing: the package is absent, or none of
// its versions match req.
func notListed(cmd *cobra.Command, root *index.Root, name, req string) error {
	if req != "" {
		all, err := index.List(cmd.Context(), root, name, "")
		if err != nil {
			return err
		}
		if len(all) > 0 {
			return indexerr.New(indexerr.VersionNotFound, "No entries found for `%s` that match version `%s`.", name, req).WithPackage(name, "")
		}
	}
	return indexerr.New(indexerr.VersionNotFound, "Package `%s` is not in the index.", name).WithPackage(name, "")
}
