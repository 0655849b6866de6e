package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/regindex/internal/config"
	"github.com/kamusis/regindex/internal/ctxlog"
	"github.com/kamusis/regindex/internal/index"
	"github.com/kamusis/regindex/internal/lock"
)

var rootCmd = &cobra.Command{
	Use:           "regindex",
	Short:         "regindex: maintain a Cargo-compatible package registry index",
	SilenceUsage:  true, // don't print usage on operational errors
	SilenceErrors: true, // Execute prints errors itself
	Long: `regindex builds and maintains a sparse, file-based package registry index:
one JSON record per published version, one file per package.

Defaults for --index, --index-url and the logging flags are read from
REGINDEX_* environment variables, ~/.regindex/.env and ~/.regindex/regindex.yaml.`,
	PersistentPreRunE: setup,
}

var (
	flagIndex       string
	flagIndexURL    string
	flagLockPolicy  string
	flagLockTimeout time.Duration
	flagLogLevel    string
	flagLogFormat   string

	// settings is the effective ~/.regindex configuration, loaded by setup.
	settings = config.DefaultConfig()
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagIndex, "index", "", "Index directory")
	pf.StringVar(&flagIndexURL, "index-url", "", "Public URL of the index, used to resolve dependency registries")
	pf.StringVar(&flagLockPolicy, "lock-policy", "wait", "What to do when another writer holds a package lock: wait or fail")
	pf.DurationVar(&flagLockTimeout, "lock-timeout", 0, "Give up waiting for a package lock after this long (0 waits forever)")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format: text or json")
}

// setup resolves flag defaults from settings and installs the logger in
// the command context. Explicit flags win over settings.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	eff, err := cfg.Effective()
	if err != nil {
		return err
	}
	settings = eff

	flags := cmd.Flags()
	for _, f := range []struct {
		name string
		dst  *string
		val  string
	}{
		{"index", &flagIndex, eff.Index},
		{"index-url", &flagIndexURL, eff.IndexURL},
		{"lock-policy", &flagLockPolicy, eff.LockPolicy},
		{"log-level", &flagLogLevel, eff.LogLevel},
		{"log-format", &flagLogFormat, eff.LogFormat},
	} {
		if !flags.Changed(f.name) && f.val != "" {
			*f.dst = f.val
		}
	}

	level, err := ctxlog.ParseLevel(flagLogLevel)
	if err != nil {
		return err
	}
	logger, err := ctxlog.New(level, flagLogFormat, stderr)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(ctxlog.WithLogger(ctx, logger))
	return nil
}

func indexOptions() (index.Options, error) {
	policy, err := lock.ParsePolicy(flagLockPolicy)
	if err != nil {
		return index.Options{}, err
	}
	return index.Options{LockPolicy: policy, LockTimeout: flagLockTimeout}, nil
}

func requireIndex() error {
	if flagIndex == "" {
		return fmt.Errorf("no index directory: pass --index or set %s", config.EnvIndex)
	}
	return nil
}

func requireIndexURL() error {
	if flagIndexURL == "" {
		return fmt.Errorf("no index URL: pass --index-url or set %s", config.EnvIndexURL)
	}
	return nil
}

// openIndex opens the index named by --index.
func openIndex() (*index.Root, error) {
	if err := requireIndex(); err != nil {
		return nil, err
	}
	opts, err := indexOptions()
	if err != nil {
		return nil, err
	}
	return index.Open(flagIndex, opts)
}

// Execute is called by main.go.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printErr("", err.Error())
	}
	os.Exit(exitCode(err))
}
