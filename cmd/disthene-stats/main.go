package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ddndrk/disthene/internal/config"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "disthene-stats",
		Short:         "Per-tenant ingestion statistics for a metric pipeline",
		Long:          "disthene-stats counts received and stored metrics per tenant and periodically emits them back into the pipeline as metrics.",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(stderr))
	root.AddCommand(newSoakCmd(stdout, stderr))
	root.AddCommand(newVersionCmd(stdout))
	return root
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "disthene-stats %s\n", Version)
			if GitCommit != "unknown" {
				fmt.Fprintf(stdout, "Commit: %s\n", GitCommit)
			}
		},
	}
}

// loadConfig builds the configuration from the command's parsed flags and
// validates it with validate.
func loadConfig(cmd *cobra.Command, validate func(config.Config) error) (*config.Config, error) {
	cfg, err := config.NewLoader().LoadFlags(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
