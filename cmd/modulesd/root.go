package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
)

type rootOptions struct {
	cfgFile  string
	envFiles []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "modulesd",
		Short:         "Module registry and fallback dispatcher for modular accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is config/modulesd.yaml when present)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default is .env when present)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSelectorCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func versionString() string {
	v := Version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	return fmt.Sprintf("modulesd %s (commit %s)", v, Commit)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}
