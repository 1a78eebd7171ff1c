package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/modular_accounts/internal/types"
)

func newSelectorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selector <signature>...",
		Short: "Print the 4-byte selector of function signatures",
		Example: `  modulesd selector "onInstall(bytes)"
  modulesd selector "installModule(uint256,address,bytes)" "accountId()"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, sig := range args {
				sig = strings.TrimSpace(sig)
				if !strings.HasSuffix(sig, ")") || !strings.Contains(sig, "(") {
					return fmt.Errorf("%q is not a function signature", sig)
				}
				if strings.ContainsAny(sig, " \t") {
					return fmt.Errorf("%q: canonical signatures have no spaces", sig)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", types.SelectorOf(sig), sig)
			}
			return nil
		},
	}
}
