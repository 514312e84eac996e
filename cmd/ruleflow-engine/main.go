// Command ruleflow-engine hosts the decision engine's HTTP surface and its
// offline repository tooling behind one binary, grounded on the teacher's
// cmd/betrace-backend/main.go (stdlib mux, graceful shutdown, OTel init)
// generalized into a cobra root with serve/validate/compile subcommands
// (the multi-command CLI shape adopted from the wider pack, see DESIGN.md).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"

	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "ruleflow-engine",
		Short: "RuleFlow decision engine: serve decide() over HTTP or operate its rule repository offline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON config file (env RULEFLOW_* overrides)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newCompileCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("ruleflow-engine %s (%s)\n", version, commit)
			return nil
		},
	}
}
