// Command electorate runs the voter registration and credential service.
//
// Subcommands: serve (the API server plus background workers), reconcile
// (a one-shot ledger backfill pass) and keygen (operator key material).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "electorate",
		Short:         "Voter registration and single-use voting credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(serveCmd(), reconcileCmd(), keygenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "electorate:", err)
		os.Exit(1)
	}
}
