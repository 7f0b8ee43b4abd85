package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/safeguard-project/safeguard/pkg/color"
)

var (
	jsonOutput bool
	configPath string
	noColor    bool
	rootCmd    = &cobra.Command{
		Use:   "safeguard",
		Short: "Safeguard - change safety pipeline for autonomous agents",
		Long: `Safeguard validates code changes proposed by autonomous agents,
records every verdict in a signed append-only audit trail, and watches
accepted deployments for metric regressions with automatic rollback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&configPath, "config", "", "path to safeguard.yaml")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute dispatches to the selected subcommand and exits nonzero on
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// outputJSON emits v as indented JSON on stdout. Commands call it on
// their --json branch in place of text output.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
