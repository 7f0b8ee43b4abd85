package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/safeguard-project/safeguard/internal/doctor"
	"github.com/safeguard-project/safeguard/pkg/color"
)

var doctorStrict bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check installation health",
	Long: `Check installation health.

Runs diagnostic checks on the audit storage, index, policy, and signing
configuration. Use --strict to additionally verify every audit signature,
which reads the full trail.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		doc := doctor.NewDoctor(cfg)
		result, err := doc.Check(context.Background(), doctorStrict)
		if err != nil {
			fmtErr("doctor: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(result)
		} else {
			printFindings(result)
		}
		if !result.Healthy {
			os.Exit(1)
		}
	},
}

func printFindings(result *doctor.Result) {
	if len(result.Findings) == 0 {
		fmt.Println(color.Success("installation healthy"))
		return
	}

	fmt.Printf("%d finding(s)\n", len(result.Findings))
	for _, f := range result.Findings {
		severity := f.Severity
		if color.Enabled() {
			switch f.Severity {
			case "critical":
				severity = color.Error(severity)
			case "warning":
				severity = color.Warning(severity)
			}
		}
		fmt.Printf("%-10s %-14s %s\n", severity, f.Category, f.Description)
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "verify every audit signature")
	rootCmd.AddCommand(doctorCmd)
}
