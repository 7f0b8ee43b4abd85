package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/safeguard-project/safeguard/internal/audit"
	"github.com/safeguard-project/safeguard/internal/compression"
	"github.com/safeguard-project/safeguard/pkg/color"
	"github.com/safeguard-project/safeguard/pkg/model"
	"github.com/safeguard-project/safeguard/pkg/template"
)

var (
	auditListType       string
	auditListAgent      string
	auditListDeployment string
	auditListFrom       string
	auditListTo         string
	auditListLimit      int

	auditVerifyFrom string
	auditVerifyTo   string

	auditExportFormat   string
	auditExportOut      string
	auditExportFrom     string
	auditExportTo       string
	auditExportCompress string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and maintain the audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	Long: `List audit entries in append order, filters combined with AND.

Examples:
  safeguard audit list
  safeguard audit list --type incident --limit 20
  safeguard audit list --deployment deploy-v1.2.0-a1b2c3d4
  safeguard audit list --from 2026-08-01 --to 2026-08-25`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		trail := openTrail(cfg)
		defer trail.Close()

		f := audit.Filter{
			EventType:    model.EventType(auditListType),
			AgentID:      auditListAgent,
			DeploymentID: auditListDeployment,
			Limit:        auditListLimit,
		}
		var err error
		if f.From, err = parseTimeFlag(auditListFrom); err != nil {
			fmtErr("audit list: --from: %v", err)
			os.Exit(1)
		}
		if f.To, err = parseTimeFlag(auditListTo); err != nil {
			fmtErr("audit list: --to: %v", err)
			os.Exit(1)
		}

		entries, err := trail.Query(context.Background(), f)
		if err != nil {
			fmtErr("audit list: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(entries)
			return
		}

		if len(entries) == 0 {
			fmt.Println("No entries.")
			return
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %-16s  %-12s  risk %.2f\n",
				shortID(e.ID), e.TimestampISO, e.EventType, e.Agent.ID, e.RiskScore)
		}
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show one audit entry",
	Long: `Show one audit entry.

Accepts a full entry id or any unique prefix, so the short ids printed
by audit list paste straight in.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		trail := openTrail(cfg)
		defer trail.Close()

		id, err := trail.Resolve(context.Background(), args[0])
		if err != nil {
			fmtErr("audit show: %v", err)
			os.Exit(1)
		}
		entry, err := trail.Get(context.Background(), id)
		if err != nil {
			fmtErr("audit show: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(entry)
			return
		}

		fmt.Printf("Entry:      %s\n", entry.ID)
		fmt.Printf("Timestamp:  %s\n", entry.TimestampISO)
		fmt.Printf("Event:      %s\n", entry.EventType)
		fmt.Printf("Agent:      %s (%s)\n", entry.Agent.ID, entry.Agent.Type)
		fmt.Printf("Risk score: %.2f\n", entry.RiskScore)
		fmt.Printf("Signature:  %s\n", entry.Signature)
		if len(entry.Payload) > 0 {
			payload, err := json.MarshalIndent(entry.Payload, "  ", "  ")
			if err == nil {
				fmt.Printf("Payload:\n  %s\n", payload)
			}
		}
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit trail integrity",
	Long: `Verify audit trail integrity.

Recomputes every entry signature in the range. Exits 1 when any entry
fails verification.

Examples:
  safeguard audit verify
  safeguard audit verify --from 2026-08-01`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		trail := openTrail(cfg)
		defer trail.Close()

		r, err := verifyRange()
		if err != nil {
			fmtErr("audit verify: %v", err)
			os.Exit(1)
		}

		report, err := trail.VerifyIntegrity(context.Background(), r)
		if err != nil {
			fmtErr("audit verify: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(report)
			if !report.Valid {
				os.Exit(1)
			}
			return
		}

		if report.Valid {
			status := "OK"
			if color.Enabled() {
				status = color.Success(status)
			}
			fmt.Printf("%s  %d entries verified\n", status, report.Checked)
			return
		}

		status := "TAMPERED"
		if color.Enabled() {
			status = color.Error(status)
		}
		fmt.Printf("%s  %d entries checked, %d broken\n", status, report.Checked, len(report.BrokenEntries))
		for _, broken := range report.BrokenEntries {
			fmt.Printf("  %s\n", broken)
		}
		os.Exit(1)
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit entries",
	Long: `Export audit entries for compliance handoff.

Formats: jsonl (stored form, byte-identical) and csv (flattened, payload
as a JSON column). Writes to stdout unless --out is given; --out expands
{date}, {time}, {hostname}, and {format} placeholders. An --out path
ending in .gz is gzip-compressed at the --compression level.

Examples:
  safeguard audit export --format jsonl > trail.jsonl
  safeguard audit export --format csv --out trail-{date}.csv --from 2026-01-01
  safeguard audit export --out trail-{date}.jsonl.gz --compression max`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		trail := openTrail(cfg)
		defer trail.Close()

		format, err := audit.ParseExportFormat(auditExportFormat)
		if err != nil {
			fmtErr("audit export: %v", err)
			os.Exit(1)
		}

		var r audit.Range
		if r.From, err = parseTimeFlag(auditExportFrom); err != nil {
			fmtErr("audit export: --from: %v", err)
			os.Exit(1)
		}
		if r.To, err = parseTimeFlag(auditExportTo); err != nil {
			fmtErr("audit export: --to: %v", err)
			os.Exit(1)
		}

		level, err := compression.ParseLevel(auditExportCompress)
		if err != nil {
			fmtErr("audit export: %v", err)
			os.Exit(1)
		}

		var w io.Writer = os.Stdout
		if auditExportOut != "" && auditExportOut != "-" {
			// Placeholders like {date} make dated compliance drops easy.
			out := template.Expand(auditExportOut, map[string]string{"format": string(format)})
			f, err := os.Create(out)
			if err != nil {
				fmtErr("audit export: %v", err)
				os.Exit(1)
			}
			defer f.Close()

			gw, closeGz, err := compression.WriterFor(f, out, level)
			if err != nil {
				fmtErr("audit export: %v", err)
				os.Exit(1)
			}
			defer closeGz()
			w = gw
		}

		if err := trail.ExportRange(context.Background(), r, format, w); err != nil {
			fmtErr("audit export: %v", err)
			os.Exit(1)
		}
	},
}

var auditRebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the audit index from the buckets",
	Long: `Rebuild the audit index from the buckets.

The index is derived state; rebuilding rescans every bucket file and
rewrites it. Use after a doctor finding reports the index out of sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		trail := openTrail(cfg)
		defer trail.Close()

		if err := trail.RebuildIndex(context.Background()); err != nil {
			fmtErr("audit rebuild-index: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]any{"entries": trail.Len()})
			return
		}
		fmt.Printf("Index rebuilt, %d entries.\n", trail.Len())
	},
}

func verifyRange() (audit.Range, error) {
	var r audit.Range
	var err error
	if r.From, err = parseTimeFlag(auditVerifyFrom); err != nil {
		return r, err
	}
	if r.To, err = parseTimeFlag(auditVerifyTo); err != nil {
		return r, err
	}
	return r, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func init() {
	auditListCmd.Flags().StringVar(&auditListType, "type", "", "filter by event type")
	auditListCmd.Flags().StringVar(&auditListAgent, "agent", "", "filter by agent id")
	auditListCmd.Flags().StringVar(&auditListDeployment, "deployment", "", "filter by deployment id")
	auditListCmd.Flags().StringVar(&auditListFrom, "from", "", "earliest timestamp (RFC3339 or YYYY-MM-DD)")
	auditListCmd.Flags().StringVar(&auditListTo, "to", "", "latest timestamp (RFC3339 or YYYY-MM-DD)")
	auditListCmd.Flags().IntVarP(&auditListLimit, "limit", "n", 0, "maximum entries to list (0 = all)")

	auditVerifyCmd.Flags().StringVar(&auditVerifyFrom, "from", "", "earliest timestamp (RFC3339 or YYYY-MM-DD)")
	auditVerifyCmd.Flags().StringVar(&auditVerifyTo, "to", "", "latest timestamp (RFC3339 or YYYY-MM-DD)")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "jsonl", "export format (jsonl or csv)")
	auditExportCmd.Flags().StringVarP(&auditExportOut, "out", "o", "", "output file (default stdout)")
	auditExportCmd.Flags().StringVar(&auditExportFrom, "from", "", "earliest timestamp (RFC3339 or YYYY-MM-DD)")
	auditExportCmd.Flags().StringVar(&auditExportTo, "to", "", "latest timestamp (RFC3339 or YYYY-MM-DD)")
	auditExportCmd.Flags().StringVar(&auditExportCompress, "compression", "default", "gzip level for .gz outputs (none, fast, default, max)")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditRebuildIndexCmd)
	rootCmd.AddCommand(auditCmd)
}
