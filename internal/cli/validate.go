package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safeguard-project/safeguard/internal/gatekeeper"
	"github.com/safeguard-project/safeguard/pkg/color"
	"github.com/safeguard-project/safeguard/pkg/model"
)

var (
	validateFile        string
	validateChangeSpecs []string
	validatePolicyPath  string
	validateStrict      bool
	validateAgentID     string
	validateAgentName   string
	validateAgentType   string
	validateSuccessRate float64
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a proposed change set",
	Long: `Validate a proposed change set against the safety policy.

Changes come from a JSON file (an array of {path, operation, diff_size}
objects) or from repeated --change flags. Validation is advisory: nothing
is written to the audit trail.

Examples:
  safeguard validate --change src/api.go:modify
  safeguard validate --change config.yml:delete --change src/db.go:modify:120
  safeguard validate --file changes.json --policy policy.yaml --strict`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		pol := loadPolicy(cfg, validatePolicyPath)

		changes, err := collectChanges()
		if err != nil {
			fmtErr("validate: %v", err)
			os.Exit(1)
		}
		if len(changes) == 0 {
			fmtErr("validate: no changes given (use --file or --change)")
			os.Exit(1)
		}

		agent := model.AgentDescriptor{
			ID:          validateAgentID,
			Name:        validateAgentName,
			Type:        model.AgentType(validateAgentType),
			SuccessRate: validateSuccessRate,
		}

		result, err := gatekeeper.New(nil).Validate(changes, agent, pol)
		if err != nil {
			fmtErr("validate: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(result)
		} else {
			printValidation(result)
		}

		if !result.Valid && validateStrict {
			os.Exit(1)
		}
	},
}

func printValidation(result *model.ValidationResult) {
	if result.Valid {
		verdict := "ACCEPTED"
		if color.Enabled() {
			verdict = color.Success(verdict)
		}
		fmt.Printf("%s  risk %.2f\n", verdict, result.RiskScore)
		return
	}

	verdict := "REJECTED"
	if color.Enabled() {
		verdict = color.Error(verdict)
	}
	fmt.Printf("%s  risk %.2f\n", verdict, result.RiskScore)
	fmt.Printf("  reason: %s\n", result.Reason)
	for _, v := range result.Violations {
		if v.Pattern != "" {
			fmt.Printf("  %s: %s (pattern %s)\n", v.Rule, v.Change.Path, v.Pattern)
		} else {
			fmt.Printf("  %s: %s\n", v.Rule, v.Change.Path)
		}
	}
}

// collectChanges merges the --file payload with --change specs.
func collectChanges() ([]model.Change, error) {
	var changes []model.Change

	if validateFile != "" {
		data, err := os.ReadFile(validateFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &changes); err != nil {
			return nil, fmt.Errorf("parse %s: %v", validateFile, err)
		}
	}

	for _, spec := range validateChangeSpecs {
		c, err := parseChangeSpec(spec)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// parseChangeSpec parses "path:op" or "path:op:diffsize".
func parseChangeSpec(spec string) (model.Change, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return model.Change{}, fmt.Errorf("malformed change %q (want path:op[:diff])", spec)
	}

	c := model.Change{Path: parts[0], Op: model.ChangeOp(parts[1])}
	if len(parts) == 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return model.Change{}, fmt.Errorf("change %q: diff size: %v", spec, err)
		}
		c.DiffSize = n
	}
	return c, nil
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "JSON file with the change set")
	validateCmd.Flags().StringArrayVar(&validateChangeSpecs, "change", nil, "change spec path:op[:diff], repeatable")
	validateCmd.Flags().StringVar(&validatePolicyPath, "policy", "", "policy file (overrides config)")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "exit 1 when the change set is rejected")
	validateCmd.Flags().StringVar(&validateAgentID, "agent-id", "cli", "agent identifier")
	validateCmd.Flags().StringVar(&validateAgentName, "agent-name", "cli", "agent name")
	validateCmd.Flags().StringVar(&validateAgentType, "agent-type", string(model.AgentOps), "agent type")
	validateCmd.Flags().Float64Var(&validateSuccessRate, "success-rate", 0.75, "agent historical success rate [0,1]")
	rootCmd.AddCommand(validateCmd)
}
