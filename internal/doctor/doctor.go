// Package doctor diagnoses a safeguard installation: audit storage, index
// consistency, policy validity, and signing configuration. Checks are
// read-only; the doctor reports, it never repairs.
package doctor

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/safeguard-project/safeguard/internal/audit"
	"github.com/safeguard-project/safeguard/pkg/config"
	"github.com/safeguard-project/safeguard/pkg/policy"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

const (
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Result contains doctor check results. Healthy is false only when a
// critical finding exists; warnings alone leave the installation healthy.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == severityCritical {
		r.Healthy = false
	}
}

// Doctor performs installation health checks.
type Doctor struct {
	cfg *config.Config
}

// NewDoctor creates a doctor for the given configuration.
func NewDoctor(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Check runs all diagnostic checks. Strict mode additionally verifies every
// audit signature, which reads the full trail.
func (d *Doctor) Check(ctx context.Context, strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	d.checkAuditRoot(result)
	d.checkIndex(result)
	d.checkPolicy(result)
	d.checkSigningKey(result)

	if strict {
		d.checkIntegrity(ctx, result)
	}

	return result, nil
}

func (d *Doctor) checkAuditRoot(result *Result) {
	root := d.cfg.Audit.Dir
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		result.add(Finding{
			Category:    "storage",
			Description: "audit root does not exist yet (created on first append)",
			Severity:    severityWarning,
			Path:        root,
		})
		return
	}
	if err != nil {
		result.add(Finding{
			Category:    "storage",
			Description: "audit root is not accessible: " + err.Error(),
			Severity:    severityCritical,
			Path:        root,
		})
		return
	}
	if !info.IsDir() {
		result.add(Finding{
			Category:    "storage",
			Description: "audit root is not a directory",
			Severity:    severityCritical,
			Path:        root,
		})
	}
}

func (d *Doctor) checkIndex(result *Result) {
	root := d.cfg.Audit.Dir
	if _, err := os.Stat(root); err != nil {
		return
	}

	bucketLines, err := countBucketLines(root)
	if err != nil {
		result.add(Finding{
			Category:    "index",
			Description: "cannot scan buckets: " + err.Error(),
			Severity:    severityCritical,
			Path:        root,
		})
		return
	}

	indexPath := filepath.Join(root, "index.jsonl")
	indexLines, err := countLines(indexPath)
	if os.IsNotExist(err) {
		if bucketLines > 0 {
			result.add(Finding{
				Category:    "index",
				Description: "index file missing (rebuilt automatically on next open)",
				Severity:    severityWarning,
				Path:        indexPath,
			})
		}
		return
	}
	if err != nil {
		result.add(Finding{
			Category:    "index",
			Description: "cannot read index: " + err.Error(),
			Severity:    severityCritical,
			Path:        indexPath,
		})
		return
	}

	// The index may briefly trail the buckets after a crash; it must never
	// claim more entries than the buckets hold.
	switch {
	case indexLines > bucketLines:
		result.add(Finding{
			Category:    "index",
			Description: "index lists more entries than the buckets hold, run audit rebuild-index",
			Severity:    severityCritical,
			Path:        indexPath,
		})
	case indexLines < bucketLines:
		result.add(Finding{
			Category:    "index",
			Description: "index is behind the buckets, run audit rebuild-index",
			Severity:    severityWarning,
			Path:        indexPath,
		})
	}
}

func (d *Doctor) checkPolicy(result *Result) {
	path := d.cfg.Audit.PolicyPath
	if path == "" {
		return
	}
	if _, err := policy.Load(path); err != nil {
		result.add(Finding{
			Category:    "policy",
			Description: err.Error(),
			Severity:    severityCritical,
			Path:        path,
		})
	}
}

func (d *Doctor) checkSigningKey(result *Result) {
	key, err := d.cfg.SigningKey()
	if err != nil {
		result.add(Finding{
			Category:    "signing",
			Description: err.Error(),
			Severity:    severityCritical,
			Path:        d.cfg.Audit.SigningKeyFile,
		})
		return
	}
	if key == nil {
		result.add(Finding{
			Category:    "signing",
			Description: "no signing key configured, audit entries are signed keyless",
			Severity:    severityWarning,
		})
	}
}

func (d *Doctor) checkIntegrity(ctx context.Context, result *Result) {
	if _, err := os.Stat(d.cfg.Audit.Dir); err != nil {
		return
	}

	key, err := d.cfg.SigningKey()
	if err != nil {
		return // already reported by checkSigningKey
	}

	trail, err := audit.Open(d.cfg.Audit.Dir, audit.Options{SigningKey: key})
	if err != nil {
		result.add(Finding{
			Category:    "integrity",
			Description: "cannot open trail: " + err.Error(),
			Severity:    severityCritical,
			Path:        d.cfg.Audit.Dir,
		})
		return
	}
	defer trail.Close()

	report, err := trail.VerifyIntegrity(ctx, audit.Range{})
	if err != nil {
		result.add(Finding{
			Category:    "integrity",
			Description: "verification failed: " + err.Error(),
			Severity:    severityCritical,
			Path:        d.cfg.Audit.Dir,
		})
		return
	}
	for _, broken := range report.BrokenEntries {
		result.add(Finding{
			Category:    "integrity",
			Description: "entry failed signature verification: " + broken,
			Severity:    severityCritical,
			Path:        d.cfg.Audit.Dir,
		})
	}
}

// countBucketLines counts entry lines across all day buckets, skipping the
// top-level index file.
func countBucketLines(root string) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "index.jsonl" {
			return nil
		}
		n, err := countLines(path)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		if len(strings.TrimSpace(scanner.Text())) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}
