//go:build conformance

package conformance

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const testSigningKey = "conformance-signing-key"

// safeguardBinary is bin/safeguard from the nearest ancestor directory,
// falling back to whatever PATH resolves.
var safeguardBinary = findBinary()

func findBinary() string {
	dir, err := os.Getwd()
	if err != nil {
		return "safeguard"
	}
	for {
		candidate := filepath.Join(dir, "bin", "safeguard")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		next := filepath.Dir(dir)
		if next == dir {
			return "safeguard"
		}
		dir = next
	}
}

// initWorkspace creates a temp working directory with a config file pointing
// the audit trail at a directory inside it. Commands run from this directory
// pick the config up as ./safeguard.yaml.
func initWorkspace(t *testing.T) (workDir, auditDir string) {
	t.Helper()
	workDir = t.TempDir()
	auditDir = filepath.Join(workDir, "audit")

	cfg := "audit:\n  dir: " + auditDir + "\n"
	if err := os.WriteFile(filepath.Join(workDir, "safeguard.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return workDir, auditDir
}

// runSafeguard executes the safeguard binary with args in the given working
// directory. Color is disabled and the signing key is fixed so output and
// signatures are stable across runs.
func runSafeguard(t *testing.T, cwd string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	cmd := exec.Command(safeguardBinary, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"SAFEGUARD_SIGNING_KEY="+testSigningKey,
		"NO_COLOR=1",
	)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		t.Fatalf("could not run %s: %v", safeguardBinary, err)
	}
	return outBuf.String(), errBuf.String(), exitCode
}

// seedBreach runs a short monitoring session against a breaching static
// sample, which records one incident and one remediation entry in the trail.
// Returns the deployment id of the session.
func seedBreach(t *testing.T, workDir, version string) string {
	t.Helper()
	stdout, stderr, code := runSafeguard(t, workDir, "monitor",
		"--version", version,
		"--static", "error_rate=5.0",
		"--baseline", "error_rate=0.5",
		"--window", "5s",
		"--poll", "100ms",
	)
	// A rolled back session exits nonzero by design.
	if code == 0 {
		t.Fatalf("breach session should not complete clean: %s %s", stdout, stderr)
	}
	id := extractDeploymentID(stdout)
	if id == "" {
		t.Fatalf("no deployment id in monitor output: %s", stdout)
	}
	return id
}

// extractDeploymentID pulls the deploy-... id out of monitor output.
func extractDeploymentID(out string) string {
	for _, field := range strings.Fields(out) {
		field = strings.TrimSuffix(field, ":")
		if strings.HasPrefix(field, "deploy-") {
			return field
		}
	}
	return ""
}

// extractJSONField returns the named field of the first JSON document in
// out, rendered as a plain string. Commands may print status lines ahead
// of their JSON, so decoding starts at the first position that parses.
// An array document stands for its first element.
func extractJSONField(out, field string) string {
	for i := 0; i < len(out); i++ {
		if out[i] != '{' && out[i] != '[' {
			continue
		}
		var doc any
		if json.NewDecoder(strings.NewReader(out[i:])).Decode(&doc) != nil {
			continue
		}
		if arr, ok := doc.([]any); ok {
			if len(arr) == 0 {
				return ""
			}
			doc = arr[0]
		}
		obj, ok := doc.(map[string]any)
		if !ok {
			continue
		}
		switch v := obj[field].(type) {
		case string:
			return v
		case bool:
			return strconv.FormatBool(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			continue
		default:
			raw, _ := json.Marshal(v)
			return string(raw)
		}
	}
	return ""
}

// countLines counts non-empty lines in command output.
func countLines(out string) int {
	out = strings.TrimSpace(out)
	if out == "" {
		return 0
	}
	return strings.Count(out, "\n") + 1
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true
	case os.IsNotExist(err):
		return false
	default:
		t.Fatalf("stat %s: %v", path, err)
		return false
	}
}

// findBucketFiles returns the bucket files under the audit root, oldest
// first by path order.
func findBucketFiles(t *testing.T, auditDir string) []string {
	t.Helper()
	var buckets []string
	err := filepath.WalkDir(auditDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") || filepath.Base(path) == "index.jsonl" {
			return nil
		}
		buckets = append(buckets, path)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk audit dir: %v", err)
	}
	return buckets
}
