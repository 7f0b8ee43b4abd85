package doctor_test

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeguard-project/safeguard/internal/audit"
	"github.com/safeguard-project/safeguard/internal/doctor"
	"github.com/safeguard-project/safeguard/pkg/config"
	"github.com/safeguard-project/safeguard/pkg/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SAFEGUARD_SIGNING_KEY", "doctor-test-key")
	cfg := config.Default()
	cfg.Audit.Dir = filepath.Join(t.TempDir(), "audit")
	return cfg
}

func appendEntries(t *testing.T, cfg *config.Config, n int) {
	t.Helper()
	key, err := cfg.SigningKey()
	require.NoError(t, err)

	trail, err := audit.Open(cfg.Audit.Dir, audit.Options{SigningKey: key})
	require.NoError(t, err)
	defer trail.Close()

	agent := model.AgentDescriptor{ID: "agent-1", Type: model.AgentCoder, SuccessRate: 0.9}
	for i := 0; i < n; i++ {
		entry := model.NewAuditEntry(time.Now(), agent, model.EventValidation, map[string]any{"verdict": "ok"}, 0.1)
		_, err := trail.Append(context.Background(), entry)
		require.NoError(t, err)
	}
}

func findings(result *doctor.Result, category string) []doctor.Finding {
	var out []doctor.Finding
	for _, f := range result.Findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

func TestDoctor_Check_Healthy(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 3)

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Empty(t, result.Findings)
}

func TestDoctor_Check_MissingRootIsWarning(t *testing.T) {
	cfg := testConfig(t)

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	require.Len(t, findings(result, "storage"), 1)
	assert.Equal(t, "warning", findings(result, "storage")[0].Severity)
}

func TestDoctor_Check_RootIsFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Audit.Dir, []byte("not a dir"), 0644))

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.NotEmpty(t, findings(result, "storage"))
	assert.Equal(t, "critical", findings(result, "storage")[0].Severity)
}

func TestDoctor_Check_IndexMissingIsWarning(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 2)
	require.NoError(t, os.Remove(filepath.Join(cfg.Audit.Dir, "index.jsonl")))

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	require.Len(t, findings(result, "index"), 1)
	assert.Equal(t, "warning", findings(result, "index")[0].Severity)
}

func TestDoctor_Check_IndexAheadIsCritical(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 2)

	indexPath := filepath.Join(cfg.Audit.Dir, "index.jsonl")
	f, err := os.OpenFile(indexPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"ghost","bucket":"2026/01/01-000.jsonl"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.Len(t, findings(result, "index"), 1)
	assert.Contains(t, findings(result, "index")[0].Description, "rebuild-index")
}

func TestDoctor_Check_BadPolicy(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 1)

	polPath := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(polPath, []byte("max_changes_per_operation: -5\n"), 0644))
	cfg.Audit.PolicyPath = polPath

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.Len(t, findings(result, "policy"), 1)
}

func TestDoctor_Check_SigningKeyFileMissing(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 1)
	cfg.Audit.SigningKeyFile = filepath.Join(t.TempDir(), "absent.key")

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.Len(t, findings(result, "signing"), 1)
}

func TestDoctor_Check_KeylessIsWarning(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 1)
	t.Setenv("SAFEGUARD_SIGNING_KEY", "")

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	require.Len(t, findings(result, "signing"), 1)
	assert.Equal(t, "warning", findings(result, "signing")[0].Severity)
}

func TestDoctor_Check_StrictCleanTrail(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 3)

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Empty(t, findings(result, "integrity"))
}

func TestDoctor_Check_StrictDetectsTamper(t *testing.T) {
	cfg := testConfig(t)
	appendEntries(t, cfg, 3)

	tamperOneBucketLine(t, cfg.Audit.Dir)

	result, err := doctor.NewDoctor(cfg).Check(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.NotEmpty(t, findings(result, "integrity"))
}

// tamperOneBucketLine edits a payload value in place without changing the
// line count.
func tamperOneBucketLine(t *testing.T, root string) {
	t.Helper()
	tampered := false
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || tampered || entry.IsDir() {
			return err
		}
		if !strings.HasSuffix(entry.Name(), ".jsonl") || entry.Name() == "index.jsonl" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		edited := bytes.Replace(data, []byte(`"verdict":"ok"`), []byte(`"verdict":"no"`), 1)
		if bytes.Equal(edited, data) {
			return nil
		}
		tampered = true
		return os.WriteFile(path, edited, 0644)
	})
	require.NoError(t, err)
	require.True(t, tampered, "no bucket line found to tamper")
}
