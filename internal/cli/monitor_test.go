package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorCommand_StaticCompletes(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	cmd := createTestRootCmd()
	stdout, err := executeCommand(cmd, "monitor",
		"--config", cfgPath,
		"--version", "v1.2.0",
		"--static", "error_rate=0.01,latency=120",
		"--baseline", "error_rate=0.01,latency=120",
		"--window", "250ms",
		"--poll", "50ms")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Monitoring deploy-v1.2.0-")
	assert.Contains(t, stdout, "completed")
}

func TestMonitorCommand_ExplicitDeploymentID(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	cmd := createTestRootCmd()
	stdout, err := executeCommand(cmd, "monitor",
		"--config", cfgPath,
		"--version", "v2.0.0",
		"--deployment", "deploy-v2.0.0-cafebabe",
		"--static", "error_rate=0.0",
		"--baseline", "error_rate=0.0",
		"--window", "200ms",
		"--poll", "50ms")
	require.NoError(t, err)
	assert.Contains(t, stdout, "deploy-v2.0.0-cafebabe")
	assert.Contains(t, stdout, "Session deploy-v2.0.0-cafebabe: completed")
}

func TestMonitorCommand_JSON(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	cmd := createTestRootCmd()
	stdout, err := executeCommand(cmd, "monitor",
		"--json",
		"--config", cfgPath,
		"--version", "v1.0.0",
		"--static", "error_rate=0.01",
		"--baseline", "error_rate=0.01",
		"--window", "200ms",
		"--poll", "50ms")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"status": "completed"`)
	assert.True(t, strings.Contains(stdout, `"deployment_id"`))
}
