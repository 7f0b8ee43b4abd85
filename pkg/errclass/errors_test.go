package errclass_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safeguard-project/safeguard/pkg/errclass"
)

func TestSafeguardError_Error(t *testing.T) {
	err := errclass.ErrPolicyInvalid.WithMessage("poll_interval_ms must not exceed monitoring_window_ms")
	assert.Equal(t, "E_POLICY_INVALID: poll_interval_ms must not exceed monitoring_window_ms", err.Error())
}

func TestSafeguardError_Is(t *testing.T) {
	err := errclass.ErrStorageFailure.WithMessage("specific message")
	require.True(t, errors.Is(err, errclass.ErrStorageFailure))
	require.False(t, errors.Is(err, errclass.ErrIndexCorrupt))
}

func TestSafeguardError_IsThroughWrap(t *testing.T) {
	err := fmt.Errorf("append entry: %w", errclass.ErrStorageFailure.WithMessage("disk full"))
	require.True(t, errors.Is(err, errclass.ErrStorageFailure))
}

func TestSafeguardError_Code(t *testing.T) {
	assert.Equal(t, "E_INVALID_INPUT", errclass.ErrInvalidInput.Code)
	assert.Equal(t, "E_INTEGRITY_VIOLATION", errclass.ErrIntegrityViolation.Code)
}

func TestSafeguardError_WithMessagef(t *testing.T) {
	err := errclass.ErrEntryNotFound.WithMessagef("no entry with id %s", "ae-1234")
	assert.Equal(t, "E_ENTRY_NOT_FOUND: no entry with id ae-1234", err.Error())
	// the base class is never mutated
	assert.Equal(t, "", errclass.ErrEntryNotFound.Message)
}

func TestSafeguardError_AllErrorsDefined(t *testing.T) {
	all := []error{
		errclass.ErrInvalidInput,
		errclass.ErrPolicyInvalid,
		errclass.ErrStorageFailure,
		errclass.ErrIntegrityViolation,
		errclass.ErrIndexCorrupt,
		errclass.ErrEntryNotFound,
		errclass.ErrCollectorUnavailable,
		errclass.ErrDeploymentGone,
		errclass.ErrSessionTerminal,
		errclass.ErrExportFormat,
	}
	assert.Len(t, all, 10)
}
