package execerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityValidationErrorUnwrap(t *testing.T) {
	cause := errors.New("stop pointer mismatch")
	err := PostExecution(NewSecurityValidationError("Syscall segment size", cause))

	require.ErrorIs(t, err, ErrPostExecution)
	require.ErrorIs(t, err, ErrSecurityValidation)
	require.ErrorIs(t, err, cause)

	var sve *SecurityValidationError
	require.ErrorAs(t, err, &sve)
	assert.Equal(t, "Syscall segment size", sve.Checkpoint)
	assert.Contains(t, err.Error(), "Syscall segment size")
}

func TestPhaseIsNotReapplied(t *testing.T) {
	inner := PreExecution(fmt.Errorf("class 0x1: %w", ErrUndeclaredClassHash))
	outer := VirtualMachineExecution(fmt.Errorf("%w: %w", ErrInnerCallFailed, inner))

	assert.Equal(t, ErrPreExecution, Phase(outer))
	assert.False(t, errors.Is(outer, ErrVirtualMachineExecution))
}

func TestGetErrorName(t *testing.T) {
	cases := []struct {
		err  error
		name string
		code string
	}{
		{nil, "No Error", ""},
		{ErrEntryPointNotFound, "EntryPointNotFound", "E2"},
		{PreExecution(fmt.Errorf("selector 0x5: %w", ErrDuplicatedEntryPointSelector)), "DuplicatedEntryPointSelector", "E3"},
		{PostExecution(NewSecurityValidationError("Read-only segments", nil)), "SecurityValidation", "P1"},
	}
	for _, c := range cases {
		assert.Equal(t, c.name, GetErrorName(c.err))
		assert.Equal(t, c.code, GetErrorCode(c.err))
	}
	assert.Equal(t, "E2_EntryPointNotFound", GetErrorCodeWithName(ErrEntryPointNotFound))
}
