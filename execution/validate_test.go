package execution

import (
	"context"
	"testing"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCheckpoint(t *testing.T, err error, checkpoint string) {
	t.Helper()
	require.Error(t, err)
	var sv *execerrors.SecurityValidationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, checkpoint, sv.Checkpoint)
	assert.ErrorIs(t, err, execerrors.ErrSecurityValidation)
}

func TestSecurityCheckpoints(t *testing.T) {
	cases := []struct {
		name       string
		address    common.Felt
		entryPoint string
		calldata   []common.Felt
		checkpoint string
	}{
		{"stop pointer not advanced", builtinAddress, "bad_bitwise_stop", nil, BuiltinFinalStackCheckpoint(vm.BitwiseBuiltinName)},
		{"final pointer past used cells", testContractAddress, "bad_syscall_size", nil, CheckpointSyscallSize},
		{"final pointer short of used cells", testContractAddress, "write_then_fail", common.FeltsFromUint64s(1, 2), CheckpointSyscallSize},
		{"cells written without a syscall", testContractAddress, "forged_syscall", nil, CheckpointSyscallEnd},
		{"calldata extended", testContractAddress, "write_past_calldata", common.FeltsFromUint64s(1, 2, 3), CheckpointReadOnlySegments},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := ExecuteCall(context.Background(), externalCall(tc.address, tc.entryPoint, tc.calldata...), f.state, f.epCtx)
			requireCheckpoint(t, err, tc.checkpoint)
			assert.Equal(t, execerrors.ErrPostExecution, execerrors.Phase(err))
		})
	}
}

// runUnvalidated runs an entry point up to, but not including, FinalizeExecution.
func runUnvalidated(t *testing.T, f *fixture, name string, calldata ...common.Felt) (*ExecutionContext, []vm.MaybeRelocatable) {
	t.Helper()
	call := externalCall(testContractAddress, name, calldata...)
	execCtx, err := InitializeExecutionContext(context.Background(), call, f.testClass, f.state, f.epCtx)
	require.NoError(t, err)
	implicitArgs, args, err := PrepareCallArguments(call, execCtx.Machine, execCtx.InitialSyscallPtr, &execCtx.SyscallHandler.ReadOnlySegments)
	require.NoError(t, err)
	require.Len(t, args, 1+len(implicitArgs)+2)
	require.NoError(t, RunEntryPoint(execCtx.Machine, execCtx.EntryPointPC, args, execCtx.SyscallHandler))
	return execCtx, implicitArgs
}

func TestValidateRunTampering(t *testing.T) {
	f := newFixture(t)
	execCtx, implicitArgs := runUnvalidated(t, f, "test_storage_read_write", common.FeltsFromUint64s(3, 4)...)
	m := execCtx.Machine
	end, err := m.AP().SubUint(2)
	require.NoError(t, err)

	require.NoError(t, ValidateRun(m, m.Builtins(), implicitArgs, end, execCtx.SyscallHandler))

	grown := append(append([]vm.MaybeRelocatable{}, implicitArgs...), vm.Uint64Value(0))
	err = ValidateRun(m, m.Builtins(), grown, end, execCtx.SyscallHandler)
	requireCheckpoint(t, err, CheckpointImplicitArgs)

	shifted := []vm.MaybeRelocatable{vm.RelocatableValue(execCtx.InitialSyscallPtr.AddUint(1))}
	err = ValidateRun(m, m.Builtins(), shifted, end, execCtx.SyscallHandler)
	requireCheckpoint(t, err, CheckpointSyscallStart)

	err = ValidateRun(m, m.Builtins(), []vm.MaybeRelocatable{vm.Uint64Value(0)}, end, execCtx.SyscallHandler)
	requireCheckpoint(t, err, CheckpointSyscallStart)
}

func TestShrunkImplicitArgs(t *testing.T) {
	cases := []struct {
		name       string
		address    common.Felt
		checkpoint string
	}{
		{"syscall pointer dropped", testContractAddress, CheckpointSyscallSize},
		{"bitwise stop pointer dropped", builtinAddress, BuiltinFinalStackCheckpoint(vm.BitwiseBuiltinName)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := ExecuteCall(context.Background(), externalCall(tc.address, "shrunk_implicit_args"), f.state, f.epCtx)
			requireCheckpoint(t, err, tc.checkpoint)
			assert.Equal(t, execerrors.ErrPostExecution, execerrors.Phase(err))
		})
	}
}

func TestSyscallMarksSelectorAccessed(t *testing.T) {
	f := newFixture(t)
	execCtx, _ := runUnvalidated(t, f, "get_block_number")
	m := execCtx.Machine
	sp := execCtx.InitialSyscallPtr
	assert.True(t, m.Memory.IsAccessed(sp))

	// an unknown selector is still read by the run
	next := sp.AddUint(2)
	require.NoError(t, m.Memory.Insert(next, vm.Uint64Value(12345)))
	err := execCtx.SyscallHandler.InvokeSyscall(m, next)
	require.ErrorIs(t, err, execerrors.ErrUnknownSyscall)
	assert.True(t, m.Memory.IsAccessed(next))
}

func TestValidateRunReportsFirstFailure(t *testing.T) {
	f := newFixture(t)
	// calldata extended and syscall segment forged: the syscall check comes first
	execCtx, implicitArgs := runUnvalidated(t, f, "forged_syscall")
	m := execCtx.Machine
	_, err := execCtx.SyscallHandler.ReadOnlySegments.Allocate(m, vm.FeltValues(common.FeltsFromUint64s(1)))
	require.NoError(t, err)
	seg := execCtx.SyscallHandler.ReadOnlySegments.Segments()[1]
	require.NoError(t, m.Memory.Insert(seg.Start.AddUint(1), vm.Uint64Value(2)))

	end, err := m.AP().SubUint(2)
	require.NoError(t, err)
	err = ValidateRun(m, m.Builtins(), implicitArgs, end, execCtx.SyscallHandler)
	requireCheckpoint(t, err, CheckpointSyscallEnd)
}

func TestFinalizeMarksReadOnlySegments(t *testing.T) {
	f := newFixture(t)
	execCtx, implicitArgs := runUnvalidated(t, f, "emit", common.FeltsFromUint64s(1, 2, 3)...)
	m := execCtx.Machine
	calldata := execCtx.SyscallHandler.ReadOnlySegments.Segments()[0]
	require.Equal(t, uint64(3), calldata.Size)
	assert.False(t, m.Memory.IsAccessed(calldata.Start.AddUint(2)))

	info, err := FinalizeExecution(m, externalCall(testContractAddress, "emit"), execCtx.SyscallHandler, implicitArgs, m.Builtins())
	require.NoError(t, err)
	assert.Len(t, info.Execution.Events, 1)
	for i := uint64(0); i < calldata.Size; i++ {
		assert.True(t, m.Memory.IsAccessed(calldata.Start.AddUint(i)))
	}
}

func TestReadExecutionRetdata(t *testing.T) {
	f := newFixture(t)
	execCtx, _ := runUnvalidated(t, f, "test_storage_read_write", common.FeltsFromUint64s(3, 4)...)
	m := execCtx.Machine
	sp := execCtx.InitialSyscallPtr

	got, err := ReadExecutionRetdata(m, vm.Uint64Value(1), vm.RelocatableValue(sp.AddUint(5)))
	require.NoError(t, err)
	assert.Equal(t, common.FeltsFromUint64s(4), got)

	got, err = ReadExecutionRetdata(m, vm.Uint64Value(0), vm.Uint64Value(0))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadExecutionRetdata(m, vm.RelocatableValue(sp), vm.RelocatableValue(sp))
	assert.ErrorIs(t, err, execerrors.ErrExpectedInteger)

	_, err = ReadExecutionRetdata(m, vm.Uint64Value(1), vm.Uint64Value(7))
	assert.ErrorIs(t, err, execerrors.ErrInvalidReturnData)

	_, err = FeltRange(m, sp, 100)
	assert.ErrorIs(t, err, execerrors.ErrNoneInMemoryRange)

	// the stack holds pointers below fp
	_, err = FeltRange(m, m.ExecutionBase().AddUint(1), 1)
	assert.ErrorIs(t, err, execerrors.ErrExpectedInteger)
}

func TestPointerRetdata(t *testing.T) {
	f := newFixture(t)
	_, err := ExecuteCall(context.Background(), externalCall(testContractAddress, "pointer_retdata"), f.state, f.epCtx)
	require.ErrorIs(t, err, execerrors.ErrExpectedInteger)
	assert.Equal(t, execerrors.ErrPostExecution, execerrors.Phase(err))
}
