package execution

import (
	"context"
	"testing"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/colorfulnotion/blockexec/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageReadWrite(t *testing.T) {
	f := newFixture(t)
	call := externalCall(testContractAddress, "test_storage_read_write", common.FeltsFromUint64s(1234, 18)...)

	info, err := ExecuteCall(context.Background(), call, f.state, f.epCtx)
	require.NoError(t, err)
	assert.Equal(t, common.FeltsFromUint64s(18), info.Execution.Retdata)
	assert.Equal(t, common.FeltsFromUint64s(18), info.StorageReadValues)
	assert.Equal(t, common.FeltsFromUint64s(1234), info.AccessedStorageKeys)
	assert.Equal(t, f.testClass, info.ClassHash)
	require.NotNil(t, info.Call.ClassHash)
	assert.Equal(t, f.testClass, *info.Call.ClassHash)
	assert.Positive(t, info.Execution.Steps)

	v, err := f.state.GetStorageAt(testContractAddress, common.NewFelt(1234))
	require.NoError(t, err)
	assert.Equal(t, common.NewFelt(18), v)

	pcs := f.state.VisitedPcs().Entry(f.testClass)
	assert.True(t, pcs.Contains(0))
	assert.Equal(t, 0, f.epCtx.Depth())
}

func TestEmitEventAndBlockInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := ExecuteCall(ctx, externalCall(testContractAddress, "emit", common.FeltsFromUint64s(5, 6)...), f.state, f.epCtx)
	require.NoError(t, err)
	require.Len(t, info.Execution.Events, 1)
	assert.Equal(t, types.OrderedEvent{Order: 0, Keys: common.FeltsFromUint64s(5), Data: common.FeltsFromUint64s(6)}, info.Execution.Events[0])

	info, err = ExecuteCall(ctx, externalCall(testContractAddress, "emit", common.FeltsFromUint64s(7, 8)...), f.state, f.epCtx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Execution.Events[0].Order)

	info, err = ExecuteCall(ctx, externalCall(testContractAddress, "get_block_number"), f.state, f.epCtx)
	require.NoError(t, err)
	assert.Equal(t, common.FeltsFromUint64s(77), info.Execution.Retdata)
}

func TestGetTxInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := ExecuteCall(ctx, externalCall(testContractAddress, "get_tx_info", common.NewFelt(4)), f.state, f.epCtx)
	require.NoError(t, err)
	assert.Equal(t, common.FeltsFromUint64s(1, 0xabc, 500, 2), info.Execution.Retdata)

	// the fifth cell is the signature pointer
	_, err = ExecuteCall(ctx, externalCall(testContractAddress, "get_tx_info", common.NewFelt(5)), f.state, f.epCtx)
	require.ErrorIs(t, err, execerrors.ErrExpectedInteger)
	assert.ErrorIs(t, err, execerrors.ErrPostExecution)
}

func TestCallContract(t *testing.T) {
	f := newFixture(t)
	calldata := []common.Felt{
		testContractAddress,
		common.SelectorFromName("test_storage_read_write"),
		common.NewFelt(9),
		common.NewFelt(81),
	}
	info, err := ExecuteCall(context.Background(), externalCall(proxyAddress, "call_storage", calldata...), f.state, f.epCtx)
	require.NoError(t, err)
	assert.Equal(t, common.FeltsFromUint64s(81), info.Execution.Retdata)
	require.Len(t, info.InnerCalls, 1)

	inner := info.InnerCalls[0]
	assert.Equal(t, proxyAddress, inner.Call.CallerAddress)
	assert.Equal(t, testContractAddress, inner.Call.StorageAddress)
	assert.Equal(t, common.FeltsFromUint64s(81), inner.Execution.Retdata)

	n := 0
	for range info.Iter() {
		n++
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, info.Execution.Steps+inner.Execution.Steps, info.TotalSteps())

	// the write lands on the callee, not the proxy
	v, err := f.state.GetStorageAt(testContractAddress, common.NewFelt(9))
	require.NoError(t, err)
	assert.Equal(t, common.NewFelt(81), v)
	v, err = f.state.GetStorageAt(proxyAddress, common.NewFelt(9))
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestInnerCallFailureKeepsPhase(t *testing.T) {
	f := newFixture(t)
	calldata := []common.Felt{
		testContractAddress,
		common.SelectorFromName("bad_syscall_size"),
		common.NewFelt(1),
		common.NewFelt(2),
	}
	_, err := ExecuteCall(context.Background(), externalCall(proxyAddress, "call_storage", calldata...), f.state, f.epCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, execerrors.ErrInnerCallFailed)
	assert.Equal(t, execerrors.ErrPostExecution, execerrors.Phase(err))
	assert.Equal(t, 0, f.epCtx.Depth())
}

func TestRecursionDepth(t *testing.T) {
	f := newFixture(t)
	f.epCtx.Block.MaxRecursionDepth = 1
	calldata := []common.Felt{
		testContractAddress,
		common.SelectorFromName("test_storage_read_write"),
		common.NewFelt(1),
		common.NewFelt(2),
	}
	_, err := ExecuteCall(context.Background(), externalCall(proxyAddress, "call_storage", calldata...), f.state, f.epCtx)
	require.ErrorIs(t, err, execerrors.ErrRecursionDepthExceeded)
	assert.ErrorIs(t, err, execerrors.ErrPreExecution)
}

func TestBuiltinEntryPoint(t *testing.T) {
	f := newFixture(t)
	info, err := ExecuteCall(context.Background(), externalCall(builtinAddress, "bitwise_and", common.FeltsFromUint64s(12, 10)...), f.state, f.epCtx)
	require.NoError(t, err)
	assert.Equal(t, common.FeltsFromUint64s(8), info.Execution.Retdata)

	_, err = ExecuteCall(context.Background(), externalCall(builtinAddress, "range_check_value", common.NewFelt(5)), f.state, f.epCtx)
	require.NoError(t, err)
}

func TestRangeCheckFaultIsMachineError(t *testing.T) {
	f := newFixture(t)
	tooBig := common.MustFeltFromString("0x100000000000000000000000000000000")
	_, err := ExecuteCall(context.Background(), externalCall(builtinAddress, "range_check_value", tooBig), f.state, f.epCtx)
	require.ErrorIs(t, err, vm.ErrBuiltinValidation)
	assert.Equal(t, execerrors.ErrVirtualMachineExecution, execerrors.Phase(err))
}

func TestFarStoreIsMachineError(t *testing.T) {
	f := newFixture(t)
	_, err := ExecuteCall(context.Background(), externalCall(testContractAddress, "far_store", common.NewFelt(1<<40)), f.state, f.epCtx)
	require.ErrorIs(t, err, vm.ErrOutOfBounds)
	assert.Equal(t, execerrors.ErrVirtualMachineExecution, execerrors.Phase(err))

	_, err = ExecuteCall(context.Background(), externalCall(testContractAddress, "far_store", common.NewFelt(3)), f.state, f.epCtx)
	require.NoError(t, err)
}

func TestUninitializedStorageAddress(t *testing.T) {
	f := newFixture(t)
	_, err := ExecuteCall(context.Background(), externalCall(common.NewFelt(0xdead), "emit"), f.state, f.epCtx)
	require.ErrorIs(t, err, execerrors.ErrUninitializedStorageAddress)
	assert.ErrorIs(t, err, execerrors.ErrPreExecution)
}

func TestEntryPointResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := ExecuteCall(ctx, externalCall(testContractAddress, "missing"), f.state, f.epCtx)
	require.ErrorIs(t, err, execerrors.ErrEntryPointNotFound)
	assert.ErrorIs(t, err, execerrors.ErrPreExecution)

	// a class with a default entry point serves unknown selectors
	info, err := ExecuteCall(ctx, externalCall(defaultAddress, "anything", common.NewFelt(3)), f.state, f.epCtx)
	require.NoError(t, err)
	assert.Empty(t, info.Execution.Retdata)

	class := mustClass(t, defaultContractSource)
	dup := common.SelectorFromName("twice")
	class.EntryPointsByType[types.EntryPointTypeExternal] = []types.EntryPoint{{Selector: dup, Offset: 0}, {Selector: dup, Offset: 0}}
	_, err = ResolveEntryPointPC(externalCall(defaultAddress, "twice"), class)
	assert.ErrorIs(t, err, execerrors.ErrDuplicatedEntryPointSelector)

	bad := externalCall(defaultAddress, "not_constructor")
	bad.EntryPointType = types.EntryPointTypeConstructor
	_, err = ResolveEntryPointPC(bad, class)
	assert.ErrorIs(t, err, execerrors.ErrInvalidConstructorEntryPointName)
}

func TestUndeclaredLibraryClass(t *testing.T) {
	f := newFixture(t)
	missing := common.HexToHash("0x01")
	call := externalCall(testContractAddress, "emit")
	call.ClassHash = &missing
	call.CallType = types.CallTypeDelegate
	_, err := ExecuteCall(context.Background(), call, f.state, f.epCtx)
	require.ErrorIs(t, err, execerrors.ErrUndeclaredClassHash)
	assert.ErrorIs(t, err, execerrors.ErrPreExecution)
}

func TestExecuteCallTransactionally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := ExecuteCallTransactionally(ctx, externalCall(testContractAddress, "test_storage_read_write", common.FeltsFromUint64s(5, 50)...), f.state, f.epCtx)
	require.NoError(t, err)
	v, err := f.state.GetStorageAt(testContractAddress, common.NewFelt(5))
	require.NoError(t, err)
	assert.Equal(t, common.NewFelt(50), v)
	visited := f.state.VisitedPcs().Entry(f.testClass).Cardinality()
	require.NotZero(t, visited)

	// the write reaches the child state before validation rejects the run
	_, err = ExecuteCallTransactionally(ctx, externalCall(testContractAddress, "write_then_fail", common.FeltsFromUint64s(6, 60)...), f.state, f.epCtx)
	require.Error(t, err)
	v, err = f.state.GetStorageAt(testContractAddress, common.NewFelt(6))
	require.NoError(t, err)
	assert.True(t, v.IsZero())
	assert.Equal(t, visited, f.state.VisitedPcs().Entry(f.testClass).Cardinality())
}
