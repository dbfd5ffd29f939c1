package execution

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/statedb"
	"github.com/colorfulnotion/blockexec/telemetry"
	"github.com/colorfulnotion/blockexec/types"
	"go.opentelemetry.io/otel/attribute"
)

// ExecuteEntryPointCall runs one entry point of classHash end to end: it prepares the
// machine and arguments, runs the program, records the visited pcs, validates the
// final state and decodes the result.
func ExecuteEntryPointCall(ctx context.Context, call types.CallEntryPoint, classHash common.Hash, state statedb.State, epCtx *EntryPointExecutionContext) (info *types.CallInfo, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ExecuteEntryPointCall",
		attribute.String("class_hash", classHash.Hex()),
		attribute.String("selector", call.EntryPointSelector.Hex()),
		attribute.String("entry_point_type", string(call.EntryPointType)),
		attribute.Int("depth", epCtx.depth),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	execCtx, err := InitializeExecutionContext(ctx, call, classHash, state, epCtx)
	if err != nil {
		return nil, err
	}
	m := execCtx.Machine
	handler := execCtx.SyscallHandler

	implicitArgs, args, err := PrepareCallArguments(call, m, execCtx.InitialSyscallPtr, &handler.ReadOnlySegments)
	if err != nil {
		return nil, err
	}
	if err := RunEntryPoint(m, execCtx.EntryPointPC, args, handler); err != nil {
		return nil, err
	}
	state.AddVisitedPcs(classHash, m.VisitedPCs())

	info, err = FinalizeExecution(m, call, handler, implicitArgs, m.Builtins())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("steps", int64(m.Steps())), attribute.Int("retdata", len(info.Execution.Retdata)))
	log.DebugContext(ctx, log.ExecMonitoring, "ExecuteEntryPointCall", "class", classHash.String_short(), "selector", call.EntryPointSelector, "steps", m.Steps(), "inner", len(info.InnerCalls), "depth", epCtx.depth)
	return info, nil
}

// ExecuteCall resolves the class deployed at call.StorageAddress (unless the call names
// one) and executes the entry point one level deeper in the call tree.
func ExecuteCall(ctx context.Context, call types.CallEntryPoint, state statedb.State, epCtx *EntryPointExecutionContext) (*types.CallInfo, error) {
	storageClassHash, err := state.GetClassHashAt(call.StorageAddress)
	if err != nil {
		return nil, execerrors.PreExecution(err)
	}
	if storageClassHash == (common.Hash{}) {
		return nil, execerrors.PreExecution(fmt.Errorf("%w: %s", execerrors.ErrUninitializedStorageAddress, call.StorageAddress))
	}
	classHash := storageClassHash
	if call.ClassHash != nil {
		classHash = *call.ClassHash
	}
	call.ClassHash = &classHash

	if limit := epCtx.Block.MaxRecursionDepth; limit > 0 && epCtx.depth >= limit {
		return nil, execerrors.PreExecution(fmt.Errorf("%w: limit %d", execerrors.ErrRecursionDepthExceeded, limit))
	}
	epCtx.depth++
	defer func() { epCtx.depth-- }()

	return ExecuteEntryPointCall(ctx, call, classHash, state, epCtx)
}

// ExecuteCallTransactionally runs call against a child of state. The child's writes and
// visited pcs reach state only when the whole call tree succeeds.
func ExecuteCallTransactionally[P any](ctx context.Context, call types.CallEntryPoint, state *statedb.CachedState[P], epCtx *EntryPointExecutionContext) (*types.CallInfo, error) {
	child := state.Transactional()
	info, err := ExecuteCall(ctx, call, child, epCtx)
	if err != nil {
		child.Abort()
		return nil, err
	}
	if err := child.Commit(); err != nil {
		return nil, err
	}
	return info, nil
}
