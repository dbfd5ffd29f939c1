package execution

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/statedb"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/colorfulnotion/blockexec/vm"
)

// EntryPointExecutionContext is shared by every call of one transaction's call tree.
type EntryPointExecutionContext struct {
	Block *types.BlockContext
	Tx    *types.TransactionContext

	depth          int
	nEmittedEvents uint64
	nSentMessages  uint64
}

func NewEntryPointExecutionContext(block *types.BlockContext, tx *types.TransactionContext) *EntryPointExecutionContext {
	if tx == nil {
		tx = &types.TransactionContext{}
	}
	return &EntryPointExecutionContext{Block: block, Tx: tx}
}

func (e *EntryPointExecutionContext) Depth() int {
	return e.depth
}

func (e *EntryPointExecutionContext) nextEventOrder() uint64 {
	n := e.nEmittedEvents
	e.nEmittedEvents++
	return n
}

func (e *EntryPointExecutionContext) nextMessageOrder() uint64 {
	n := e.nSentMessages
	e.nSentMessages++
	return n
}

// ExecutionContext is everything one entry-point run needs. It is owned by that run.
type ExecutionContext struct {
	Machine           *vm.Machine
	SyscallHandler    *SyscallHandler
	InitialSyscallPtr vm.Relocatable
	EntryPointPC      uint64
	ClassHash         common.Hash
}

// InitializeExecutionContext resolves the class and entry point of call, builds a
// machine with the program's builtins and allocates the syscall segment.
func InitializeExecutionContext(ctx context.Context, call types.CallEntryPoint, classHash common.Hash, state statedb.State, epCtx *EntryPointExecutionContext) (*ExecutionContext, error) {
	class, err := state.GetContractClass(classHash)
	if err != nil {
		return nil, execerrors.PreExecution(err)
	}
	pc, err := ResolveEntryPointPC(call, class)
	if err != nil {
		return nil, execerrors.PreExecution(err)
	}
	m, err := vm.NewMachine(class.Program, epCtx.Block.InvokeTxMaxNSteps)
	if err != nil {
		return nil, execerrors.PreExecution(fmt.Errorf("%w: class %s: %w", execerrors.ErrProgram, classHash, err))
	}
	initialSyscallPtr := m.AddSegment()
	handler := NewSyscallHandler(ctx, state, epCtx, call, classHash, initialSyscallPtr)
	return &ExecutionContext{
		Machine:           m,
		SyscallHandler:    handler,
		InitialSyscallPtr: initialSyscallPtr,
		EntryPointPC:      pc,
		ClassHash:         classHash,
	}, nil
}

// ResolveEntryPointPC finds the entry point of call's type and selector. A missing
// selector falls back to the class's default entry point, if it has one.
func ResolveEntryPointPC(call types.CallEntryPoint, class *types.ContractClass) (uint64, error) {
	if call.EntryPointType == types.EntryPointTypeConstructor && call.EntryPointSelector != types.ConstructorEntryPointSelector {
		return 0, execerrors.ErrInvalidConstructorEntryPointName
	}
	sameType := class.EntryPoints(call.EntryPointType)
	var matches []types.EntryPoint
	for _, ep := range sameType {
		if ep.Selector == call.EntryPointSelector {
			matches = append(matches, ep)
		}
	}
	switch len(matches) {
	case 0:
		if len(sameType) > 0 && sameType[0].Selector == types.DefaultEntryPointSelector {
			return sameType[0].Offset, nil
		}
		return 0, fmt.Errorf("%w: %s selector %s", execerrors.ErrEntryPointNotFound, call.EntryPointType, call.EntryPointSelector)
	case 1:
		return matches[0].Offset, nil
	default:
		return 0, fmt.Errorf("%w: %s selector %s appears %d times", execerrors.ErrDuplicatedEntryPointSelector, call.EntryPointType, call.EntryPointSelector, len(matches))
	}
}
