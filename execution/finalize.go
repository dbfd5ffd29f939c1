package execution

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/colorfulnotion/blockexec/vm"
)

// FinalizeExecution validates the final machine state and turns it into a CallInfo.
// The two cells below ap are the return data size and pointer; the implicit
// arguments end just before them.
func FinalizeExecution(m *vm.Machine, call types.CallEntryPoint, handler *SyscallHandler, implicitArgs []vm.MaybeRelocatable, builtins []vm.BuiltinRunner) (*types.CallInfo, error) {
	retValues, err := m.GetReturnValues(2)
	if err != nil {
		return nil, execerrors.PostExecution(fmt.Errorf("%w: %w", execerrors.ErrInvalidReturnData, err))
	}
	implicitArgsEnd, err := m.AP().SubUint(2)
	if err != nil {
		return nil, execerrors.PostExecution(fmt.Errorf("%w: %w", execerrors.ErrInvalidReturnData, err))
	}
	if err := ValidateRun(m, builtins, implicitArgs, implicitArgsEnd, handler); err != nil {
		return nil, execerrors.PostExecution(err)
	}
	handler.ReadOnlySegments.MarkAsAccessed(m)

	retdata, err := ReadExecutionRetdata(m, retValues[0], retValues[1])
	if err != nil {
		return nil, execerrors.PostExecution(err)
	}
	return &types.CallInfo{
		Call:      call,
		ClassHash: handler.classHash,
		Execution: types.CallExecution{
			Retdata:        retdata,
			Events:         handler.Events,
			L2ToL1Messages: handler.L2ToL1Messages,
			Steps:          m.Steps(),
		},
		InnerCalls:          handler.InnerCalls,
		StorageReadValues:   handler.ReadValues,
		AccessedStorageKeys: handler.AccessedStorageKeys(),
	}, nil
}

// ReadExecutionRetdata decodes the return data described by a size cell and a pointer cell.
func ReadExecutionRetdata(m *vm.Machine, size, ptr vm.MaybeRelocatable) ([]common.Felt, error) {
	sizeFelt, ok := size.Felt()
	if !ok {
		return nil, fmt.Errorf("%w: return data size is %s", execerrors.ErrExpectedInteger, size)
	}
	n, ok := sizeFelt.Uint64()
	if !ok {
		return nil, fmt.Errorf("%w: return data size %s", execerrors.ErrInvalidReturnData, sizeFelt)
	}
	start, ok := ptr.Relocatable()
	if !ok {
		if n == 0 {
			return []common.Felt{}, nil
		}
		return nil, fmt.Errorf("%w: return data pointer is %s", execerrors.ErrInvalidReturnData, ptr)
	}
	return FeltRange(m, start, n)
}

// FeltRange reads n consecutive value cells from start. Every cell must be set and
// hold a field element.
func FeltRange(m *vm.Machine, start vm.Relocatable, n uint64) ([]common.Felt, error) {
	if n == 0 {
		return []common.Felt{}, nil
	}
	used, err := m.Memory.SegmentUsedSize(start.SegmentIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", execerrors.ErrNoneInMemoryRange, err)
	}
	if start.Offset > used || n > used-start.Offset {
		return nil, fmt.Errorf("%w: %d cells at %s, segment holds %d", execerrors.ErrNoneInMemoryRange, n, start, used)
	}
	values, present := m.Memory.GetRange(start, n)
	out := make([]common.Felt, n)
	for i, v := range values {
		addr := start.AddUint(uint64(i))
		if !present[i] {
			return nil, fmt.Errorf("%w: %s", execerrors.ErrNoneInMemoryRange, addr)
		}
		f, ok := v.Felt()
		if !ok {
			return nil, fmt.Errorf("%w: %s holds %s", execerrors.ErrExpectedInteger, addr, v)
		}
		out[i] = f
	}
	return out, nil
}
