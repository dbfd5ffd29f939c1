package execution

import (
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/colorfulnotion/blockexec/vm"
)

// PrepareCallArguments builds the entry point's argument list:
//
//	selector, syscall_ptr, builtin initial stacks..., calldata_len, calldata_ptr
//
// It returns the implicit arguments (syscall_ptr and the builtin stacks) separately;
// the calldata is copied into a read-only segment.
func PrepareCallArguments(call types.CallEntryPoint, m *vm.Machine, initialSyscallPtr vm.Relocatable, readOnlySegments *ReadOnlySegments) ([]vm.MaybeRelocatable, []vm.MaybeRelocatable, error) {
	args := []vm.MaybeRelocatable{vm.FeltValue(call.EntryPointSelector)}

	implicitArgs := []vm.MaybeRelocatable{vm.RelocatableValue(initialSyscallPtr)}
	for _, b := range m.Builtins() {
		implicitArgs = append(implicitArgs, b.InitialStack()...)
	}
	args = append(args, implicitArgs...)

	args = append(args, vm.Uint64Value(uint64(len(call.Calldata))))
	calldataPtr, err := readOnlySegments.Allocate(m, vm.FeltValues(call.Calldata))
	if err != nil {
		return nil, nil, execerrors.PreExecution(err)
	}
	args = append(args, vm.RelocatableValue(calldataPtr))
	return implicitArgs, args, nil
}
