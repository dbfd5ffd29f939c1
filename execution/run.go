package execution

import (
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/vm"
)

// RunEntryPoint runs m from entryPointPC with args, serving syscalls with handler. Any
// fault is returned as a machine execution error.
func RunEntryPoint(m *vm.Machine, entryPointPC uint64, args []vm.MaybeRelocatable, handler *SyscallHandler) error {
	if err := m.RunFromEntrypoint(entryPointPC, args, true, handler); err != nil {
		log.Debug(log.ExecMonitoring, "RunEntryPoint faulted", "pc", m.PC(), "steps", m.Steps(), "err", err)
		return execerrors.VirtualMachineExecution(err)
	}
	return nil
}
