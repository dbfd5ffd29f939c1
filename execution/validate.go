package execution

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/vm"
)

// Checkpoint labels reported by ValidateRun.
const (
	CheckpointImplicitArgs      = "Implicit arguments' segments"
	CheckpointSyscallStart      = "Syscall segment start"
	CheckpointSyscallSize       = "Syscall segment size"
	CheckpointSyscallEnd        = "Syscall segment end"
	CheckpointReadOnlySegments  = "Read-only segments"
	builtinFinalStackCheckpoint = "%s builtin final stack"
)

// BuiltinFinalStackCheckpoint is the label of the final-stack check of one builtin.
func BuiltinFinalStackCheckpoint(name string) string {
	return fmt.Sprintf(builtinFinalStackCheckpoint, name)
}

// ValidateRun checks the final machine state of an entry-point run against the layout
// an honest program leaves behind. implicitArgsEnd is the address just past the last
// final implicit argument. Checks run in a fixed order and the first failure is returned.
func ValidateRun(m *vm.Machine, builtins []vm.BuiltinRunner, implicitArgs []vm.MaybeRelocatable, implicitArgsEnd vm.Relocatable, handler *SyscallHandler) error {
	// builtin stop pointers sit below implicitArgsEnd in reverse declaration order
	current := implicitArgsEnd
	for i := len(builtins) - 1; i >= 0; i-- {
		b := builtins[i]
		next, err := b.FinalStack(m.Memory, current)
		if err != nil {
			return securityFailure(BuiltinFinalStackCheckpoint(b.Name()), err)
		}
		current = next
	}

	implicitArgsStart, err := current.SubUint(1)
	if err != nil {
		return securityFailure(CheckpointImplicitArgs, err)
	}
	if implicitArgsStart.AddUint(uint64(len(implicitArgs))) != implicitArgsEnd {
		return securityFailure(CheckpointImplicitArgs, fmt.Errorf("%d implicit arguments start at %s but end at %s", len(implicitArgs), implicitArgsStart, implicitArgsEnd))
	}

	if len(implicitArgs) == 0 {
		return securityFailure(CheckpointSyscallStart, fmt.Errorf("no syscall pointer among the implicit arguments"))
	}
	syscallStart, ok := implicitArgs[0].Relocatable()
	if !ok {
		return securityFailure(CheckpointSyscallStart, vm.ErrExpectedRelocatable)
	}
	if syscallStart.Offset != 0 {
		return securityFailure(CheckpointSyscallStart, fmt.Errorf("syscall segment starts at %s", syscallStart))
	}

	syscallEnd, err := m.Memory.GetRelocatable(implicitArgsStart)
	if err != nil {
		return securityFailure(CheckpointSyscallSize, err)
	}
	used, err := m.Memory.SegmentUsedSize(syscallStart.SegmentIndex)
	if err != nil {
		return securityFailure(CheckpointSyscallSize, err)
	}
	if syscallStart.AddUint(used) != syscallEnd {
		return securityFailure(CheckpointSyscallSize, fmt.Errorf("syscall segment holds %d cells, final pointer is %s", used, syscallEnd))
	}

	if err := handler.VerifySyscallPtr(syscallEnd); err != nil {
		return securityFailure(CheckpointSyscallEnd, err)
	}

	if err := handler.ReadOnlySegments.Validate(m); err != nil {
		return securityFailure(CheckpointReadOnlySegments, err)
	}
	return nil
}

func securityFailure(checkpoint string, err error) error {
	log.Warn(log.ValidateMonitoring, "security validation failed", "checkpoint", checkpoint, "err", err)
	return execerrors.NewSecurityValidationError(checkpoint, err)
}
