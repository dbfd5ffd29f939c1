package vm

import "errors"

var (
	ErrInvalidInstruction  = errors.New("invalid instruction")
	ErrUnknownMemoryCell   = errors.New("unknown memory cell")
	ErrInconsistentMemory  = errors.New("inconsistent memory assignment")
	ErrProgramAbort        = errors.New("program aborted")
	ErrStepLimitExceeded   = errors.New("step limit exceeded")
	ErrBuiltinValidation   = errors.New("builtin validation failed")
	ErrAssertionFailed     = errors.New("assertion failed")
	ErrPcOutOfBounds       = errors.New("program counter out of bounds")
	ErrSegmentNotAllocated = errors.New("segment not allocated")
	ErrExpectedRelocatable = errors.New("expected relocatable value")
	ErrExpectedFelt        = errors.New("expected felt value")
	ErrOffsetOverflow      = errors.New("relocatable offset out of range")
	ErrOutOfBounds         = errors.New("memory access out of bounds")
	ErrDifferentSegments   = errors.New("relocatables belong to different segments")
	ErrInvalidStopPointer  = errors.New("invalid stop pointer")
	ErrUnsupportedBuiltin  = errors.New("unsupported builtin")
	ErrBuiltinsNotInOrder  = errors.New("builtins are not in canonical order")
	ErrNoHost              = errors.New("syscall issued without a host")
)
