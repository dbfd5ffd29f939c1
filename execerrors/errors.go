package execerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase errors. Every error leaving the entry-point pipeline is joined with exactly one of these.
var (
	ErrPreExecution            = errors.New("X1|PreExecution: Entry point could not be prepared.")
	ErrVirtualMachineExecution = errors.New("X2|VirtualMachineExecution: Machine faulted while running the entry point.")
	ErrPostExecution           = errors.New("X3|PostExecution: Final machine state was rejected.")
)

// Entry point resolution (E) Errors
var (
	ErrUndeclaredClassHash              = errors.New("E1|UndeclaredClassHash: Class hash is not declared in state.")
	ErrEntryPointNotFound               = errors.New("E2|EntryPointNotFound: No entry point matches the selector and there is no default entry point.")
	ErrDuplicatedEntryPointSelector     = errors.New("E3|DuplicatedEntryPointSelector: More than one entry point matches the selector.")
	ErrInvalidConstructorEntryPointName = errors.New("E4|InvalidConstructorEntryPointName: Constructor entry points must use the constructor selector.")
	ErrUninitializedStorageAddress      = errors.New("E5|UninitializedStorageAddress: No class is deployed at the storage address.")
	ErrRecursionDepthExceeded           = errors.New("E6|RecursionDepthExceeded: Nested call depth exceeds the block limit.")
	ErrProgram                          = errors.New("E7|Program: Program is malformed or requests unsupported builtins.")
	ErrConstructorCalldataNotEmpty      = errors.New("E8|ConstructorCalldataNotEmpty: Class has no constructor but constructor calldata is not empty.")
)

// Post-execution (P) Errors
var (
	ErrSecurityValidation = errors.New("P1|SecurityValidation: Final memory layout does not match an honest run.")
	ErrExpectedInteger    = errors.New("P2|ExpectedInteger: Memory cell holds a pointer where a value was expected.")
	ErrNoneInMemoryRange  = errors.New("P3|NoneInMemoryRange: Memory range contains an unset cell.")
	ErrInvalidReturnData  = errors.New("P4|InvalidReturnData: Return data size or pointer is malformed.")
)

// Syscall (S) Errors
var (
	ErrBadSyscallPointer        = errors.New("S1|BadSyscallPointer: Syscall request is not at the expected syscall pointer.")
	ErrUnknownSyscall           = errors.New("S2|UnknownSyscall: Syscall selector is not recognised.")
	ErrInvalidSyscallInput      = errors.New("S3|InvalidSyscallInput: Syscall request cells are malformed.")
	ErrContractAddressOccupied  = errors.New("S4|ContractAddressOccupied: A class is already deployed at the requested address.")
	ErrUnauthorizedLibraryCall  = errors.New("S5|UnauthorizedLibraryCall: Library calls cannot target the constructor.")
	ErrInnerCallFailed          = errors.New("S6|InnerCallFailed: A nested call was rejected.")
	ErrStorageAddressOutOfRange = errors.New("S7|StorageAddressOutOfRange: Storage key must fit in 251 bits.")
)

// SecurityValidationError is returned by every check of the post-execution validator.
// Checkpoint names the failing check; Err is the underlying cause.
type SecurityValidationError struct {
	Checkpoint string
	Err        error
}

func NewSecurityValidationError(checkpoint string, cause error) *SecurityValidationError {
	return &SecurityValidationError{Checkpoint: checkpoint, Err: cause}
}

func (e *SecurityValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s Security validation failed at %s.", ErrSecurityValidation.Error(), e.Checkpoint)
	}
	return fmt.Sprintf("%s Security validation failed at %s: %v", ErrSecurityValidation.Error(), e.Checkpoint, e.Err)
}

func (e *SecurityValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSecurityValidation}
	}
	return []error{ErrSecurityValidation, e.Err}
}

// PreExecution tags err as a resolution failure.
func PreExecution(err error) error {
	return wrapPhase(ErrPreExecution, err)
}

// VirtualMachineExecution tags err as a machine fault.
func VirtualMachineExecution(err error) error {
	return wrapPhase(ErrVirtualMachineExecution, err)
}

// PostExecution tags err as a validation or decoding failure.
func PostExecution(err error) error {
	return wrapPhase(ErrPostExecution, err)
}

func wrapPhase(phase, err error) error {
	if err == nil {
		return nil
	}
	// a nested call's failure keeps the phase it was first tagged with
	for _, p := range []error{ErrPreExecution, ErrVirtualMachineExecution, ErrPostExecution} {
		if errors.Is(err, p) {
			return err
		}
	}
	return fmt.Errorf("%w %w", phase, err)
}

// Phase returns the phase sentinel err was tagged with, or nil.
func Phase(err error) error {
	for _, p := range []error{ErrPreExecution, ErrVirtualMachineExecution, ErrPostExecution} {
		if errors.Is(err, p) {
			return p
		}
	}
	return nil
}

var coded = []error{
	ErrUndeclaredClassHash, ErrEntryPointNotFound, ErrDuplicatedEntryPointSelector,
	ErrInvalidConstructorEntryPointName, ErrUninitializedStorageAddress, ErrRecursionDepthExceeded,
	ErrProgram, ErrConstructorCalldataNotEmpty,
	ErrSecurityValidation, ErrExpectedInteger, ErrNoneInMemoryRange, ErrInvalidReturnData,
	ErrBadSyscallPointer, ErrUnknownSyscall, ErrInvalidSyscallInput, ErrContractAddressOccupied,
	ErrUnauthorizedLibraryCall, ErrInnerCallFailed, ErrStorageAddressOutOfRange,
}

// Cause returns the most specific coded sentinel err wraps, skipping phase sentinels.
func Cause(err error) error {
	for _, c := range coded {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if c := Cause(err); c != nil {
		err = c
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if c := Cause(err); c != nil {
		err = c
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
