package vm

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/log"
)

const (
	HALT  = 0 // reached the end pc
	PANIC = 1 // faulted
)

// DefaultStepLimit bounds a run when the caller does not supply one.
const DefaultStepLimit = 1_000_000

// Machine runs one Program over segmented memory. A Machine is used for a single
// entry-point run and is not safe for concurrent use.
type Machine struct {
	Memory *Memory

	program       *Program
	programBase   Relocatable
	executionBase Relocatable

	pc Relocatable
	ap Relocatable
	fp Relocatable

	builtins         []BuiltinRunner
	builtinBySegment map[int]BuiltinRunner

	host      HostVM
	stepLimit uint64
	steps     uint64
	trace     []uint64

	MachineState uint8
	terminated   bool
}

// NewMachine allocates the program, execution and builtin segments and loads the
// program. Builtin runners are created for every builtin the program declares.
func NewMachine(program *Program, stepLimit uint64) (*Machine, error) {
	if err := program.Validate(); err != nil {
		return nil, err
	}
	builtins, err := NewBuiltinRunners(program.Builtins)
	if err != nil {
		return nil, err
	}
	if stepLimit == 0 {
		stepLimit = DefaultStepLimit
	}
	m := &Machine{
		Memory:           NewMemory(),
		program:          program,
		builtins:         builtins,
		builtinBySegment: make(map[int]BuiltinRunner, len(builtins)),
		stepLimit:        stepLimit,
	}
	m.programBase = m.Memory.AddSegment()
	m.executionBase = m.Memory.AddSegment()
	for _, b := range m.builtins {
		b.InitializeSegments(m.Memory)
		b.AddValidationRule(m.Memory)
		m.builtinBySegment[b.Base().SegmentIndex] = b
	}
	code := make([]MaybeRelocatable, len(program.Data))
	for i, w := range program.Data {
		code[i] = FeltValue(w)
	}
	if _, err := m.Memory.LoadData(m.programBase, code); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine) Program() *Program          { return m.program }
func (m *Machine) ProgramBase() Relocatable   { return m.programBase }
func (m *Machine) ExecutionBase() Relocatable { return m.executionBase }
func (m *Machine) PC() Relocatable            { return m.pc }
func (m *Machine) AP() Relocatable            { return m.ap }
func (m *Machine) FP() Relocatable            { return m.fp }
func (m *Machine) Steps() uint64              { return m.steps }

// Builtins returns the runners in initialisation order.
func (m *Machine) Builtins() []BuiltinRunner {
	return m.builtins
}

// BuiltinNames lists the active builtins in initialisation order.
func (m *Machine) BuiltinNames() []string {
	names := make([]string, len(m.builtins))
	for i, b := range m.builtins {
		names[i] = b.Name()
	}
	return names
}

// AddSegment allocates a fresh segment.
func (m *Machine) AddSegment() Relocatable {
	return m.Memory.AddSegment()
}

// VisitedPCs returns the program offsets executed so far, one per step.
func (m *Machine) VisitedPCs() []uint64 {
	out := make([]uint64, len(m.trace))
	copy(out, m.trace)
	return out
}

// RunFromEntrypoint pushes args, a fresh return-fp pointer and the end pc onto the
// execution segment and runs from entrypoint until pc reaches the end of the program.
func (m *Machine) RunFromEntrypoint(entrypoint uint64, args []MaybeRelocatable, verifySecure bool, host HostVM) error {
	if entrypoint >= uint64(len(m.program.Data)) {
		return fmt.Errorf("%w: entry point %d", ErrPcOutOfBounds, entrypoint)
	}
	returnFp := m.Memory.AddSegment()
	end := m.programBase.AddUint(uint64(len(m.program.Data)))
	stack := make([]MaybeRelocatable, 0, len(args)+2)
	stack = append(stack, args...)
	stack = append(stack, RelocatableValue(returnFp), RelocatableValue(end))
	top, err := m.Memory.LoadData(m.executionBase, stack)
	if err != nil {
		return err
	}
	m.ap, m.fp = top, top
	m.pc = m.programBase.AddUint(entrypoint)
	m.host = host
	m.terminated = false

	log.Trace(log.VMMonitoring, "RunFromEntrypoint", "entrypoint", entrypoint, "args", len(args), "end", end)
	if err := m.RunUntilPC(end); err != nil {
		m.MachineState = PANIC
		return err
	}
	m.MachineState = HALT
	if verifySecure {
		return m.VerifySecureRunner()
	}
	return nil
}

// RunUntilPC steps until pc equals end.
func (m *Machine) RunUntilPC(end Relocatable) error {
	for !m.terminated {
		if m.pc == end {
			m.terminated = true
			break
		}
		if err := m.step(); err != nil {
			return err
		}
	}
	return nil
}

// step performs a single instruction.
func (m *Machine) step() error {
	if m.steps >= m.stepLimit {
		return fmt.Errorf("%w: %d steps", ErrStepLimitExceeded, m.stepLimit)
	}
	if m.pc.SegmentIndex != m.programBase.SegmentIndex || m.pc.Offset >= uint64(len(m.program.Data)) {
		return fmt.Errorf("%w: %s", ErrPcOutOfBounds, m.pc)
	}
	word, err := m.Memory.GetFelt(m.pc)
	if err != nil {
		return fmt.Errorf("%w at pc %s: %v", ErrInvalidInstruction, m.pc, err)
	}
	opcode, operand, err := DecodeInstruction(word)
	if err != nil {
		return fmt.Errorf("pc %s: %w", m.pc, err)
	}
	handler := dispatchTable[opcode]
	if handler == nil {
		log.Warn(log.VMMonitoring, "terminated: unknown opcode", "pc", m.pc, "opcode", opcode)
		return fmt.Errorf("%w: opcode 0x%02x at pc %s", ErrInvalidInstruction, opcode, m.pc)
	}
	m.trace = append(m.trace, m.pc.Offset)
	log.Trace(log.VMMonitoring, opcode_str(opcode), "step", m.steps, "pc", m.pc, "ap", m.ap, "fp", m.fp, "operand", operand)
	currentPC := m.pc
	if err := handler(m, operand); err != nil {
		return fmt.Errorf("%s at pc %s: %w", opcode_str(opcode), currentPC, err)
	}
	m.steps++
	return nil
}

// VerifySecureRunner checks that the run did not write past the program and that every
// deducible builtin cell holds the deduced value.
func (m *Machine) VerifySecureRunner() error {
	used, err := m.Memory.SegmentUsedSize(m.programBase.SegmentIndex)
	if err != nil {
		return err
	}
	if used != uint64(len(m.program.Data)) {
		return fmt.Errorf("%w: program segment grew to %d cells", ErrInconsistentMemory, used)
	}
	for _, b := range m.builtins {
		used, err := m.Memory.SegmentUsedSize(b.Base().SegmentIndex)
		if err != nil {
			return err
		}
		for off := uint64(0); off < used; off++ {
			addr := NewRelocatable(b.Base().SegmentIndex, off)
			have, ok := m.Memory.Get(addr)
			if !ok {
				continue
			}
			want, deduced, err := b.DeduceMemoryCell(m.Memory, addr)
			if err != nil {
				return err
			}
			if deduced && !want.Equal(have) {
				return fmt.Errorf("%w: %s cell %s holds %s, expected %s", ErrBuiltinValidation, b.Name(), addr, have, want)
			}
		}
	}
	return nil
}

// GetReturnValues reads the n cells below ap.
func (m *Machine) GetReturnValues(n uint64) ([]MaybeRelocatable, error) {
	start, err := m.ap.SubUint(n)
	if err != nil {
		return nil, err
	}
	out := make([]MaybeRelocatable, n)
	for i := uint64(0); i < n; i++ {
		v, err := m.read(start.AddUint(i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// read fetches a cell, deducing builtin output cells on first access.
func (m *Machine) read(addr Relocatable) (MaybeRelocatable, error) {
	if v, ok := m.Memory.Get(addr); ok {
		m.Memory.MarkAsAccessed(addr)
		return v, nil
	}
	if b, ok := m.builtinBySegment[addr.SegmentIndex]; ok {
		v, deduced, err := b.DeduceMemoryCell(m.Memory, addr)
		if err != nil {
			return MaybeRelocatable{}, err
		}
		if deduced {
			if err := m.Memory.Insert(addr, v); err != nil {
				return MaybeRelocatable{}, err
			}
			m.Memory.MarkAsAccessed(addr)
			return v, nil
		}
	}
	return MaybeRelocatable{}, fmt.Errorf("%w: %s", ErrUnknownMemoryCell, addr)
}

func (m *Machine) readRelocatable(addr Relocatable) (Relocatable, error) {
	v, err := m.read(addr)
	if err != nil {
		return Relocatable{}, err
	}
	r, ok := v.Relocatable()
	if !ok {
		return Relocatable{}, fmt.Errorf("%w at %s, found %s", ErrExpectedRelocatable, addr, v)
	}
	return r, nil
}

func (m *Machine) readAp(off int64) (MaybeRelocatable, error) {
	addr, err := m.ap.AddInt(off)
	if err != nil {
		return MaybeRelocatable{}, err
	}
	return m.read(addr)
}

func (m *Machine) readApRelocatable(off int64) (Relocatable, error) {
	addr, err := m.ap.AddInt(off)
	if err != nil {
		return Relocatable{}, err
	}
	return m.readRelocatable(addr)
}

func (m *Machine) immediate() (MaybeRelocatable, error) {
	return m.read(m.pc.AddUint(1))
}

func (m *Machine) push(v MaybeRelocatable) error {
	if err := m.Memory.Insert(m.ap, v); err != nil {
		return err
	}
	m.ap = m.ap.AddUint(1)
	return nil
}

func (m *Machine) pushFrom(base Relocatable, off int32) error {
	addr, err := base.AddInt(int64(off))
	if err != nil {
		return err
	}
	v, err := m.read(addr)
	if err != nil {
		return err
	}
	if err := m.push(v); err != nil {
		return err
	}
	m.pc = m.pc.AddUint(1)
	return nil
}

func (m *Machine) jump(off int32) error {
	pc, err := m.pc.AddInt(int64(off))
	if err != nil {
		return err
	}
	m.pc = pc
	return nil
}
