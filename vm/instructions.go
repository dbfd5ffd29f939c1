package vm

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
)

// Instruction words are felts: the opcode in bits 0-7 and a signed 32-bit operand in
// bits 8-39. Opcodes marked with an immediate read it from the next program cell.

func init() {
	initDispatchTable()
}

type OpcodeHandler func(m *Machine, operand int32) error

var dispatchTable [256]OpcodeHandler

// Control.
const (
	ABORT   = 0x00
	JMP     = 0x10
	JNZ     = 0x11
	CALL    = 0x12
	RET     = 0x13
	SYSCALL = 0x20
)

// Stack pushes. Every push writes [ap] and increments ap.
const (
	PUSH_IMM     = 0x01 // [ap] = imm
	PUSH_FP      = 0x02 // [ap] = [fp+off]
	PUSH_AP      = 0x03 // [ap] = [ap+off]
	PUSH_FP_ADDR = 0x0c // [ap] = fp+off
	NEW_SEGMENT  = 0x0d // [ap] = base of a fresh segment
)

// Arithmetic and memory.
const (
	ADD       = 0x04 // [ap] = [ap-2] + [ap-1]
	SUB       = 0x05 // [ap] = [ap-2] - [ap-1]
	MUL       = 0x06 // [ap] = [ap-2] * [ap-1]
	DEREF     = 0x07 // [ap] = [[ap-1]+off]
	STORE     = 0x08 // [[ap-2]+off] = [ap-1]
	ADD_IMM   = 0x09 // [ap] = [ap-1] + imm
	ALLOC     = 0x0a // ap += off
	ASSERT_EQ = 0x0b // [ap-2] == [ap-1]
)

type opcodeInfo struct {
	name     string
	imm      bool
	operand  bool
	relative bool // operand is a pc-relative jump target
}

var opcodeTable = map[byte]opcodeInfo{
	ABORT:        {name: "abort"},
	PUSH_IMM:     {name: "push_imm", imm: true},
	PUSH_FP:      {name: "push_fp", operand: true},
	PUSH_AP:      {name: "push_ap", operand: true},
	ADD:          {name: "add"},
	SUB:          {name: "sub"},
	MUL:          {name: "mul"},
	DEREF:        {name: "deref", operand: true},
	STORE:        {name: "store", operand: true},
	ADD_IMM:      {name: "add_imm", imm: true},
	ALLOC:        {name: "alloc", operand: true},
	ASSERT_EQ:    {name: "assert_eq"},
	PUSH_FP_ADDR: {name: "push_fp_addr", operand: true},
	NEW_SEGMENT:  {name: "new_segment"},
	JMP:          {name: "jmp", operand: true, relative: true},
	JNZ:          {name: "jnz", operand: true, relative: true},
	CALL:         {name: "call", operand: true, relative: true},
	RET:          {name: "ret"},
	SYSCALL:      {name: "syscall"},
}

func opcode_str(op byte) string {
	if info, ok := opcodeTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(0x%02x)", op)
}

func initDispatchTable() {
	dispatchTable[ABORT] = func(m *Machine, _ int32) error { return ErrProgramAbort }
	dispatchTable[PUSH_IMM] = handlePushImm
	dispatchTable[PUSH_FP] = handlePushFp
	dispatchTable[PUSH_AP] = handlePushAp
	dispatchTable[PUSH_FP_ADDR] = handlePushFpAddr
	dispatchTable[NEW_SEGMENT] = handleNewSegment
	dispatchTable[ADD] = handleBinary(MaybeRelocatable.Add)
	dispatchTable[SUB] = handleBinary(MaybeRelocatable.Sub)
	dispatchTable[MUL] = handleBinary(MaybeRelocatable.Mul)
	dispatchTable[DEREF] = handleDeref
	dispatchTable[STORE] = handleStore
	dispatchTable[ADD_IMM] = handleAddImm
	dispatchTable[ALLOC] = handleAlloc
	dispatchTable[ASSERT_EQ] = handleAssertEq
	dispatchTable[JMP] = handleJmp
	dispatchTable[JNZ] = handleJnz
	dispatchTable[CALL] = handleCall
	dispatchTable[RET] = handleRet
	dispatchTable[SYSCALL] = handleSyscall
}

// EncodeInstruction packs an opcode and its operand into one instruction word.
func EncodeInstruction(op byte, operand int32) common.Felt {
	word := uint64(op) | uint64(uint32(operand))<<8
	return common.NewFelt(word)
}

// DecodeInstruction is the inverse of EncodeInstruction.
func DecodeInstruction(word common.Felt) (byte, int32, error) {
	v, ok := word.Uint64()
	if !ok || v>>40 != 0 {
		return 0, 0, fmt.Errorf("%w: word %s", ErrInvalidInstruction, word)
	}
	return byte(v & 0xff), int32(uint32(v >> 8)), nil
}

func instructionSize(op byte) uint64 {
	if opcodeTable[op].imm {
		return 2
	}
	return 1
}

func handlePushImm(m *Machine, _ int32) error {
	imm, err := m.immediate()
	if err != nil {
		return err
	}
	if err := m.push(imm); err != nil {
		return err
	}
	m.pc = m.pc.AddUint(2)
	return nil
}

func handlePushFp(m *Machine, off int32) error {
	return m.pushFrom(m.fp, off)
}

func handlePushAp(m *Machine, off int32) error {
	return m.pushFrom(m.ap, off)
}

func handlePushFpAddr(m *Machine, off int32) error {
	addr, err := m.fp.AddInt(int64(off))
	if err != nil {
		return err
	}
	if err := m.push(RelocatableValue(addr)); err != nil {
		return err
	}
	m.pc = m.pc.AddUint(1)
	return nil
}

func handleNewSegment(m *Machine, _ int32) error {
	if err := m.push(RelocatableValue(m.Memory.AddSegment())); err != nil {
		return err
	}
	m.pc = m.pc.AddUint(1)
	return nil
}

func handleBinary(op func(MaybeRelocatable, MaybeRelocatable) (MaybeRelocatable, error)) OpcodeHandler {
	return func(m *Machine, _ int32) error {
		a, err := m.readAp(-2)
		if err != nil {
			return err
		}
		b, err := m.readAp(-1)
		if err != nil {
			return err
		}
		res, err := op(a, b)
		if err != nil {
			return err
		}
		if err := m.push(res); err != nil {
			return err
		}
		m.pc = m.pc.AddUint(1)
		return nil
	}
}

func handleAddImm(m *Machine, _ int32) error {
	a, err := m.readAp(-1)
	if err != nil {
		return err
	}
	imm, err := m.immediate()
	if err != nil {
		return err
	}
	res, err := a.Add(imm)
	if err != nil {
		return err
	}
	if err := m.push(res); err != nil {
		return err
	}
	m.pc = m.pc.AddUint(2)
	return nil
}

func handleDeref(m *Machine, off int32) error {
	ptr, err := m.readApRelocatable(-1)
	if err != nil {
		return err
	}
	return m.pushFrom(ptr, off)
}

func handleStore(m *Machine, off int32) error {
	ptr, err := m.readApRelocatable(-2)
	if err != nil {
		return err
	}
	v, err := m.readAp(-1)
	if err != nil {
		return err
	}
	dst, err := ptr.AddInt(int64(off))
	if err != nil {
		return err
	}
	if err := m.Memory.Insert(dst, v); err != nil {
		return err
	}
	m.pc = m.pc.AddUint(1)
	return nil
}

func handleAlloc(m *Machine, off int32) error {
	ap, err := m.ap.AddInt(int64(off))
	if err != nil {
		return err
	}
	m.ap = ap
	m.pc = m.pc.AddUint(1)
	return nil
}

func handleAssertEq(m *Machine, _ int32) error {
	a, err := m.readAp(-2)
	if err != nil {
		return err
	}
	b, err := m.readAp(-1)
	if err != nil {
		return err
	}
	if !a.Equal(b) {
		return fmt.Errorf("%w: %s != %s", ErrAssertionFailed, a, b)
	}
	m.pc = m.pc.AddUint(1)
	return nil
}

func handleJmp(m *Machine, off int32) error {
	return m.jump(off)
}

func handleJnz(m *Machine, off int32) error {
	v, err := m.readAp(-1)
	if err != nil {
		return err
	}
	if f, ok := v.Felt(); ok && f.IsZero() {
		m.pc = m.pc.AddUint(1)
		return nil
	}
	return m.jump(off)
}

func handleCall(m *Machine, off int32) error {
	if err := m.push(RelocatableValue(m.fp)); err != nil {
		return err
	}
	if err := m.push(RelocatableValue(m.pc.AddUint(1))); err != nil {
		return err
	}
	m.fp = m.ap
	return m.jump(off)
}

func handleRet(m *Machine, _ int32) error {
	retPcAddr, err := m.fp.SubUint(1)
	if err != nil {
		return err
	}
	retFpAddr, err := m.fp.SubUint(2)
	if err != nil {
		return err
	}
	pc, err := m.readRelocatable(retPcAddr)
	if err != nil {
		return err
	}
	fp, err := m.readRelocatable(retFpAddr)
	if err != nil {
		return err
	}
	m.pc, m.fp = pc, fp
	return nil
}

func handleSyscall(m *Machine, _ int32) error {
	ptr, err := m.readApRelocatable(-1)
	if err != nil {
		return err
	}
	if m.host == nil {
		return ErrNoHost
	}
	if err := m.host.InvokeSyscall(m, ptr); err != nil {
		return err
	}
	m.pc = m.pc.AddUint(1)
	return nil
}
