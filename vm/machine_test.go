package vm

import (
	"testing"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feltOf(t *testing.T, v MaybeRelocatable) uint64 {
	t.Helper()
	f, ok := v.Felt()
	require.True(t, ok, "expected felt, got %s", v)
	n, ok := f.Uint64()
	require.True(t, ok)
	return n
}

func TestRunAddsArguments(t *testing.T) {
	prog := MustAssemble(`
main:
    push_fp -4
    push_fp -3
    add
    ret
`)
	m, err := NewMachine(prog, 0)
	require.NoError(t, err)
	require.NoError(t, m.RunFromEntrypoint(0, []MaybeRelocatable{Uint64Value(3), Uint64Value(4)}, true, nil))

	ret, err := m.GetReturnValues(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), feltOf(t, ret[0]))
	assert.Equal(t, uint8(HALT), m.MachineState)
	assert.Equal(t, []uint64{0, 1, 2, 3}, m.VisitedPCs())
}

func TestCallAndReturn(t *testing.T) {
	prog := MustAssemble(`
main:
    push_imm 5
    call double
    ret
double:
    push_fp -3
    push_fp -3
    add
    ret
`)
	m, err := NewMachine(prog, 0)
	require.NoError(t, err)
	require.NoError(t, m.RunFromEntrypoint(0, nil, true, nil))
	ret, err := m.GetReturnValues(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), feltOf(t, ret[0]))
}

func TestBitwiseDeductionAndFinalStack(t *testing.T) {
	prog := MustAssemble(`
.builtins bitwise
main:
    push_fp -3
    push_imm 12
    store 0
    push_ap -2
    push_imm 10
    store 1
    push_ap -2
    deref 2
    push_fp -3
    add_imm 5
    push_ap -3
    ret
`)
	m, err := NewMachine(prog, 0)
	require.NoError(t, err)
	bitwise := m.Builtins()[0]
	require.NoError(t, m.RunFromEntrypoint(0, bitwise.InitialStack(), true, nil))

	ret, err := m.GetReturnValues(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), feltOf(t, ret[1]))

	ptr, err := m.AP().SubUint(1)
	require.NoError(t, err)
	stopAddr, err := bitwise.FinalStack(m.Memory, ptr)
	require.NoError(t, err)
	assert.Equal(t, m.AP().Offset-2, stopAddr.Offset)
}

func TestBitwiseTamperRejectedBySecureRun(t *testing.T) {
	prog := MustAssemble(`
.builtins bitwise
main:
    push_fp -3
    push_imm 12
    store 0
    push_ap -2
    push_imm 10
    store 1
    push_ap -2
    push_imm 9
    store 2
    ret
`)
	m, err := NewMachine(prog, 0)
	require.NoError(t, err)
	err = m.RunFromEntrypoint(0, m.Builtins()[0].InitialStack(), true, nil)
	require.ErrorIs(t, err, ErrBuiltinValidation)
}

func TestRangeCheckRejectsLargeValue(t *testing.T) {
	prog := MustAssemble(`
.builtins range_check
main:
    push_fp -3
    push_imm 0x100000000000000000000000000000000
    store 0
    ret
`)
	m, err := NewMachine(prog, 0)
	require.NoError(t, err)
	err = m.RunFromEntrypoint(0, m.Builtins()[0].InitialStack(), true, nil)
	require.ErrorIs(t, err, ErrBuiltinValidation)
	assert.Equal(t, uint8(PANIC), m.MachineState)
}

func TestFaults(t *testing.T) {
	cases := []struct {
		name  string
		src   string
		limit uint64
		want  error
	}{
		{"abort", "abort", 0, ErrProgramAbort},
		{"step limit", "loop:\n jmp loop", 100, ErrStepLimitExceeded},
		{"unknown cell", "push_ap 5\nret", 0, ErrUnknownMemoryCell},
		{"assert", "push_imm 1\npush_imm 2\nassert_eq\nret", 0, ErrAssertionFailed},
		{"write once", "push_imm 1\npush_fp_addr 0\npush_imm 2\nstore -2\nret", 0, ErrInconsistentMemory},
		{"syscall without host", "push_fp_addr 0\nsyscall\nret", 0, ErrNoHost},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, err := NewMachine(MustAssemble(c.src), c.limit)
			require.NoError(t, err)
			require.ErrorIs(t, m.RunFromEntrypoint(0, nil, true, nil), c.want)
		})
	}
}

type echoHost struct {
	calls int
}

// InvokeSyscall answers [request] with [request * 2] in the next cell.
func (h *echoHost) InvokeSyscall(m *Machine, ptr Relocatable) error {
	h.calls++
	v, err := m.Memory.GetFelt(ptr)
	if err != nil {
		return err
	}
	return m.Memory.Insert(ptr.AddUint(1), FeltValue(v.Add(v)))
}

func TestSyscallReachesHost(t *testing.T) {
	prog := MustAssemble(`
main:
    new_segment
    push_imm 21
    store 0
    push_ap -2
    syscall
    deref 1
    ret
`)
	m, err := NewMachine(prog, 0)
	require.NoError(t, err)
	host := &echoHost{}
	require.NoError(t, m.RunFromEntrypoint(0, nil, true, host))
	assert.Equal(t, 1, host.calls)
	ret, err := m.GetReturnValues(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), feltOf(t, ret[0]))
}

func TestBuiltinOrder(t *testing.T) {
	_, err := Assemble(".builtins bitwise output\nret")
	require.ErrorIs(t, err, ErrBuiltinsNotInOrder)
	_, err = Assemble(".builtins pedersen\nret")
	require.ErrorIs(t, err, ErrUnsupportedBuiltin)
	_, err = Assemble(".builtins output range_check bitwise keccak\nret")
	require.NoError(t, err)
}

func TestMemoryWriteOnce(t *testing.T) {
	mem := NewMemory()
	seg := mem.AddSegment()
	require.NoError(t, mem.Insert(seg.AddUint(2), Uint64Value(5)))
	require.NoError(t, mem.Insert(seg.AddUint(2), Uint64Value(5)))
	require.ErrorIs(t, mem.Insert(seg.AddUint(2), Uint64Value(6)), ErrInconsistentMemory)

	used, err := mem.SegmentUsedSize(seg.SegmentIndex)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), used)

	_, err = mem.GetFelt(seg.AddUint(1))
	require.ErrorIs(t, err, ErrUnknownMemoryCell)
	require.ErrorIs(t, mem.Insert(NewRelocatable(7, 0), Uint64Value(1)), ErrSegmentNotAllocated)
}

func TestMemoryBounds(t *testing.T) {
	mem := NewMemory()
	seg := mem.AddSegment()
	require.ErrorIs(t, mem.Insert(seg.AddUint(1<<40), Uint64Value(7)), ErrOutOfBounds)
	require.ErrorIs(t, mem.Insert(seg.AddUint(MaxSegmentSize), Uint64Value(7)), ErrOutOfBounds)
	used, err := mem.SegmentUsedSize(seg.SegmentIndex)
	require.NoError(t, err)
	assert.Zero(t, used)

	require.NoError(t, mem.Insert(seg.AddUint(MaxSegmentSize-1), Uint64Value(7)))
	for i := uint64(1); i < MaxMemoryCells/MaxSegmentSize; i++ {
		require.NoError(t, mem.Insert(mem.AddSegment().AddUint(MaxSegmentSize-1), Uint64Value(7)))
	}
	last := mem.AddSegment()
	require.ErrorIs(t, mem.Insert(last, Uint64Value(7)), ErrOutOfBounds)

	_, err = seg.AddInt(int64(MaxSegmentSize) + 1)
	require.ErrorIs(t, err, ErrOutOfBounds)
	_, err = seg.AddUint(MaxSegmentSize - 1).AddInt(1 << 62)
	require.ErrorIs(t, err, ErrOutOfBounds)
	end, err := seg.AddInt(int64(MaxSegmentSize))
	require.NoError(t, err)
	assert.Equal(t, MaxSegmentSize, end.Offset)
}

func TestFarStoreFailsFast(t *testing.T) {
	prog := MustAssemble(`
main:
    new_segment
    push_imm 1099511627776
    add
    push_imm 7
    store 0
    ret
`)
	m, err := NewMachine(prog, 0)
	require.NoError(t, err)
	require.ErrorIs(t, m.RunFromEntrypoint(0, nil, true, nil), ErrOutOfBounds)
	assert.Equal(t, uint8(PANIC), m.MachineState)
	assert.Equal(t, uint64(2), m.Steps())
}

func TestMaybeRelocatableArithmetic(t *testing.T) {
	p := RelocatableValue(NewRelocatable(3, 10))
	sum, err := p.Add(FeltValue(common.FeltFromInt64(-4)))
	require.NoError(t, err)
	r, ok := sum.Relocatable()
	require.True(t, ok)
	assert.Equal(t, NewRelocatable(3, 6), r)

	diff, err := p.Sub(RelocatableValue(NewRelocatable(3, 4)))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), feltOf(t, diff))

	_, err = p.Add(p)
	require.Error(t, err)
	_, err = p.Sub(RelocatableValue(NewRelocatable(2, 0)))
	require.ErrorIs(t, err, ErrDifferentSegments)
	_, err = p.Add(FeltValue(common.FeltFromInt64(-11)))
	require.ErrorIs(t, err, ErrOffsetOverflow)
}

func TestAssemblerShortStringAndDisassemble(t *testing.T) {
	prog, err := Assemble(`
start:
    push_imm 'StorageWrite'   # selector
    jnz start
    ret
`)
	require.NoError(t, err)
	require.Len(t, prog.Data, 4)
	assert.Equal(t, common.FeltFromShortString("StorageWrite"), prog.Data[1])

	op, off, err := DecodeInstruction(prog.Data[2])
	require.NoError(t, err)
	assert.Equal(t, byte(JNZ), op)
	assert.Equal(t, int32(-2), off)

	lines := prog.Disassemble()
	assert.Equal(t, "start:", lines[0])
	assert.Contains(t, lines[2], "jnz -2")

	_, err = Assemble("bogus 1")
	require.Error(t, err)
	_, err = Assemble("a:\na:\nret")
	require.Error(t, err)
}
