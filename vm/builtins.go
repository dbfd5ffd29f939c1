package vm

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	OutputBuiltinName     = "output"
	PedersenBuiltinName   = "pedersen"
	RangeCheckBuiltinName = "range_check"
	EcdsaBuiltinName      = "ecdsa"
	BitwiseBuiltinName    = "bitwise"
	EcOpBuiltinName       = "ec_op"
	KeccakBuiltinName     = "keccak"
	PoseidonBuiltinName   = "poseidon"
)

// BuiltinOrder is the canonical builtin enumeration. A program lists its builtins as a
// subsequence of it, and implicit arguments follow the same order.
var BuiltinOrder = []string{
	OutputBuiltinName,
	PedersenBuiltinName,
	RangeCheckBuiltinName,
	EcdsaBuiltinName,
	BitwiseBuiltinName,
	EcOpBuiltinName,
	KeccakBuiltinName,
	PoseidonBuiltinName,
}

// rangeCheckBound is 2^128.
var rangeCheckBound = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

var keccakOutputMask = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 250), uint256.NewInt(1))

// BuiltinRunner owns one builtin memory segment.
type BuiltinRunner interface {
	Name() string
	Base() Relocatable
	CellsPerInstance() uint64
	InitializeSegments(mem *Memory)
	InitialStack() []MaybeRelocatable
	AddValidationRule(mem *Memory)
	// DeduceMemoryCell computes an output cell from its instance's inputs; ok is false
	// when addr is an input cell or the inputs are not written yet.
	DeduceMemoryCell(mem *Memory, addr Relocatable) (value MaybeRelocatable, ok bool, err error)
	// FinalStack reads the builtin's stop pointer at ptr-1, checks it against the
	// segment's used instances and returns ptr-1.
	FinalStack(mem *Memory, ptr Relocatable) (Relocatable, error)
	UsedInstances(mem *Memory) (uint64, error)
}

// NewBuiltinRunner returns the runner for a supported builtin name.
func NewBuiltinRunner(name string) (BuiltinRunner, error) {
	switch name {
	case OutputBuiltinName:
		return &OutputBuiltinRunner{builtinBase{name: name, cellsPerInstance: 1, inputCells: 1}}, nil
	case RangeCheckBuiltinName:
		return &RangeCheckBuiltinRunner{builtinBase{name: name, cellsPerInstance: 1, inputCells: 1}}, nil
	case BitwiseBuiltinName:
		return &BitwiseBuiltinRunner{builtinBase{name: name, cellsPerInstance: 5, inputCells: 2}}, nil
	case KeccakBuiltinName:
		return &KeccakBuiltinRunner{builtinBase{name: name, cellsPerInstance: 3, inputCells: 2}}, nil
	case PedersenBuiltinName, EcdsaBuiltinName, EcOpBuiltinName, PoseidonBuiltinName:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBuiltin, name)
	default:
		return nil, fmt.Errorf("%w: unknown builtin %q", ErrUnsupportedBuiltin, name)
	}
}

// NewBuiltinRunners builds runners for names, which must follow BuiltinOrder.
func NewBuiltinRunners(names []string) ([]BuiltinRunner, error) {
	if err := CheckBuiltinOrder(names); err != nil {
		return nil, err
	}
	runners := make([]BuiltinRunner, 0, len(names))
	for _, name := range names {
		r, err := NewBuiltinRunner(name)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}

// CheckBuiltinOrder reports whether names is a strictly increasing subsequence of BuiltinOrder.
func CheckBuiltinOrder(names []string) error {
	next := 0
	for _, name := range names {
		found := false
		for next < len(BuiltinOrder) {
			if BuiltinOrder[next] == name {
				found = true
				next++
				break
			}
			next++
		}
		if !found {
			return fmt.Errorf("%w: %v", ErrBuiltinsNotInOrder, names)
		}
	}
	return nil
}

type builtinBase struct {
	name             string
	base             Relocatable
	cellsPerInstance uint64
	inputCells       uint64
}

func (b *builtinBase) Name() string             { return b.name }
func (b *builtinBase) Base() Relocatable        { return b.base }
func (b *builtinBase) CellsPerInstance() uint64 { return b.cellsPerInstance }

func (b *builtinBase) InitializeSegments(mem *Memory) {
	b.base = mem.AddSegment()
}

func (b *builtinBase) InitialStack() []MaybeRelocatable {
	return []MaybeRelocatable{RelocatableValue(b.base)}
}

func (b *builtinBase) AddValidationRule(*Memory) {}

func (b *builtinBase) DeduceMemoryCell(*Memory, Relocatable) (MaybeRelocatable, bool, error) {
	return MaybeRelocatable{}, false, nil
}

func (b *builtinBase) UsedInstances(mem *Memory) (uint64, error) {
	used, err := mem.SegmentUsedSize(b.base.SegmentIndex)
	if err != nil {
		return 0, err
	}
	return (used + b.cellsPerInstance - 1) / b.cellsPerInstance, nil
}

func (b *builtinBase) FinalStack(mem *Memory, ptr Relocatable) (Relocatable, error) {
	stopPtrAddr, err := ptr.SubUint(1)
	if err != nil {
		return Relocatable{}, fmt.Errorf("%w: %s final stack has no room at %s", ErrInvalidStopPointer, b.name, ptr)
	}
	stopPtr, err := mem.GetRelocatable(stopPtrAddr)
	if err != nil {
		return Relocatable{}, fmt.Errorf("%w: %s: %v", ErrInvalidStopPointer, b.name, err)
	}
	if stopPtr.SegmentIndex != b.base.SegmentIndex {
		return Relocatable{}, fmt.Errorf("%w: %s stop pointer %s is outside segment %d", ErrInvalidStopPointer, b.name, stopPtr, b.base.SegmentIndex)
	}
	instances, err := b.UsedInstances(mem)
	if err != nil {
		return Relocatable{}, err
	}
	if expected := instances * b.cellsPerInstance; stopPtr.Offset != expected {
		return Relocatable{}, fmt.Errorf("%w: %s stop pointer %s, expected offset %d", ErrInvalidStopPointer, b.name, stopPtr, expected)
	}
	return stopPtrAddr, nil
}

// instanceInputs reads the input cells of the instance containing addr.
func (b *builtinBase) instanceInputs(mem *Memory, addr Relocatable) ([]*uint256.Int, uint64, bool, error) {
	index := addr.Offset % b.cellsPerInstance
	if index < b.inputCells {
		return nil, index, false, nil
	}
	first := NewRelocatable(addr.SegmentIndex, addr.Offset-index)
	inputs := make([]*uint256.Int, b.inputCells)
	for i := uint64(0); i < b.inputCells; i++ {
		v, ok := mem.Get(first.AddUint(i))
		if !ok {
			return nil, index, false, nil
		}
		f, isFelt := v.Felt()
		if !isFelt {
			return nil, index, false, fmt.Errorf("%w: %s input at %s is a pointer", ErrBuiltinValidation, b.name, first.AddUint(i))
		}
		inputs[i] = f.Uint256()
	}
	return inputs, index, true, nil
}

// OutputBuiltinRunner collects program output; its cells are unconstrained.
type OutputBuiltinRunner struct{ builtinBase }

// RangeCheckBuiltinRunner rejects any write that is not a felt below 2^128.
type RangeCheckBuiltinRunner struct{ builtinBase }

func (r *RangeCheckBuiltinRunner) AddValidationRule(mem *Memory) {
	mem.AddValidationRule(r.base.SegmentIndex, func(_ *Memory, addr Relocatable, value MaybeRelocatable) error {
		f, ok := value.Felt()
		if !ok {
			return fmt.Errorf("%w: range_check cell %s holds a pointer", ErrBuiltinValidation, addr)
		}
		if !f.Uint256().Lt(rangeCheckBound) {
			return fmt.Errorf("%w: range_check value %s at %s is out of bounds", ErrBuiltinValidation, f, addr)
		}
		return nil
	})
}

// BitwiseBuiltinRunner instances are [x, y, x&y, x^y, x|y].
type BitwiseBuiltinRunner struct{ builtinBase }

func (r *BitwiseBuiltinRunner) DeduceMemoryCell(mem *Memory, addr Relocatable) (MaybeRelocatable, bool, error) {
	inputs, index, ok, err := r.instanceInputs(mem, addr)
	if !ok || err != nil {
		return MaybeRelocatable{}, false, err
	}
	x, y := inputs[0], inputs[1]
	var out uint256.Int
	switch index {
	case 2:
		out.And(x, y)
	case 3:
		out.Xor(x, y)
	case 4:
		out.Or(x, y)
	}
	return FeltValue(common.FeltFromUint256(&out)), true, nil
}

// KeccakBuiltinRunner instances are [a, b, keccak256(a || b) truncated to 250 bits].
type KeccakBuiltinRunner struct{ builtinBase }

func (r *KeccakBuiltinRunner) DeduceMemoryCell(mem *Memory, addr Relocatable) (MaybeRelocatable, bool, error) {
	inputs, _, ok, err := r.instanceInputs(mem, addr)
	if !ok || err != nil {
		return MaybeRelocatable{}, false, err
	}
	a, b := inputs[0].Bytes32(), inputs[1].Bytes32()
	var out uint256.Int
	out.SetBytes(crypto.Keccak256(a[:], b[:]))
	out.And(&out, keccakOutputMask)
	return FeltValue(common.FeltFromUint256(&out)), true, nil
}
