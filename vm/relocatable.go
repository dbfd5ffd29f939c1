package vm

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
)

// Relocatable is an address inside machine memory: a segment and an offset within it.
type Relocatable struct {
	SegmentIndex int
	Offset       uint64
}

func NewRelocatable(segment int, offset uint64) Relocatable {
	return Relocatable{SegmentIndex: segment, Offset: offset}
}

func (r Relocatable) String() string {
	return fmt.Sprintf("%d:%d", r.SegmentIndex, r.Offset)
}

// AddUint is for host-side offsets that are already bounded. Program-controlled offsets
// go through AddInt or AddFelt.
func (r Relocatable) AddUint(n uint64) Relocatable {
	return Relocatable{SegmentIndex: r.SegmentIndex, Offset: r.Offset + n}
}

func (r Relocatable) AddInt(n int64) (Relocatable, error) {
	if n >= 0 {
		if r.Offset > MaxSegmentSize || uint64(n) > MaxSegmentSize-r.Offset {
			return Relocatable{}, fmt.Errorf("%w: %s + %d", ErrOutOfBounds, r, n)
		}
		return r.AddUint(uint64(n)), nil
	}
	return r.SubUint(uint64(-n))
}

func (r Relocatable) SubUint(n uint64) (Relocatable, error) {
	if n > r.Offset {
		return Relocatable{}, fmt.Errorf("%w: %s - %d", ErrOffsetOverflow, r, n)
	}
	return Relocatable{SegmentIndex: r.SegmentIndex, Offset: r.Offset - n}, nil
}

// AddFelt treats f as a signed offset.
func (r Relocatable) AddFelt(f common.Felt) (Relocatable, error) {
	n, ok := f.Int64()
	if !ok {
		return Relocatable{}, fmt.Errorf("%w: %s + %s", ErrOffsetOverflow, r, f)
	}
	return r.AddInt(n)
}

// Sub returns the distance r - other; both must share a segment and r must not precede other.
func (r Relocatable) Sub(other Relocatable) (uint64, error) {
	if r.SegmentIndex != other.SegmentIndex {
		return 0, fmt.Errorf("%w: %s - %s", ErrDifferentSegments, r, other)
	}
	if r.Offset < other.Offset {
		return 0, fmt.Errorf("%w: %s - %s", ErrOffsetOverflow, r, other)
	}
	return r.Offset - other.Offset, nil
}

// MaybeRelocatable is the content of one memory cell: either a felt or a pointer.
type MaybeRelocatable struct {
	felt  common.Felt
	rel   Relocatable
	isRel bool
}

func FeltValue(f common.Felt) MaybeRelocatable {
	return MaybeRelocatable{felt: f}
}

func Uint64Value(x uint64) MaybeRelocatable {
	return MaybeRelocatable{felt: common.NewFelt(x)}
}

func RelocatableValue(r Relocatable) MaybeRelocatable {
	return MaybeRelocatable{rel: r, isRel: true}
}

func FeltValues(fs []common.Felt) []MaybeRelocatable {
	out := make([]MaybeRelocatable, len(fs))
	for i, f := range fs {
		out[i] = FeltValue(f)
	}
	return out
}

func (m MaybeRelocatable) IsRelocatable() bool {
	return m.isRel
}

func (m MaybeRelocatable) Felt() (common.Felt, bool) {
	return m.felt, !m.isRel
}

func (m MaybeRelocatable) Relocatable() (Relocatable, bool) {
	return m.rel, m.isRel
}

func (m MaybeRelocatable) Equal(o MaybeRelocatable) bool {
	if m.isRel != o.isRel {
		return false
	}
	if m.isRel {
		return m.rel == o.rel
	}
	return m.felt.Cmp(o.felt) == 0
}

func (m MaybeRelocatable) String() string {
	if m.isRel {
		return m.rel.String()
	}
	return m.felt.String()
}

// Add supports felt+felt, pointer+felt and felt+pointer.
func (m MaybeRelocatable) Add(o MaybeRelocatable) (MaybeRelocatable, error) {
	switch {
	case !m.isRel && !o.isRel:
		return FeltValue(m.felt.Add(o.felt)), nil
	case m.isRel && !o.isRel:
		r, err := m.rel.AddFelt(o.felt)
		return RelocatableValue(r), err
	case !m.isRel && o.isRel:
		r, err := o.rel.AddFelt(m.felt)
		return RelocatableValue(r), err
	default:
		return MaybeRelocatable{}, fmt.Errorf("%w: cannot add %s and %s", ErrExpectedFelt, m, o)
	}
}

// Sub supports felt-felt, pointer-felt and pointer-pointer within one segment.
func (m MaybeRelocatable) Sub(o MaybeRelocatable) (MaybeRelocatable, error) {
	switch {
	case !m.isRel && !o.isRel:
		return FeltValue(m.felt.Sub(o.felt)), nil
	case m.isRel && !o.isRel:
		r, err := m.rel.AddFelt(common.NewFelt(0).Sub(o.felt))
		return RelocatableValue(r), err
	case m.isRel && o.isRel:
		if m.rel.SegmentIndex != o.rel.SegmentIndex {
			return MaybeRelocatable{}, fmt.Errorf("%w: %s - %s", ErrDifferentSegments, m, o)
		}
		return FeltValue(common.FeltFromInt64(int64(m.rel.Offset) - int64(o.rel.Offset))), nil
	default:
		return MaybeRelocatable{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrExpectedFelt, o, m)
	}
}

func (m MaybeRelocatable) Mul(o MaybeRelocatable) (MaybeRelocatable, error) {
	if m.isRel || o.isRel {
		return MaybeRelocatable{}, fmt.Errorf("%w: cannot multiply %s and %s", ErrExpectedFelt, m, o)
	}
	return FeltValue(m.felt.Mul(o.felt)), nil
}
