package vm

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
)

const (
	// MaxSegmentSize bounds the offset of any cell a program may write.
	MaxSegmentSize uint64 = 1 << 20
	// MaxMemoryCells bounds the cells allocated across all segments of one run.
	MaxMemoryCells uint64 = 1 << 22
)

type memoryCell struct {
	value    MaybeRelocatable
	accessed bool
}

// ValidationRule is checked whenever a cell of the segment it is attached to is written.
type ValidationRule func(mem *Memory, addr Relocatable, value MaybeRelocatable) error

// Memory is segmented and write-once. A segment's used size is the highest written
// offset plus one.
type Memory struct {
	segments        [][]*memoryCell
	validationRules map[int]ValidationRule
	cells           uint64
}

func NewMemory() *Memory {
	return &Memory{validationRules: make(map[int]ValidationRule)}
}

// AddSegment allocates an empty segment and returns its base.
func (mem *Memory) AddSegment() Relocatable {
	mem.segments = append(mem.segments, nil)
	return NewRelocatable(len(mem.segments)-1, 0)
}

func (mem *Memory) NumSegments() int {
	return len(mem.segments)
}

func (mem *Memory) AddValidationRule(segment int, rule ValidationRule) {
	mem.validationRules[segment] = rule
}

// SegmentUsedSize reports the used size of a segment.
func (mem *Memory) SegmentUsedSize(segment int) (uint64, error) {
	if segment < 0 || segment >= len(mem.segments) {
		return 0, fmt.Errorf("%w: segment %d", ErrSegmentNotAllocated, segment)
	}
	return uint64(len(mem.segments[segment])), nil
}

// Insert writes value at addr. Rewriting a cell with the same value is allowed; a
// different value is an ErrInconsistentMemory. Writes past MaxSegmentSize, or growth
// past MaxMemoryCells, fail with ErrOutOfBounds before anything is allocated.
func (mem *Memory) Insert(addr Relocatable, value MaybeRelocatable) error {
	if addr.SegmentIndex < 0 || addr.SegmentIndex >= len(mem.segments) {
		return fmt.Errorf("%w: write to %s", ErrSegmentNotAllocated, addr)
	}
	if addr.Offset >= MaxSegmentSize {
		return fmt.Errorf("%w: write to %s", ErrOutOfBounds, addr)
	}
	seg := mem.segments[addr.SegmentIndex]
	var grow uint64
	if addr.Offset < uint64(len(seg)) {
		if cell := seg[addr.Offset]; cell != nil {
			if cell.value.Equal(value) {
				return nil
			}
			return fmt.Errorf("%w: %s holds %s, cannot write %s", ErrInconsistentMemory, addr, cell.value, value)
		}
	} else {
		grow = addr.Offset + 1 - uint64(len(seg))
		if mem.cells+grow > MaxMemoryCells {
			return fmt.Errorf("%w: write to %s exceeds %d cells", ErrOutOfBounds, addr, MaxMemoryCells)
		}
	}
	if rule, ok := mem.validationRules[addr.SegmentIndex]; ok {
		if err := rule(mem, addr, value); err != nil {
			return err
		}
	}
	if grow > 0 {
		seg = append(seg, make([]*memoryCell, grow)...)
		mem.cells += grow
	}
	seg[addr.Offset] = &memoryCell{value: value}
	mem.segments[addr.SegmentIndex] = seg
	return nil
}

// Get returns the value at addr and whether it was written.
func (mem *Memory) Get(addr Relocatable) (MaybeRelocatable, bool) {
	if addr.SegmentIndex < 0 || addr.SegmentIndex >= len(mem.segments) {
		return MaybeRelocatable{}, false
	}
	seg := mem.segments[addr.SegmentIndex]
	if addr.Offset >= uint64(len(seg)) || seg[addr.Offset] == nil {
		return MaybeRelocatable{}, false
	}
	return seg[addr.Offset].value, true
}

func (mem *Memory) GetFelt(addr Relocatable) (common.Felt, error) {
	v, ok := mem.Get(addr)
	if !ok {
		return common.Felt{}, fmt.Errorf("%w: %s", ErrUnknownMemoryCell, addr)
	}
	f, ok := v.Felt()
	if !ok {
		return common.Felt{}, fmt.Errorf("%w at %s, found %s", ErrExpectedFelt, addr, v)
	}
	return f, nil
}

func (mem *Memory) GetRelocatable(addr Relocatable) (Relocatable, error) {
	v, ok := mem.Get(addr)
	if !ok {
		return Relocatable{}, fmt.Errorf("%w: %s", ErrUnknownMemoryCell, addr)
	}
	r, ok := v.Relocatable()
	if !ok {
		return Relocatable{}, fmt.Errorf("%w at %s, found %s", ErrExpectedRelocatable, addr, v)
	}
	return r, nil
}

// GetRange returns n cells starting at addr; unset cells come back with ok=false.
func (mem *Memory) GetRange(addr Relocatable, n uint64) ([]MaybeRelocatable, []bool) {
	values := make([]MaybeRelocatable, n)
	present := make([]bool, n)
	for i := uint64(0); i < n; i++ {
		values[i], present[i] = mem.Get(addr.AddUint(i))
	}
	return values, present
}

// LoadData writes data contiguously from ptr and returns the address after the last cell.
func (mem *Memory) LoadData(ptr Relocatable, data []MaybeRelocatable) (Relocatable, error) {
	for i, v := range data {
		if err := mem.Insert(ptr.AddUint(uint64(i)), v); err != nil {
			return Relocatable{}, err
		}
	}
	return ptr.AddUint(uint64(len(data))), nil
}

// MarkAsAccessed flags a written cell as read by the run.
func (mem *Memory) MarkAsAccessed(addr Relocatable) {
	if addr.SegmentIndex < 0 || addr.SegmentIndex >= len(mem.segments) {
		return
	}
	seg := mem.segments[addr.SegmentIndex]
	if addr.Offset < uint64(len(seg)) && seg[addr.Offset] != nil {
		seg[addr.Offset].accessed = true
	}
}

// MarkRangeAccessed marks n cells from addr.
func (mem *Memory) MarkRangeAccessed(addr Relocatable, n uint64) {
	for i := uint64(0); i < n; i++ {
		mem.MarkAsAccessed(addr.AddUint(i))
	}
}

func (mem *Memory) IsAccessed(addr Relocatable) bool {
	if addr.SegmentIndex < 0 || addr.SegmentIndex >= len(mem.segments) {
		return false
	}
	seg := mem.segments[addr.SegmentIndex]
	return addr.Offset < uint64(len(seg)) && seg[addr.Offset] != nil && seg[addr.Offset].accessed
}
