package execution

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/vm"
)

type ReadOnlySegment struct {
	Start vm.Relocatable
	Size  uint64
}

// ReadOnlySegments tracks the immutable input buffers allocated during one call.
type ReadOnlySegments struct {
	segments []ReadOnlySegment
}

// Allocate writes data into a fresh segment and records it.
func (r *ReadOnlySegments) Allocate(m *vm.Machine, data []vm.MaybeRelocatable) (vm.Relocatable, error) {
	start := m.AddSegment()
	r.segments = append(r.segments, ReadOnlySegment{Start: start, Size: uint64(len(data))})
	if _, err := m.Memory.LoadData(start, data); err != nil {
		return vm.Relocatable{}, err
	}
	return start, nil
}

func (r *ReadOnlySegments) Segments() []ReadOnlySegment {
	return r.segments
}

// Validate checks that no recorded segment was written past its declared size.
func (r *ReadOnlySegments) Validate(m *vm.Machine) error {
	for _, seg := range r.segments {
		used, err := m.Memory.SegmentUsedSize(seg.Start.SegmentIndex)
		if err != nil {
			return err
		}
		if used != seg.Size {
			return fmt.Errorf("segment %d holds %d cells, %d were allocated", seg.Start.SegmentIndex, used, seg.Size)
		}
	}
	return nil
}

func (r *ReadOnlySegments) MarkAsAccessed(m *vm.Machine) {
	for _, seg := range r.segments {
		m.Memory.MarkRangeAccessed(seg.Start, seg.Size)
	}
}
