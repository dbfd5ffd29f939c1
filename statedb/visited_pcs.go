package statedb

import (
	"iter"
	"maps"
	"slices"

	"github.com/colorfulnotion/blockexec/common"
	mapset "github.com/deckarep/golang-set/v2"
)

// VisitedPcs records, per class, the program counters executed by entry-point calls.
// P is the per-class container. Implementations are not safe for concurrent use.
type VisitedPcs[P any] interface {
	// New returns an empty tracker of the same shape.
	New() VisitedPcs[P]
	// Insert merges the pcs of one run into the class's container.
	Insert(classHash common.Hash, pcs []uint64)
	// Extend merges another tracker's container for the class.
	Extend(classHash common.Hash, pcs P)
	// All yields every class and its container, ordered by class hash.
	All() iter.Seq2[common.Hash, P]
	// Entry returns the class's container, creating an empty one if absent.
	Entry(classHash common.Hash) P
	// AddVisitedPcs hands a container to state for permanent bookkeeping.
	AddVisitedPcs(state State, classHash common.Hash, pcs P)
	// ToSet flattens a container into the set of distinct pcs.
	ToSet(pcs P) mapset.Set[uint64]
}

func sortedHashes[V any](m map[common.Hash]V) []common.Hash {
	return slices.SortedFunc(maps.Keys(m), func(a, b common.Hash) int { return a.Cmp(b) })
}

// VisitedPcsSet deduplicates pcs within and across calls to the same class. It is the
// tracker used by default.
type VisitedPcsSet struct {
	pcs map[common.Hash]mapset.Set[uint64]
}

func NewVisitedPcsSet() *VisitedPcsSet {
	return &VisitedPcsSet{pcs: make(map[common.Hash]mapset.Set[uint64])}
}

func (v *VisitedPcsSet) New() VisitedPcs[mapset.Set[uint64]] {
	return NewVisitedPcsSet()
}

func (v *VisitedPcsSet) Insert(classHash common.Hash, pcs []uint64) {
	v.Entry(classHash).Append(pcs...)
}

func (v *VisitedPcsSet) Extend(classHash common.Hash, pcs mapset.Set[uint64]) {
	entry := v.Entry(classHash)
	pcs.Each(func(pc uint64) bool {
		entry.Add(pc)
		return false
	})
}

func (v *VisitedPcsSet) All() iter.Seq2[common.Hash, mapset.Set[uint64]] {
	return func(yield func(common.Hash, mapset.Set[uint64]) bool) {
		for _, h := range sortedHashes(v.pcs) {
			if !yield(h, v.pcs[h]) {
				return
			}
		}
	}
}

func (v *VisitedPcsSet) Entry(classHash common.Hash) mapset.Set[uint64] {
	entry, ok := v.pcs[classHash]
	if !ok {
		entry = mapset.NewThreadUnsafeSet[uint64]()
		v.pcs[classHash] = entry
	}
	return entry
}

func (v *VisitedPcsSet) AddVisitedPcs(state State, classHash common.Hash, pcs mapset.Set[uint64]) {
	out := pcs.ToSlice()
	slices.Sort(out)
	state.AddVisitedPcs(classHash, out)
}

func (v *VisitedPcsSet) ToSet(pcs mapset.Set[uint64]) mapset.Set[uint64] {
	return pcs
}

// PcCalls keeps the pcs of every call separately, in call order.
type PcCalls struct {
	Calls [][]uint64
}

// VisitedPcsCalls keeps one raw pc sequence per call, leaving deduplication to the
// consumer.
type VisitedPcsCalls struct {
	pcs map[common.Hash]*PcCalls
}

func NewVisitedPcsCalls() *VisitedPcsCalls {
	return &VisitedPcsCalls{pcs: make(map[common.Hash]*PcCalls)}
}

func (v *VisitedPcsCalls) New() VisitedPcs[*PcCalls] {
	return NewVisitedPcsCalls()
}

func (v *VisitedPcsCalls) Insert(classHash common.Hash, pcs []uint64) {
	entry := v.Entry(classHash)
	entry.Calls = append(entry.Calls, slices.Clone(pcs))
}

func (v *VisitedPcsCalls) Extend(classHash common.Hash, pcs *PcCalls) {
	entry := v.Entry(classHash)
	for _, call := range pcs.Calls {
		entry.Calls = append(entry.Calls, slices.Clone(call))
	}
}

func (v *VisitedPcsCalls) All() iter.Seq2[common.Hash, *PcCalls] {
	return func(yield func(common.Hash, *PcCalls) bool) {
		for _, h := range sortedHashes(v.pcs) {
			if !yield(h, v.pcs[h]) {
				return
			}
		}
	}
}

func (v *VisitedPcsCalls) Entry(classHash common.Hash) *PcCalls {
	entry, ok := v.pcs[classHash]
	if !ok {
		entry = &PcCalls{}
		v.pcs[classHash] = entry
	}
	return entry
}

// AddVisitedPcs hands over every call's pcs concatenated in call order.
func (v *VisitedPcsCalls) AddVisitedPcs(state State, classHash common.Hash, pcs *PcCalls) {
	var out []uint64
	for _, call := range pcs.Calls {
		out = append(out, call...)
	}
	state.AddVisitedPcs(classHash, out)
}

func (v *VisitedPcsCalls) ToSet(pcs *PcCalls) mapset.Set[uint64] {
	set := mapset.NewThreadUnsafeSet[uint64]()
	for _, call := range pcs.Calls {
		set.Append(call...)
	}
	return set
}

// VisitedPcCounts returns the number of distinct pcs per class, the figure fee
// metering charges for.
func VisitedPcCounts[P any](v VisitedPcs[P]) map[common.Hash]int {
	out := make(map[common.Hash]int)
	for h, pcs := range v.All() {
		out[h] = v.ToSet(pcs).Cardinality()
	}
	return out
}

// SortedPcs returns the distinct pcs of a container in ascending order.
func SortedPcs[P any](v VisitedPcs[P], pcs P) []uint64 {
	out := v.ToSet(pcs).ToSlice()
	slices.Sort(out)
	return out
}
