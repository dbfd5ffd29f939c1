package statedb

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/storage"
	"github.com/colorfulnotion/blockexec/types"
	mapset "github.com/deckarep/golang-set/v2"
)

var ErrNoParentState = errors.New("state has no parent to commit into")

type StorageEntry struct {
	Address common.Felt
	Key     common.Felt
}

// CachedState buffers writes over a StateReader and records visited pcs. A
// transactional CachedState commits its writes into its parent State or is aborted.
// CachedState is not safe for concurrent use.
type CachedState[P any] struct {
	reader StateReader
	parent State

	storageInitial   map[StorageEntry]common.Felt
	nonceInitial     map[common.Felt]common.Felt
	classHashInitial map[common.Felt]common.Hash
	classInitial     map[common.Hash]*types.ContractClass

	storageWrites   map[StorageEntry]common.Felt
	nonceWrites     map[common.Felt]common.Felt
	classHashWrites map[common.Felt]common.Hash
	declared        map[common.Hash]*types.ContractClass

	visitedPcs VisitedPcs[P]
}

func NewCachedState[P any](reader StateReader, visitedPcs VisitedPcs[P]) *CachedState[P] {
	return &CachedState[P]{
		reader:           reader,
		storageInitial:   make(map[StorageEntry]common.Felt),
		nonceInitial:     make(map[common.Felt]common.Felt),
		classHashInitial: make(map[common.Felt]common.Hash),
		classInitial:     make(map[common.Hash]*types.ContractClass),
		storageWrites:    make(map[StorageEntry]common.Felt),
		nonceWrites:      make(map[common.Felt]common.Felt),
		classHashWrites:  make(map[common.Felt]common.Hash),
		declared:         make(map[common.Hash]*types.ContractClass),
		visitedPcs:       visitedPcs,
	}
}

// NewSetCachedState uses the deduplicating tracker.
func NewSetCachedState(reader StateReader) *CachedState[mapset.Set[uint64]] {
	return NewCachedState[mapset.Set[uint64]](reader, NewVisitedPcsSet())
}

// NewCallsCachedState keeps one pc sequence per call.
func NewCallsCachedState(reader StateReader) *CachedState[*PcCalls] {
	return NewCachedState[*PcCalls](reader, NewVisitedPcsCalls())
}

// NewTransactionalState layers a child over parent. Nothing reaches parent until Commit.
func NewTransactionalState[P any](parent State, visitedPcs VisitedPcs[P]) *CachedState[P] {
	child := NewCachedState(parent, visitedPcs)
	child.parent = parent
	return child
}

// Transactional returns a child of s with an empty tracker of the same shape.
func (s *CachedState[P]) Transactional() *CachedState[P] {
	return NewTransactionalState(s, s.visitedPcs.New())
}

func (s *CachedState[P]) VisitedPcs() VisitedPcs[P] {
	return s.visitedPcs
}

func (s *CachedState[P]) GetStorageAt(address, key common.Felt) (common.Felt, error) {
	entry := StorageEntry{Address: address, Key: key}
	if v, ok := s.storageWrites[entry]; ok {
		return v, nil
	}
	if v, ok := s.storageInitial[entry]; ok {
		return v, nil
	}
	v, err := s.reader.GetStorageAt(address, key)
	if err != nil {
		return common.Felt{}, err
	}
	s.storageInitial[entry] = v
	return v, nil
}

func (s *CachedState[P]) GetNonceAt(address common.Felt) (common.Felt, error) {
	if v, ok := s.nonceWrites[address]; ok {
		return v, nil
	}
	if v, ok := s.nonceInitial[address]; ok {
		return v, nil
	}
	v, err := s.reader.GetNonceAt(address)
	if err != nil {
		return common.Felt{}, err
	}
	s.nonceInitial[address] = v
	return v, nil
}

func (s *CachedState[P]) GetClassHashAt(address common.Felt) (common.Hash, error) {
	if v, ok := s.classHashWrites[address]; ok {
		return v, nil
	}
	if v, ok := s.classHashInitial[address]; ok {
		return v, nil
	}
	v, err := s.reader.GetClassHashAt(address)
	if err != nil {
		return common.Hash{}, err
	}
	s.classHashInitial[address] = v
	return v, nil
}

func (s *CachedState[P]) GetContractClass(classHash common.Hash) (*types.ContractClass, error) {
	if c, ok := s.declared[classHash]; ok {
		return c, nil
	}
	if c, ok := s.classInitial[classHash]; ok {
		return c, nil
	}
	c, err := s.reader.GetContractClass(classHash)
	if err != nil {
		return nil, err
	}
	s.classInitial[classHash] = c
	return c, nil
}

func (s *CachedState[P]) SetStorageAt(address, key, value common.Felt) error {
	s.storageWrites[StorageEntry{Address: address, Key: key}] = value
	return nil
}

func (s *CachedState[P]) IncrementNonce(address common.Felt) error {
	nonce, err := s.GetNonceAt(address)
	if err != nil {
		return err
	}
	s.nonceWrites[address] = nonce.Add(common.NewFelt(1))
	return nil
}

func (s *CachedState[P]) SetClassHashAt(address common.Felt, classHash common.Hash) error {
	if address.IsZero() {
		return fmt.Errorf("cannot deploy class %s at address zero", classHash)
	}
	s.classHashWrites[address] = classHash
	return nil
}

func (s *CachedState[P]) SetContractClass(classHash common.Hash, class *types.ContractClass) error {
	s.declared[classHash] = class
	return nil
}

func (s *CachedState[P]) AddVisitedPcs(classHash common.Hash, pcs []uint64) {
	s.visitedPcs.Insert(classHash, pcs)
}

// Commit pushes every buffered write and the recorded visited pcs into the parent,
// then clears s.
func (s *CachedState[P]) Commit() error {
	if s.parent == nil {
		return ErrNoParentState
	}
	for entry, v := range s.storageWrites {
		if err := s.parent.SetStorageAt(entry.Address, entry.Key, v); err != nil {
			return err
		}
	}
	for addr, nonce := range s.nonceWrites {
		// parents only expose increments; replay the difference
		current, err := s.parent.GetNonceAt(addr)
		if err != nil {
			return err
		}
		for current.Cmp(nonce) < 0 {
			if err := s.parent.IncrementNonce(addr); err != nil {
				return err
			}
			current = current.Add(common.NewFelt(1))
		}
	}
	for addr, h := range s.classHashWrites {
		if err := s.parent.SetClassHashAt(addr, h); err != nil {
			return err
		}
	}
	for h, class := range s.declared {
		if err := s.parent.SetContractClass(h, class); err != nil {
			return err
		}
	}
	for h, pcs := range s.visitedPcs.All() {
		s.visitedPcs.AddVisitedPcs(s.parent, h, pcs)
	}
	log.Trace(log.StateMonitoring, "CachedState commit", "storage", len(s.storageWrites), "classHashes", len(s.classHashWrites), "declared", len(s.declared))
	s.Abort()
	return nil
}

// Abort drops every buffered write and visited pc.
func (s *CachedState[P]) Abort() {
	clear(s.storageInitial)
	clear(s.nonceInitial)
	clear(s.classHashInitial)
	clear(s.classInitial)
	clear(s.storageWrites)
	clear(s.nonceWrites)
	clear(s.classHashWrites)
	clear(s.declared)
	s.visitedPcs = s.visitedPcs.New()
}

// StateDiff holds the writes of a CachedState that change the underlying state.
type StateDiff struct {
	StorageUpdates    map[common.Felt]map[common.Felt]common.Felt `json:"storage_updates"`
	Nonces            map[common.Felt]common.Felt                 `json:"nonces"`
	DeployedContracts map[common.Felt]common.Hash                 `json:"deployed_contracts"`
	DeclaredClasses   map[common.Hash]*types.ContractClass        `json:"-"`
	DeclaredHashes    []common.Hash                               `json:"declared_classes"`
}

// ToStateDiff compares the buffered writes against the underlying reader.
func (s *CachedState[P]) ToStateDiff() (*StateDiff, error) {
	diff := &StateDiff{
		StorageUpdates:    make(map[common.Felt]map[common.Felt]common.Felt),
		Nonces:            make(map[common.Felt]common.Felt),
		DeployedContracts: make(map[common.Felt]common.Hash),
		DeclaredClasses:   make(map[common.Hash]*types.ContractClass),
		DeclaredHashes:    []common.Hash{},
	}
	for entry, v := range s.storageWrites {
		before, err := s.reader.GetStorageAt(entry.Address, entry.Key)
		if err != nil {
			return nil, err
		}
		if before.Cmp(v) == 0 {
			continue
		}
		if diff.StorageUpdates[entry.Address] == nil {
			diff.StorageUpdates[entry.Address] = make(map[common.Felt]common.Felt)
		}
		diff.StorageUpdates[entry.Address][entry.Key] = v
	}
	for addr, nonce := range s.nonceWrites {
		before, err := s.reader.GetNonceAt(addr)
		if err != nil {
			return nil, err
		}
		if before.Cmp(nonce) != 0 {
			diff.Nonces[addr] = nonce
		}
	}
	for addr, h := range s.classHashWrites {
		before, err := s.reader.GetClassHashAt(addr)
		if err != nil {
			return nil, err
		}
		if before != h {
			diff.DeployedContracts[addr] = h
		}
	}
	for h, class := range s.declared {
		diff.DeclaredClasses[h] = class
	}
	diff.DeclaredHashes = sortedHashes(s.declared)
	return diff, nil
}

// CommitToStore persists the state diff and the visited pcs of s into store.
func (s *CachedState[P]) CommitToStore(store *storage.StateStore) error {
	diff, err := s.ToStateDiff()
	if err != nil {
		return err
	}
	update := &storage.StateUpdate{
		Storage:     diff.StorageUpdates,
		Nonces:      diff.Nonces,
		ClassHashes: diff.DeployedContracts,
		Classes:     diff.DeclaredClasses,
		VisitedPcs:  make(map[common.Hash][]uint64),
	}
	for h, pcs := range s.visitedPcs.All() {
		update.VisitedPcs[h] = SortedPcs(s.visitedPcs, pcs)
	}
	if err := store.Commit(update); err != nil {
		return err
	}
	log.Info(log.StateMonitoring, "State committed", "contracts", len(diff.StorageUpdates), "deployed", len(diff.DeployedContracts), "declared", len(diff.DeclaredHashes))
	return nil
}
