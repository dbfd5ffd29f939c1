package storage

import (
	"encoding/json"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/types"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/exp/slices"
)

// Key prefixes of the state layout.
const (
	prefixStorage   = 's' // s | address | key -> value
	prefixNonce     = 'n' // n | address -> nonce
	prefixClassHash = 'c' // c | address -> class hash
	prefixClass     = 'k' // k | class hash -> contract class JSON
	prefixVisited   = 'v' // v | class hash -> sorted visited pcs JSON
)

// StateStore persists contract state on top of a PersistenceStore.
type StateStore struct {
	ps *PersistenceStore
}

func NewStateStore(ps *PersistenceStore) *StateStore {
	return &StateStore{ps: ps}
}

// OpenStateStore opens a store at path; an empty path is in-memory.
func OpenStateStore(path string) (*StateStore, error) {
	ps, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	return NewStateStore(ps), nil
}

func (s *StateStore) Close() error {
	return s.ps.Close()
}

func storageKey(address, key common.Felt) []byte {
	a, k := address.Bytes32(), key.Bytes32()
	out := make([]byte, 0, 65)
	out = append(out, prefixStorage)
	out = append(out, a[:]...)
	return append(out, k[:]...)
}

func addressKey(prefix byte, address common.Felt) []byte {
	a := address.Bytes32()
	return append([]byte{prefix}, a[:]...)
}

func hashKey(prefix byte, h common.Hash) []byte {
	return append([]byte{prefix}, h.Bytes()...)
}

func (s *StateStore) getFelt(key []byte) (common.Felt, error) {
	data, ok, err := s.ps.Get(key)
	if err != nil || !ok {
		return common.Felt{}, err
	}
	return common.FeltFromBytes(data), nil
}

// GetStorageAt returns zero for unset keys.
func (s *StateStore) GetStorageAt(address, key common.Felt) (common.Felt, error) {
	return s.getFelt(storageKey(address, key))
}

func (s *StateStore) GetNonceAt(address common.Felt) (common.Felt, error) {
	return s.getFelt(addressKey(prefixNonce, address))
}

// GetClassHashAt returns the zero hash when nothing is deployed at address.
func (s *StateStore) GetClassHashAt(address common.Felt) (common.Hash, error) {
	data, ok, err := s.ps.Get(addressKey(prefixClassHash, address))
	if err != nil || !ok {
		return common.Hash{}, err
	}
	return common.BytesToHash(data), nil
}

// GetContractClass returns (nil, false, nil) for undeclared classes.
func (s *StateStore) GetContractClass(classHash common.Hash) (*types.ContractClass, bool, error) {
	data, ok, err := s.ps.Get(hashKey(prefixClass, classHash))
	if err != nil || !ok {
		return nil, false, err
	}
	class, err := types.ContractClassFromJSON(data)
	if err != nil {
		return nil, false, fmt.Errorf("class %s: %w", classHash, err)
	}
	return class, true, nil
}

// GetVisitedPcs returns the recorded pcs of a class in ascending order.
func (s *StateStore) GetVisitedPcs(classHash common.Hash) ([]uint64, error) {
	data, ok, err := s.ps.Get(hashKey(prefixVisited, classHash))
	if err != nil || !ok {
		return nil, err
	}
	var pcs []uint64
	if err := json.Unmarshal(data, &pcs); err != nil {
		return nil, fmt.Errorf("visited pcs of %s: %w", classHash, err)
	}
	return pcs, nil
}

// AllVisitedPcs returns every class with recorded pcs.
func (s *StateStore) AllVisitedPcs() (map[common.Hash][]uint64, error) {
	kvs, err := s.ps.GetWithPrefix([]byte{prefixVisited})
	if err != nil {
		return nil, err
	}
	out := make(map[common.Hash][]uint64, len(kvs))
	for _, kv := range kvs {
		var pcs []uint64
		if err := json.Unmarshal(kv[1], &pcs); err != nil {
			return nil, err
		}
		out[common.BytesToHash(kv[0][1:])] = pcs
	}
	return out, nil
}

// StateUpdate is a set of writes committed in one batch.
type StateUpdate struct {
	Storage     map[common.Felt]map[common.Felt]common.Felt
	Nonces      map[common.Felt]common.Felt
	ClassHashes map[common.Felt]common.Hash
	Classes     map[common.Hash]*types.ContractClass
	VisitedPcs  map[common.Hash][]uint64
}

// Commit writes u atomically. Visited pcs are merged with what is already stored.
func (s *StateStore) Commit(u *StateUpdate) error {
	batch := new(leveldb.Batch)
	for addr, kv := range u.Storage {
		for key, value := range kv {
			b := value.Bytes32()
			batch.Put(storageKey(addr, key), b[:])
		}
	}
	for addr, nonce := range u.Nonces {
		b := nonce.Bytes32()
		batch.Put(addressKey(prefixNonce, addr), b[:])
	}
	for addr, h := range u.ClassHashes {
		batch.Put(addressKey(prefixClassHash, addr), h.Bytes())
	}
	for h, class := range u.Classes {
		data, err := json.Marshal(class)
		if err != nil {
			return fmt.Errorf("encode class %s: %w", h, err)
		}
		batch.Put(hashKey(prefixClass, h), data)
	}
	for h, pcs := range u.VisitedPcs {
		existing, err := s.GetVisitedPcs(h)
		if err != nil {
			return err
		}
		merged := mapset.NewThreadUnsafeSet(existing...)
		merged.Append(pcs...)
		sorted := merged.ToSlice()
		slices.Sort(sorted)
		data, err := json.Marshal(sorted)
		if err != nil {
			return err
		}
		batch.Put(hashKey(prefixVisited, h), data)
	}
	log.Debug(log.StorageMonitoring, "StateStore commit", "ops", batch.Len())
	return s.ps.WriteBatch(batch)
}
