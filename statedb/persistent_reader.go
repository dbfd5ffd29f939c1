package statedb

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/storage"
	"github.com/colorfulnotion/blockexec/types"
)

// PersistentStateReader reads committed state from a StateStore.
type PersistentStateReader struct {
	store *storage.StateStore
}

func NewPersistentStateReader(store *storage.StateStore) *PersistentStateReader {
	return &PersistentStateReader{store: store}
}

func (r *PersistentStateReader) GetStorageAt(address, key common.Felt) (common.Felt, error) {
	return r.store.GetStorageAt(address, key)
}

func (r *PersistentStateReader) GetNonceAt(address common.Felt) (common.Felt, error) {
	return r.store.GetNonceAt(address)
}

func (r *PersistentStateReader) GetClassHashAt(address common.Felt) (common.Hash, error) {
	return r.store.GetClassHashAt(address)
}

func (r *PersistentStateReader) GetContractClass(classHash common.Hash) (*types.ContractClass, error) {
	class, ok, err := r.store.GetContractClass(classHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("class %s: %w", classHash, execerrors.ErrUndeclaredClassHash)
	}
	return class, nil
}
