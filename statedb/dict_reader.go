package statedb

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/types"
)

// DictStateReader is an in-memory StateReader, used for genesis state and tests.
type DictStateReader struct {
	Storage       map[common.Felt]map[common.Felt]common.Felt
	Nonces        map[common.Felt]common.Felt
	ClassHashes   map[common.Felt]common.Hash
	ClassesByHash map[common.Hash]*types.ContractClass
}

func NewDictStateReader() *DictStateReader {
	return &DictStateReader{
		Storage:       make(map[common.Felt]map[common.Felt]common.Felt),
		Nonces:        make(map[common.Felt]common.Felt),
		ClassHashes:   make(map[common.Felt]common.Hash),
		ClassesByHash: make(map[common.Hash]*types.ContractClass),
	}
}

// Declare registers class under its hash and returns the hash.
func (d *DictStateReader) Declare(class *types.ContractClass) common.Hash {
	h := class.Hash()
	d.ClassesByHash[h] = class
	return h
}

// Deploy binds address to an already declared class.
func (d *DictStateReader) Deploy(address common.Felt, classHash common.Hash) {
	d.ClassHashes[address] = classHash
}

func (d *DictStateReader) GetStorageAt(address, key common.Felt) (common.Felt, error) {
	return d.Storage[address][key], nil
}

func (d *DictStateReader) GetNonceAt(address common.Felt) (common.Felt, error) {
	return d.Nonces[address], nil
}

func (d *DictStateReader) GetClassHashAt(address common.Felt) (common.Hash, error) {
	return d.ClassHashes[address], nil
}

func (d *DictStateReader) GetContractClass(classHash common.Hash) (*types.ContractClass, error) {
	class, ok := d.ClassesByHash[classHash]
	if !ok {
		return nil, fmt.Errorf("class %s: %w", classHash, execerrors.ErrUndeclaredClassHash)
	}
	return class, nil
}
