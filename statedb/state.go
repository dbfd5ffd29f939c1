package statedb

import (
	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/types"
)

// StateReader is read access to contract state. Unset storage and nonces read as zero;
// an address with nothing deployed has the zero class hash.
type StateReader interface {
	GetStorageAt(address, key common.Felt) (common.Felt, error)
	GetNonceAt(address common.Felt) (common.Felt, error)
	GetClassHashAt(address common.Felt) (common.Hash, error)
	// GetContractClass fails with execerrors.ErrUndeclaredClassHash for unknown classes.
	GetContractClass(classHash common.Hash) (*types.ContractClass, error)
}

// State is a StateReader that also accepts writes.
type State interface {
	StateReader
	SetStorageAt(address, key, value common.Felt) error
	IncrementNonce(address common.Felt) error
	SetClassHashAt(address common.Felt, classHash common.Hash) error
	SetContractClass(classHash common.Hash, class *types.ContractClass) error
	// AddVisitedPcs records pcs executed in classHash.
	AddVisitedPcs(classHash common.Hash, pcs []uint64)
}
