package chainspecs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/statedb"
	"github.com/colorfulnotion/blockexec/types"
	"golang.org/x/exp/slices"

	"embed"
)

//go:embed *.json
var configFS embed.FS

var networkFile = map[string]string{
	"dev":     "dev-spec.json",
	"testnet": "testnet-spec.json",
}

const (
	VisitedPcsSet   = "set"
	VisitedPcsCalls = "calls"
)

// ReadSpec loads an embedded spec by network id, or a spec file by path.
func ReadSpec(id string) (spec *ChainSpec, err error) {
	var data []byte
	path, ok := networkFile[id]
	if ok {
		data, err = configFS.ReadFile(path)
		if err != nil {
			return spec, err
		}
	} else {
		data, err = os.ReadFile(id)
		if err != nil {
			return spec, err
		}
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, err
	}
	return spec, spec.Validate()
}

type StorageKV struct {
	Address common.Felt
	Key     common.Felt
	Value   common.Felt
}

// ChainSpec carries the block-context defaults of a network and its genesis storage.
type ChainSpec struct {
	ID                string
	ChainID           common.Felt
	SequencerAddress  common.Felt
	FeeTokenAddress   common.Felt
	InvokeTxMaxNSteps uint64
	MaxRecursionDepth int
	VisitedPcs        string
	GenesisStorage    []StorageKV
}

type tmpChainSpec struct {
	ID                string            `json:"id"`
	ChainID           string            `json:"chain_id"`
	SequencerAddress  common.Felt       `json:"sequencer_address"`
	FeeTokenAddress   common.Felt       `json:"fee_token_address"`
	InvokeTxMaxNSteps uint64            `json:"invoke_tx_max_n_steps"`
	MaxRecursionDepth int               `json:"max_recursion_depth"`
	VisitedPcs        string            `json:"visited_pcs"`
	GenesisStorage    map[string]string `json:"genesis_storage"`
}

// MarshalJSON writes the chain id as a short string and genesis storage as
// "address/key" -> value.
func (cs ChainSpec) MarshalJSON() ([]byte, error) {
	tmp := tmpChainSpec{
		ID:                cs.ID,
		ChainID:           shortString(cs.ChainID),
		SequencerAddress:  cs.SequencerAddress,
		FeeTokenAddress:   cs.FeeTokenAddress,
		InvokeTxMaxNSteps: cs.InvokeTxMaxNSteps,
		MaxRecursionDepth: cs.MaxRecursionDepth,
		VisitedPcs:        cs.VisitedPcs,
		GenesisStorage:    make(map[string]string),
	}
	for _, kv := range cs.GenesisStorage {
		tmp.GenesisStorage[kv.Address.Hex()+"/"+kv.Key.Hex()] = kv.Value.Hex()
	}
	return json.Marshal(tmp)
}

func (cs *ChainSpec) UnmarshalJSON(data []byte) error {
	tmp := tmpChainSpec{}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	cs.ID = tmp.ID
	cs.ChainID = common.FeltFromShortString(tmp.ChainID)
	cs.SequencerAddress = tmp.SequencerAddress
	cs.FeeTokenAddress = tmp.FeeTokenAddress
	cs.InvokeTxMaxNSteps = tmp.InvokeTxMaxNSteps
	cs.MaxRecursionDepth = tmp.MaxRecursionDepth
	cs.VisitedPcs = tmp.VisitedPcs
	cs.GenesisStorage = make([]StorageKV, 0, len(tmp.GenesisStorage))
	for k, v := range tmp.GenesisStorage {
		addr, key, ok := strings.Cut(k, "/")
		if !ok {
			return fmt.Errorf("genesis storage key %q is not address/key", k)
		}
		kv := StorageKV{}
		var err error
		if kv.Address, err = common.FeltFromString(addr); err != nil {
			return err
		}
		if kv.Key, err = common.FeltFromString(key); err != nil {
			return err
		}
		if kv.Value, err = common.FeltFromString(v); err != nil {
			return err
		}
		cs.GenesisStorage = append(cs.GenesisStorage, kv)
	}
	slices.SortFunc(cs.GenesisStorage, func(a, b StorageKV) int {
		if c := a.Address.Cmp(b.Address); c != 0 {
			return c
		}
		return a.Key.Cmp(b.Key)
	})
	return nil
}

func (cs *ChainSpec) Validate() error {
	if cs.VisitedPcs != VisitedPcsSet && cs.VisitedPcs != VisitedPcsCalls {
		return fmt.Errorf("chainspec %s: visited_pcs must be %q or %q, got %q", cs.ID, VisitedPcsSet, VisitedPcsCalls, cs.VisitedPcs)
	}
	if cs.InvokeTxMaxNSteps == 0 {
		return fmt.Errorf("chainspec %s: invoke_tx_max_n_steps must be positive", cs.ID)
	}
	if cs.MaxRecursionDepth < 0 {
		return fmt.Errorf("chainspec %s: max_recursion_depth must not be negative", cs.ID)
	}
	return nil
}

// BlockContext returns the block context for one block of this network.
func (cs *ChainSpec) BlockContext(blockNumber, blockTimestamp uint64) *types.BlockContext {
	return &types.BlockContext{
		ChainID:           cs.ChainID,
		BlockNumber:       blockNumber,
		BlockTimestamp:    blockTimestamp,
		SequencerAddress:  cs.SequencerAddress,
		FeeTokenAddress:   cs.FeeTokenAddress,
		InvokeTxMaxNSteps: cs.InvokeTxMaxNSteps,
		MaxRecursionDepth: cs.MaxRecursionDepth,
	}
}

// GenesisReader returns an in-memory reader holding the genesis storage.
func (cs *ChainSpec) GenesisReader() *statedb.DictStateReader {
	reader := statedb.NewDictStateReader()
	for _, kv := range cs.GenesisStorage {
		if reader.Storage[kv.Address] == nil {
			reader.Storage[kv.Address] = make(map[common.Felt]common.Felt)
		}
		reader.Storage[kv.Address][kv.Key] = kv.Value
	}
	return reader
}

func shortString(f common.Felt) string {
	b := f.Bytes32()
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return string(b[i:])
}
