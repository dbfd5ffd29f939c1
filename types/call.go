package types

import (
	"iter"

	"github.com/colorfulnotion/blockexec/common"
)

type EntryPointType string

const (
	EntryPointTypeExternal    EntryPointType = "EXTERNAL"
	EntryPointTypeL1Handler   EntryPointType = "L1_HANDLER"
	EntryPointTypeConstructor EntryPointType = "CONSTRUCTOR"
)

type CallType string

const (
	CallTypeCall     CallType = "Call"
	CallTypeDelegate CallType = "Delegate"
)

var (
	// ConstructorEntryPointSelector is the selector every constructor entry point must use.
	ConstructorEntryPointSelector = common.SelectorFromName("constructor")
	// DefaultEntryPointSelector marks the fallback entry point of a class.
	DefaultEntryPointSelector = common.Felt{}
)

// CallEntryPoint describes one invocation. ClassHash is set for library calls and
// deployments; otherwise the class is resolved from StorageAddress.
type CallEntryPoint struct {
	ClassHash          *common.Hash   `json:"class_hash,omitempty"`
	CodeAddress        *common.Felt   `json:"code_address,omitempty"`
	EntryPointType     EntryPointType `json:"entry_point_type"`
	EntryPointSelector common.Felt    `json:"entry_point_selector"`
	Calldata           []common.Felt  `json:"calldata"`
	StorageAddress     common.Felt    `json:"storage_address"`
	CallerAddress      common.Felt    `json:"caller_address"`
	CallType           CallType       `json:"call_type"`
}

type OrderedEvent struct {
	Order uint64        `json:"order"`
	Keys  []common.Felt `json:"keys"`
	Data  []common.Felt `json:"data"`
}

type OrderedL2ToL1Message struct {
	Order     uint64        `json:"order"`
	ToAddress common.Felt   `json:"to_address"`
	Payload   []common.Felt `json:"payload"`
}

type CallExecution struct {
	Retdata        []common.Felt          `json:"retdata"`
	Events         []OrderedEvent         `json:"events"`
	L2ToL1Messages []OrderedL2ToL1Message `json:"l2_to_l1_messages"`
	Steps          uint64                 `json:"steps"`
}

// CallInfo is the result record of one call and, through InnerCalls, of its subtree.
type CallInfo struct {
	Call                CallEntryPoint `json:"call"`
	ClassHash           common.Hash    `json:"class_hash"`
	Execution           CallExecution  `json:"execution"`
	InnerCalls          []*CallInfo    `json:"inner_calls"`
	StorageReadValues   []common.Felt  `json:"storage_read_values"`
	AccessedStorageKeys []common.Felt  `json:"accessed_storage_keys"`
}

// Iter walks the call tree in pre-order, parents before children.
func (c *CallInfo) Iter() iter.Seq[*CallInfo] {
	return func(yield func(*CallInfo) bool) {
		c.walk(yield)
	}
}

func (c *CallInfo) walk(yield func(*CallInfo) bool) bool {
	if !yield(c) {
		return false
	}
	for _, inner := range c.InnerCalls {
		if !inner.walk(yield) {
			return false
		}
	}
	return true
}

// TotalSteps sums machine steps over the call tree.
func (c *CallInfo) TotalSteps() uint64 {
	total := uint64(0)
	for call := range c.Iter() {
		total += call.Execution.Steps
	}
	return total
}
