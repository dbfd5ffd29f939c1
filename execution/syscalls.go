package execution

import (
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/colorfulnotion/blockexec/vm"
	"github.com/holiman/uint256"
)

const (
	STORAGE_READ          = 0
	STORAGE_WRITE         = 1
	EMIT_EVENT            = 2
	SEND_MESSAGE_TO_L1    = 3
	CALL_CONTRACT         = 4
	LIBRARY_CALL          = 5
	DEPLOY                = 6
	GET_CALLER_ADDRESS    = 7
	GET_CONTRACT_ADDRESS  = 8
	GET_BLOCK_NUMBER      = 9
	GET_BLOCK_TIMESTAMP   = 10
	GET_SEQUENCER_ADDRESS = 11
	GET_TX_INFO           = 12
	GET_TX_SIGNATURE      = 13
	GET_CLASS_HASH_AT     = 14
)

// syscallNames are also the short strings programs write as the request selector.
var syscallNames = map[int]string{
	STORAGE_READ:          "StorageRead",
	STORAGE_WRITE:         "StorageWrite",
	EMIT_EVENT:            "EmitEvent",
	SEND_MESSAGE_TO_L1:    "SendMessageToL1",
	CALL_CONTRACT:         "CallContract",
	LIBRARY_CALL:          "LibraryCall",
	DEPLOY:                "Deploy",
	GET_CALLER_ADDRESS:    "GetCallerAddress",
	GET_CONTRACT_ADDRESS:  "GetContractAddress",
	GET_BLOCK_NUMBER:      "GetBlockNumber",
	GET_BLOCK_TIMESTAMP:   "GetBlockTimestamp",
	GET_SEQUENCER_ADDRESS: "GetSequencerAddress",
	GET_TX_INFO:           "GetTxInfo",
	GET_TX_SIGNATURE:      "GetTxSignature",
	GET_CLASS_HASH_AT:     "GetClassHashAt",
}

type syscallLayout struct {
	requestSize  uint64
	responseSize uint64
}

var syscallLayouts = map[int]syscallLayout{
	STORAGE_READ:          {2, 1},
	STORAGE_WRITE:         {3, 0},
	EMIT_EVENT:            {5, 0},
	SEND_MESSAGE_TO_L1:    {4, 0},
	CALL_CONTRACT:         {5, 2},
	LIBRARY_CALL:          {5, 2},
	DEPLOY:                {6, 3},
	GET_CALLER_ADDRESS:    {1, 1},
	GET_CONTRACT_ADDRESS:  {1, 1},
	GET_BLOCK_NUMBER:      {1, 1},
	GET_BLOCK_TIMESTAMP:   {1, 1},
	GET_SEQUENCER_ADDRESS: {1, 1},
	GET_TX_INFO:           {1, 1},
	GET_TX_SIGNATURE:      {1, 2},
	GET_CLASS_HASH_AT:     {2, 1},
}

var syscallIDs = func() map[common.Felt]int {
	ids := make(map[common.Felt]int, len(syscallNames))
	for id, name := range syscallNames {
		ids[common.FeltFromShortString(name)] = id
	}
	return ids
}()

// SyscallToName returns the name of a syscall id.
func SyscallToName(id int) string {
	if name, ok := syscallNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Syscall%d", id)
}

// SyscallSelector is the request selector for a syscall name.
func SyscallSelector(name string) common.Felt {
	return common.FeltFromShortString(name)
}

// storageAddressBound is 2^251.
var storageAddressBound = new(uint256.Int).Lsh(uint256.NewInt(1), 251)

func storageKey(req syscallRequest, i int) (common.Felt, error) {
	key, err := req.felt(i)
	if err != nil {
		return common.Felt{}, err
	}
	if !key.Uint256().Lt(storageAddressBound) {
		return common.Felt{}, fmt.Errorf("%w: %s", execerrors.ErrStorageAddressOutOfRange, key)
	}
	return key, nil
}

func (h *SyscallHandler) storageRead(req syscallRequest) ([]vm.MaybeRelocatable, error) {
	key, err := storageKey(req, 1)
	if err != nil {
		return nil, err
	}
	value, err := h.state.GetStorageAt(h.call.StorageAddress, key)
	if err != nil {
		return nil, err
	}
	h.accessedKeys.Add(key)
	h.ReadValues = append(h.ReadValues, value)
	return []vm.MaybeRelocatable{vm.FeltValue(value)}, nil
}

func (h *SyscallHandler) storageWrite(req syscallRequest) ([]vm.MaybeRelocatable, error) {
	key, err := storageKey(req, 1)
	if err != nil {
		return nil, err
	}
	value, err := req.felt(2)
	if err != nil {
		return nil, err
	}
	h.accessedKeys.Add(key)
	if err := h.state.SetStorageAt(h.call.StorageAddress, key, value); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *SyscallHandler) emitEvent(m *vm.Machine, req syscallRequest) ([]vm.MaybeRelocatable, error) {
	keys, err := req.array(m, 1)
	if err != nil {
		return nil, err
	}
	data, err := req.array(m, 3)
	if err != nil {
		return nil, err
	}
	h.Events = append(h.Events, types.OrderedEvent{Order: h.epCtx.nextEventOrder(), Keys: keys, Data: data})
	return nil, nil
}

func (h *SyscallHandler) sendMessageToL1(m *vm.Machine, req syscallRequest) ([]vm.MaybeRelocatable, error) {
	to, err := req.felt(1)
	if err != nil {
		return nil, err
	}
	payload, err := req.array(m, 2)
	if err != nil {
		return nil, err
	}
	h.L2ToL1Messages = append(h.L2ToL1Messages, types.OrderedL2ToL1Message{Order: h.epCtx.nextMessageOrder(), ToAddress: to, Payload: payload})
	return nil, nil
}

func (h *SyscallHandler) callContract(m *vm.Machine, req syscallRequest) ([]vm.MaybeRelocatable, error) {
	address, err := req.felt(1)
	if err != nil {
		return nil, err
	}
	selector, err := req.felt(2)
	if err != nil {
		return nil, err
	}
	calldata, err := req.array(m, 3)
	if err != nil {
		return nil, err
	}
	call := types.CallEntryPoint{
		CodeAddress:        &address,
		EntryPointType:     types.EntryPointTypeExternal,
		EntryPointSelector: selector,
		Calldata:           calldata,
		StorageAddress:     address,
		CallerAddress:      h.call.StorageAddress,
		CallType:           types.CallTypeCall,
	}
	return h.executeInnerCall(m, call)
}

func (h *SyscallHandler) libraryCall(m *vm.Machine, req syscallRequest) ([]vm.MaybeRelocatable, error) {
	classHashFelt, err := req.felt(1)
	if err != nil {
		return nil, err
	}
	selector, err := req.felt(2)
	if err != nil {
		return nil, err
	}
	if selector == types.ConstructorEntryPointSelector {
		return nil, execerrors.ErrUnauthorizedLibraryCall
	}
	calldata, err := req.array(m, 3)
	if err != nil {
		return nil, err
	}
	classHash := classHashFelt.Hash()
	call := types.CallEntryPoint{
		ClassHash:          &classHash,
		EntryPointType:     types.EntryPointTypeExternal,
		EntryPointSelector: selector,
		Calldata:           calldata,
		StorageAddress:     h.call.StorageAddress,
		CallerAddress:      h.call.CallerAddress,
		CallType:           types.CallTypeDelegate,
	}
	return h.executeInnerCall(m, call)
}

func (h *SyscallHandler) executeInnerCall(m *vm.Machine, call types.CallEntryPoint) ([]vm.MaybeRelocatable, error) {
	info, err := ExecuteCall(h.ctx, call, h.state, h.epCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", execerrors.ErrInnerCallFailed, err)
	}
	h.InnerCalls = append(h.InnerCalls, info)
	retdataPtr, err := h.ReadOnlySegments.Allocate(m, vm.FeltValues(info.Execution.Retdata))
	if err != nil {
		return nil, err
	}
	return []vm.MaybeRelocatable{
		vm.Uint64Value(uint64(len(info.Execution.Retdata))),
		vm.RelocatableValue(retdataPtr),
	}, nil
}

func (h *SyscallHandler) deploy(m *vm.Machine, req syscallRequest) ([]vm.MaybeRelocatable, error) {
	classHashFelt, err := req.felt(1)
	if err != nil {
		return nil, err
	}
	salt, err := req.felt(2)
	if err != nil {
		return nil, err
	}
	calldata, err := req.array(m, 3)
	if err != nil {
		return nil, err
	}
	fromZero, err := req.size(5)
	if err != nil || fromZero > 1 {
		return nil, fmt.Errorf("%w: deploy_from_zero must be 0 or 1", execerrors.ErrInvalidSyscallInput)
	}
	deployer := h.call.StorageAddress
	if fromZero == 1 {
		deployer = common.Felt{}
	}
	classHash := classHashFelt.Hash()
	address := CalculateContractAddress(salt, classHash, calldata, deployer)

	info, err := ExecuteDeployment(h.ctx, h.state, h.epCtx, classHash, address, h.call.StorageAddress, calldata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", execerrors.ErrInnerCallFailed, err)
	}
	h.InnerCalls = append(h.InnerCalls, info)
	retdataPtr, err := h.ReadOnlySegments.Allocate(m, vm.FeltValues(info.Execution.Retdata))
	if err != nil {
		return nil, err
	}
	return []vm.MaybeRelocatable{
		vm.FeltValue(address),
		vm.Uint64Value(uint64(len(info.Execution.Retdata))),
		vm.RelocatableValue(retdataPtr),
	}, nil
}

func (h *SyscallHandler) signature(m *vm.Machine) (vm.Relocatable, error) {
	if h.signaturePtr != nil {
		return *h.signaturePtr, nil
	}
	ptr, err := h.ReadOnlySegments.Allocate(m, vm.FeltValues(h.epCtx.Tx.Signature))
	if err != nil {
		return vm.Relocatable{}, err
	}
	h.signaturePtr = &ptr
	return ptr, nil
}

// getTxInfo writes the tx-info struct once per run and returns a pointer to it.
func (h *SyscallHandler) getTxInfo(m *vm.Machine) ([]vm.MaybeRelocatable, error) {
	if h.txInfoPtr == nil {
		sigPtr, err := h.signature(m)
		if err != nil {
			return nil, err
		}
		cells := vm.FeltValues(h.epCtx.Tx.TxInfoFelts(h.epCtx.Block.ChainID))
		cells[4] = vm.RelocatableValue(sigPtr)
		ptr, err := h.ReadOnlySegments.Allocate(m, cells)
		if err != nil {
			return nil, err
		}
		h.txInfoPtr = &ptr
	}
	return []vm.MaybeRelocatable{vm.RelocatableValue(*h.txInfoPtr)}, nil
}

func (h *SyscallHandler) getTxSignature(m *vm.Machine) ([]vm.MaybeRelocatable, error) {
	ptr, err := h.signature(m)
	if err != nil {
		return nil, err
	}
	return []vm.MaybeRelocatable{vm.Uint64Value(uint64(len(h.epCtx.Tx.Signature))), vm.RelocatableValue(ptr)}, nil
}

func (h *SyscallHandler) getClassHashAt(req syscallRequest) ([]vm.MaybeRelocatable, error) {
	address, err := req.felt(1)
	if err != nil {
		return nil, err
	}
	classHash, err := h.state.GetClassHashAt(address)
	if err != nil {
		return nil, err
	}
	return []vm.MaybeRelocatable{vm.FeltValue(common.FeltFromHash(classHash))}, nil
}
