package execution

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/execerrors"
	"github.com/colorfulnotion/blockexec/log"
	"github.com/colorfulnotion/blockexec/statedb"
	"github.com/colorfulnotion/blockexec/types"
	"github.com/colorfulnotion/blockexec/vm"
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"
)

// SyscallHandler serves the syscalls of one entry-point run and accumulates the side
// effects that end up in its CallInfo.
type SyscallHandler struct {
	ctx       context.Context
	state     statedb.State
	epCtx     *EntryPointExecutionContext
	call      types.CallEntryPoint
	classHash common.Hash

	expectedSyscallPtr vm.Relocatable
	ReadOnlySegments   ReadOnlySegments

	InnerCalls     []*types.CallInfo
	Events         []types.OrderedEvent
	L2ToL1Messages []types.OrderedL2ToL1Message
	ReadValues     []common.Felt
	accessedKeys   mapset.Set[common.Felt]

	txInfoPtr    *vm.Relocatable
	signaturePtr *vm.Relocatable
}

func NewSyscallHandler(ctx context.Context, state statedb.State, epCtx *EntryPointExecutionContext, call types.CallEntryPoint, classHash common.Hash, initialSyscallPtr vm.Relocatable) *SyscallHandler {
	return &SyscallHandler{
		ctx:                ctx,
		state:              state,
		epCtx:              epCtx,
		call:               call,
		classHash:          classHash,
		expectedSyscallPtr: initialSyscallPtr,
		accessedKeys:       mapset.NewThreadUnsafeSet[common.Felt](),
	}
}

// ExpectedSyscallPtr is where the next request must start.
func (h *SyscallHandler) ExpectedSyscallPtr() vm.Relocatable {
	return h.expectedSyscallPtr
}

// VerifySyscallPtr checks that actual is where the handler expects the next request.
func (h *SyscallHandler) VerifySyscallPtr(actual vm.Relocatable) error {
	if actual != h.expectedSyscallPtr {
		return fmt.Errorf("%w: expected %s, got %s", execerrors.ErrBadSyscallPointer, h.expectedSyscallPtr, actual)
	}
	return nil
}

// AccessedStorageKeys returns the storage keys read or written, sorted.
func (h *SyscallHandler) AccessedStorageKeys() []common.Felt {
	keys := h.accessedKeys.ToSlice()
	slices.SortFunc(keys, func(a, b common.Felt) int { return a.Cmp(b) })
	return keys
}

// InvokeSyscall serves the request at syscallPtr, writes the response after it and
// advances the expected pointer past both.
func (h *SyscallHandler) InvokeSyscall(m *vm.Machine, syscallPtr vm.Relocatable) error {
	if err := h.VerifySyscallPtr(syscallPtr); err != nil {
		return err
	}
	selector, err := m.Memory.GetFelt(syscallPtr)
	if err != nil {
		return fmt.Errorf("%w: selector: %w", execerrors.ErrInvalidSyscallInput, err)
	}
	m.Memory.MarkAsAccessed(syscallPtr)
	id, ok := syscallIDs[selector]
	if !ok {
		return fmt.Errorf("%w: %s", execerrors.ErrUnknownSyscall, selector)
	}
	layout := syscallLayouts[id]
	request, err := readRequest(m, syscallPtr, layout.requestSize)
	if err != nil {
		return fmt.Errorf("%s: %w", SyscallToName(id), err)
	}

	response, err := h.syscallFunction(id, m, request)
	if err != nil {
		log.DebugContext(h.ctx, log.SyscallMonitoring, "syscall failed", "syscall", SyscallToName(id), "ptr", syscallPtr, "err", err)
		return fmt.Errorf("%s: %w", SyscallToName(id), err)
	}
	if uint64(len(response)) != layout.responseSize {
		return fmt.Errorf("%s: response has %d cells, layout has %d", SyscallToName(id), len(response), layout.responseSize)
	}
	if _, err := m.Memory.LoadData(syscallPtr.AddUint(layout.requestSize), response); err != nil {
		return fmt.Errorf("%s: writing response: %w", SyscallToName(id), err)
	}
	h.expectedSyscallPtr = syscallPtr.AddUint(layout.requestSize + layout.responseSize)
	log.TraceContext(h.ctx, log.SyscallMonitoring, SyscallToName(id), "ptr", syscallPtr, "next", h.expectedSyscallPtr, "depth", h.epCtx.depth)
	return nil
}

func (h *SyscallHandler) syscallFunction(id int, m *vm.Machine, req syscallRequest) ([]vm.MaybeRelocatable, error) {
	switch id {
	case STORAGE_READ:
		return h.storageRead(req)
	case STORAGE_WRITE:
		return h.storageWrite(req)
	case EMIT_EVENT:
		return h.emitEvent(m, req)
	case SEND_MESSAGE_TO_L1:
		return h.sendMessageToL1(m, req)
	case CALL_CONTRACT:
		return h.callContract(m, req)
	case LIBRARY_CALL:
		return h.libraryCall(m, req)
	case DEPLOY:
		return h.deploy(m, req)
	case GET_CALLER_ADDRESS:
		return []vm.MaybeRelocatable{vm.FeltValue(h.call.CallerAddress)}, nil
	case GET_CONTRACT_ADDRESS:
		return []vm.MaybeRelocatable{vm.FeltValue(h.call.StorageAddress)}, nil
	case GET_BLOCK_NUMBER:
		return []vm.MaybeRelocatable{vm.Uint64Value(h.epCtx.Block.BlockNumber)}, nil
	case GET_BLOCK_TIMESTAMP:
		return []vm.MaybeRelocatable{vm.Uint64Value(h.epCtx.Block.BlockTimestamp)}, nil
	case GET_SEQUENCER_ADDRESS:
		return []vm.MaybeRelocatable{vm.FeltValue(h.epCtx.Block.SequencerAddress)}, nil
	case GET_TX_INFO:
		return h.getTxInfo(m)
	case GET_TX_SIGNATURE:
		return h.getTxSignature(m)
	case GET_CLASS_HASH_AT:
		return h.getClassHashAt(req)
	default:
		return nil, fmt.Errorf("%w: id %d", execerrors.ErrUnknownSyscall, id)
	}
}

// syscallRequest holds the request cells, selector included.
type syscallRequest []vm.MaybeRelocatable

func readRequest(m *vm.Machine, ptr vm.Relocatable, n uint64) (syscallRequest, error) {
	values, present := m.Memory.GetRange(ptr, n)
	for i := range values {
		if !present[i] {
			return nil, fmt.Errorf("%w: request cell %s is unset", execerrors.ErrInvalidSyscallInput, ptr.AddUint(uint64(i)))
		}
		m.Memory.MarkAsAccessed(ptr.AddUint(uint64(i)))
	}
	return values, nil
}

func (r syscallRequest) felt(i int) (common.Felt, error) {
	f, ok := r[i].Felt()
	if !ok {
		return common.Felt{}, fmt.Errorf("%w: cell %d holds a pointer", execerrors.ErrInvalidSyscallInput, i)
	}
	return f, nil
}

func (r syscallRequest) size(i int) (uint64, error) {
	f, err := r.felt(i)
	if err != nil {
		return 0, err
	}
	n, ok := f.Uint64()
	if !ok {
		return 0, fmt.Errorf("%w: cell %d size %s", execerrors.ErrInvalidSyscallInput, i, f)
	}
	return n, nil
}

func (r syscallRequest) pointer(i int) (vm.Relocatable, error) {
	p, ok := r[i].Relocatable()
	if !ok {
		return vm.Relocatable{}, fmt.Errorf("%w: cell %d holds a value, expected a pointer", execerrors.ErrInvalidSyscallInput, i)
	}
	return p, nil
}

// array reads the felt array described by a size cell at i and a pointer cell at i+1.
func (r syscallRequest) array(m *vm.Machine, i int) ([]common.Felt, error) {
	n, err := r.size(i)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []common.Felt{}, nil
	}
	ptr, err := r.pointer(i + 1)
	if err != nil {
		return nil, err
	}
	values, err := FeltRange(m, ptr, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", execerrors.ErrInvalidSyscallInput, err)
	}
	m.Memory.MarkRangeAccessed(ptr, n)
	return values, nil
}
