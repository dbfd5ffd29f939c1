package execution

import (
	"testing"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/colorfulnotion/blockexec/statedb"
	"github.com/colorfulnotion/blockexec/types"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"
)

// Entry points of testContractSource take no builtins, so their arguments sit at
// selector fp-6, syscall_ptr fp-5, calldata_len fp-4, calldata_ptr fp-3.
const testContractSource = `
test_storage_read_write:
    push_fp -5                  # sp
    push_imm 'StorageWrite'
    store 0
    push_fp -3
    deref 0                     # key
    push_fp -5
    push_ap -2
    store 1
    push_fp -3
    deref 1                     # value
    push_fp -5
    push_ap -2
    store 2
    push_fp -5
    syscall
    add_imm 3                   # sp1
    push_imm 'StorageRead'
    store 0
    push_fp -3
    deref 0
    push_ap -4                  # sp1
    push_ap -2                  # key
    store 1
    push_ap -2                  # sp1
    syscall
    deref 2                     # value read back
    push_ap -2                  # sp1
    add_imm 2                   # retdata ptr
    push_ap -2                  # sp1
    add_imm 3                   # final syscall ptr
    push_imm 1
    push_ap -4
    ret

emit:
    push_fp -5
    push_imm 'EmitEvent'
    store 0
    push_fp -5
    push_imm 1
    store 1                     # keys_len
    push_fp -5
    push_fp -3
    store 2                     # keys = calldata[0:1]
    push_fp -5
    push_imm 1
    store 3                     # data_len
    push_fp -3
    add_imm 1
    push_fp -5
    push_ap -2
    store 4                     # data = calldata[1:2]
    push_fp -5
    syscall
    add_imm 5
    push_imm 0
    push_fp -3
    ret

get_block_number:
    push_fp -5
    push_imm 'GetBlockNumber'
    store 0
    push_fp -5
    syscall
    add_imm 1                   # response cell
    push_fp -5
    add_imm 2
    push_imm 1
    push_ap -4
    ret

get_tx_info:
    push_fp -5
    push_imm 'GetTxInfo'
    store 0
    push_fp -5
    syscall
    deref 1                     # tx info ptr
    push_fp -3
    deref 0                     # cells to return
    push_fp -5
    add_imm 2
    push_ap -3
    push_ap -6
    ret

call_storage:
    push_fp -5
    push_imm 'CallContract'
    store 0
    push_fp -3
    deref 0                     # target
    push_fp -5
    push_ap -2
    store 1
    push_fp -3
    deref 1                     # selector
    push_fp -5
    push_ap -2
    store 2
    push_fp -5
    push_imm 2
    store 3
    push_fp -3
    add_imm 2                   # calldata[2:4]
    push_fp -5
    push_ap -2
    store 4
    push_fp -5
    syscall
    push_fp -5
    deref 5                     # retdata_size
    push_fp -5
    deref 6                     # retdata_ptr
    push_fp -5
    add_imm 7
    push_ap -5
    push_ap -4
    ret

deploy_child:
    push_fp -5
    push_imm 'Deploy'
    store 0
    push_fp -3
    deref 0                     # class hash
    push_fp -5
    push_ap -2
    store 1
    push_fp -3
    deref 1                     # salt
    push_fp -5
    push_ap -2
    store 2
    push_fp -5
    push_imm 0
    store 3
    push_fp -5
    push_fp -3
    store 4
    push_fp -5
    push_imm 0
    store 5
    push_fp -5
    syscall
    add_imm 6                   # deployed address cell
    push_fp -5
    add_imm 9
    push_imm 1
    push_ap -4
    ret

bad_syscall_size:
    push_fp -5
    add_imm 1
    push_imm 0
    push_fp -3
    ret

forged_syscall:
    push_fp -5
    push_imm 7
    store 0                     # written without a syscall
    push_ap -2
    add_imm 1
    push_imm 0
    push_fp -3
    ret

write_past_calldata:
    push_fp -3
    push_imm 99
    store 3
    push_fp -5
    push_imm 0
    push_fp -3
    ret

write_then_fail:
    push_fp -5
    push_imm 'StorageWrite'
    store 0
    push_fp -3
    deref 0
    push_fp -5
    push_ap -2
    store 1
    push_fp -3
    deref 1
    push_fp -5
    push_ap -2
    store 2
    push_fp -5
    syscall
    add_imm 2                   # one cell short
    push_imm 0
    push_fp -3
    ret

pointer_retdata:
    push_fp -5
    push_imm 1
    push_fp_addr -5             # a pointer where a value is expected
    ret

far_store:
    push_fp -3
    deref 0                     # offset
    new_segment
    add
    push_imm 7
    store 0
    push_fp -5
    push_imm 0
    push_fp -3
    ret

shrunk_implicit_args:
    push_imm 0                  # no final syscall ptr
    push_fp -3
    ret
`

var testContractEntryPoints = []string{
	"test_storage_read_write", "emit", "get_block_number", "get_tx_info", "call_storage",
	"deploy_child", "bad_syscall_size", "forged_syscall", "write_past_calldata", "write_then_fail", "pointer_retdata",
	"far_store", "shrunk_implicit_args",
}

// constructorContractSource returns the class hash bound to its own address.
const constructorContractSource = `
constructor:
    push_fp -5
    push_imm 'GetContractAddress'
    store 0
    push_fp -5
    syscall
    deref 1                     # own address
    push_fp -5
    add_imm 2                   # sp2
    push_imm 'GetClassHashAt'
    store 0
    push_ap -2
    push_ap -5
    store 1
    push_ap -2
    syscall
    add_imm 2
    push_ap -2
    add_imm 3
    push_imm 1
    push_ap -4
    ret
`

// builtinContractSource takes range_check and bitwise: selector fp-8, syscall_ptr fp-7,
// range_check fp-6, bitwise fp-5, calldata_len fp-4, calldata_ptr fp-3.
const builtinContractSource = `
.builtins range_check bitwise

bitwise_and:
    push_fp -3
    deref 0
    push_fp -5
    push_ap -2
    store 0                     # x
    push_fp -3
    deref 1
    push_fp -5
    push_ap -2
    store 1                     # y
    push_fp -5
    deref 2                     # x & y
    push_fp -5
    add_imm 5
    push_fp -5
    add_imm 2
    push_fp -7
    push_fp -6
    push_ap -5
    push_imm 1
    push_ap -5
    ret

bad_bitwise_stop:
    push_fp -5
    push_imm 3
    store 0
    push_fp -7
    push_fp -6
    push_fp -5                  # stop pointer not advanced
    push_imm 0
    push_fp -3
    ret

shrunk_implicit_args:
    push_fp -7
    push_fp -6                  # no bitwise stop pointer
    push_imm 0
    push_fp -3
    ret

range_check_value:
    push_fp -3
    deref 0
    push_fp -6
    push_ap -2
    store 0
    push_fp -6
    add_imm 1
    push_fp -7
    push_ap -2
    push_fp -5
    push_imm 0
    push_fp -3
    ret
`

const defaultContractSource = `
__default__:
    push_fp -5
    push_imm 0
    push_fp -3
    ret
`

var (
	testContractAddress = common.NewFelt(0x1000)
	proxyAddress        = common.NewFelt(0x2000)
	builtinAddress      = common.NewFelt(0x3000)
	defaultAddress      = common.NewFelt(0x4000)
)

type fixture struct {
	state           *statedb.CachedState[mapset.Set[uint64]]
	epCtx           *EntryPointExecutionContext
	testClass       common.Hash
	constructorHash common.Hash
	builtinClass    common.Hash
	defaultClass    common.Hash
}

func mustClass(t *testing.T, src string, names ...string) *types.ContractClass {
	t.Helper()
	class, err := types.NewContractClass(src, names...)
	require.NoError(t, err)
	return class
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := statedb.NewDictStateReader()
	f := &fixture{
		testClass:       reader.Declare(mustClass(t, testContractSource, testContractEntryPoints...)),
		constructorHash: reader.Declare(mustClass(t, constructorContractSource)),
		builtinClass:    reader.Declare(mustClass(t, builtinContractSource, "bitwise_and", "bad_bitwise_stop", "range_check_value", "shrunk_implicit_args")),
		defaultClass:    reader.Declare(mustClass(t, defaultContractSource)),
	}
	reader.Deploy(testContractAddress, f.testClass)
	reader.Deploy(proxyAddress, f.testClass)
	reader.Deploy(builtinAddress, f.builtinClass)
	reader.Deploy(defaultAddress, f.defaultClass)

	f.state = statedb.NewSetCachedState(reader)
	f.epCtx = NewEntryPointExecutionContext(&types.BlockContext{
		ChainID:           common.FeltFromShortString("SN_TEST"),
		BlockNumber:       77,
		BlockTimestamp:    1700000000,
		InvokeTxMaxNSteps: 10_000,
		MaxRecursionDepth: 10,
	}, &types.TransactionContext{
		Version:       common.NewFelt(1),
		SenderAddress: common.NewFelt(0xabc),
		MaxFee:        common.NewFelt(500),
		Signature:     common.FeltsFromUint64s(11, 12),
	})
	return f
}

func externalCall(address common.Felt, name string, calldata ...common.Felt) types.CallEntryPoint {
	return types.CallEntryPoint{
		EntryPointType:     types.EntryPointTypeExternal,
		EntryPointSelector: common.SelectorFromName(name),
		Calldata:           calldata,
		StorageAddress:     address,
		CallType:           types.CallTypeCall,
	}
}
