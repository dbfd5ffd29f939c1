package types

import (
	"bytes"
	"strings"
	"testing"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classSource = `
.builtins range_check
transfer:
    push_imm 1
    ret
balance:
    push_imm 2
    ret
constructor:
    ret
`

func TestNewContractClass(t *testing.T) {
	class, err := NewContractClass(classSource, "transfer", "balance")
	require.NoError(t, err)
	assert.Equal(t, []string{"range_check"}, class.Program.Builtins)

	external := class.EntryPoints(EntryPointTypeExternal)
	require.Len(t, external, 2)
	assert.Negative(t, external[0].Selector.Cmp(external[1].Selector))

	ctor := class.EntryPoints(EntryPointTypeConstructor)
	require.Len(t, ctor, 1)
	assert.Equal(t, ConstructorEntryPointSelector, ctor[0].Selector)
	assert.Equal(t, uint64(6), ctor[0].Offset)
	assert.Empty(t, class.EntryPoints(EntryPointTypeL1Handler))

	_, err = NewContractClass(classSource, "mint")
	assert.Error(t, err)
}

func TestContractClassHash(t *testing.T) {
	a, err := NewContractClass(classSource, "transfer", "balance")
	require.NoError(t, err)
	b, err := NewContractClass(classSource, "balance", "transfer")
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.LessOrEqual(t, common.FeltFromHash(a.Hash()).BitLen(), 250)

	c, err := NewContractClass(classSource, "transfer")
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash(), c.Hash())

	data, err := a.MarshalIndent()
	require.NoError(t, err)
	decoded, err := ContractClassFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), decoded.Hash())
}

func TestContractClassValidate(t *testing.T) {
	class, err := NewContractClass(classSource, "transfer")
	require.NoError(t, err)
	class.EntryPointsByType[EntryPointTypeExternal][0].Offset = 99
	assert.Error(t, class.Validate())

	_, err = ContractClassFromJSON([]byte(`{"entry_points_by_type":{}}`))
	assert.Error(t, err)
}

func TestCallTree(t *testing.T) {
	leaf := &CallInfo{Call: CallEntryPoint{StorageAddress: common.NewFelt(2)}, Execution: CallExecution{Steps: 5}}
	root := &CallInfo{
		Call:       CallEntryPoint{StorageAddress: common.NewFelt(1)},
		Execution:  CallExecution{Steps: 7, Retdata: common.FeltsFromUint64s(9)},
		InnerCalls: []*CallInfo{leaf, {Execution: CallExecution{Steps: 1}}},
	}
	assert.Equal(t, uint64(13), root.TotalSteps())

	var order []uint64
	for c := range root.Iter() {
		order = append(order, c.Execution.Steps)
	}
	assert.Equal(t, []uint64{7, 5, 1}, order)

	out := root.ToTree().String()
	assert.Contains(t, out, "steps=7")
	assert.Contains(t, out, "steps=5")
	assert.Equal(t, 3, strings.Count(out, "steps="))
}

func TestCallTreeGraph(t *testing.T) {
	lib := &CallInfo{Call: CallEntryPoint{CallType: CallTypeDelegate}}
	root := &CallInfo{
		Call: CallEntryPoint{CallType: CallTypeCall},
		InnerCalls: []*CallInfo{
			{Call: CallEntryPoint{CallType: CallTypeCall}, InnerCalls: []*CallInfo{lib}},
			{Call: CallEntryPoint{CallType: CallTypeCall}},
		},
	}
	nodes, links := root.graphData()
	require.Len(t, nodes, 4)
	require.Len(t, links, 3)
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	assert.Equal(t, []string{"0", "0.0", "0.0.0", "0.1"}, names)
	assert.Equal(t, "blue", nodes[2].ItemStyle.Color)
	assert.Equal(t, "0.0", links[1].Source)

	var buf bytes.Buffer
	require.NoError(t, root.RenderGraph(&buf))
	assert.Contains(t, buf.String(), "echarts")
}

func TestTxInfoFelts(t *testing.T) {
	tx := &TransactionContext{Version: common.NewFelt(1), Signature: common.FeltsFromUint64s(3, 4), Nonce: common.NewFelt(8)}
	cells := tx.TxInfoFelts(common.FeltFromShortString("SN_DEV"))
	require.Len(t, cells, 8)
	assert.Equal(t, common.NewFelt(2), cells[3])
	assert.Equal(t, common.NewFelt(8), cells[7])
}
