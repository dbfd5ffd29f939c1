package common

import (
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeltArithmeticWraps(t *testing.T) {
	minusOne := FeltFromInt64(-1)
	var want uint256.Int
	want.Sub(FieldPrime, uint256.NewInt(1))
	assert.Equal(t, Felt(want), minusOne)

	assert.True(t, minusOne.Add(NewFelt(1)).IsZero())
	assert.Equal(t, minusOne, NewFelt(3).Sub(NewFelt(4)))
	assert.Equal(t, NewFelt(1), minusOne.Mul(minusOne))

	v, ok := NewFelt(5).Sub(NewFelt(12)).Int64()
	require.True(t, ok)
	assert.Equal(t, int64(-7), v)
}

func TestFeltFromString(t *testing.T) {
	f, err := FeltFromString("0x1f")
	require.NoError(t, err)
	assert.Equal(t, NewFelt(31), f)

	f, err = FeltFromString(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, NewFelt(42), f)

	for _, bad := range []string{"", "0x", "-1", "xyz", FieldPrime.Hex()} {
		_, err := FeltFromString(bad)
		assert.Error(t, err, bad)
	}
}

func TestSelectorAndShortString(t *testing.T) {
	sel := SelectorFromName("transfer")
	assert.LessOrEqual(t, sel.BitLen(), 250)
	assert.Equal(t, sel, SelectorFromName("transfer"))
	assert.NotEqual(t, sel, SelectorFromName("Transfer"))

	assert.Equal(t, NewFelt(0x4142), FeltFromShortString("AB"))
}

func TestFeltJSON(t *testing.T) {
	m := map[Felt]Felt{NewFelt(1): NewFelt(255)}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"0x1":"0xff"}`, string(data))

	var back map[Felt]Felt
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m, back)

	var n Felt
	require.NoError(t, json.Unmarshal([]byte(`17`), &n))
	assert.Equal(t, NewFelt(17), n)
}

func TestClassHashFitsField(t *testing.T) {
	h := ClassHashFromBytes([]byte("class"))
	assert.LessOrEqual(t, h[0], byte(0x03))
	assert.True(t, FeltFromHash(h).Uint256().Lt(FieldPrime))
}
