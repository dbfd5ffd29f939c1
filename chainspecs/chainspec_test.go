package chainspecs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/blockexec/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEmbeddedSpecs(t *testing.T) {
	dev, err := ReadSpec("dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", dev.ID)
	assert.Equal(t, common.FeltFromShortString("SN_DEV"), dev.ChainID)
	assert.Equal(t, VisitedPcsSet, dev.VisitedPcs)
	require.Len(t, dev.GenesisStorage, 1)

	reader := dev.GenesisReader()
	kv := dev.GenesisStorage[0]
	v, err := reader.GetStorageAt(kv.Address, kv.Key)
	require.NoError(t, err)
	assert.Equal(t, common.NewFelt(1000), v)

	testnet, err := ReadSpec("testnet")
	require.NoError(t, err)
	assert.Equal(t, VisitedPcsCalls, testnet.VisitedPcs)

	bc := testnet.BlockContext(12, 34)
	assert.Equal(t, uint64(12), bc.BlockNumber)
	assert.Equal(t, uint64(34), bc.BlockTimestamp)
	assert.Equal(t, testnet.InvokeTxMaxNSteps, bc.InvokeTxMaxNSteps)
	assert.Equal(t, 100, bc.MaxRecursionDepth)
}

func TestSpecRoundTripFromFile(t *testing.T) {
	dev, err := ReadSpec("dev")
	require.NoError(t, err)
	dev.ID = "local"
	data, err := json.Marshal(dev)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "local-spec.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	local, err := ReadSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "local", local.ID)
	assert.Equal(t, dev.ChainID, local.ChainID)
	assert.Equal(t, dev.GenesisStorage, local.GenesisStorage)
}

func TestInvalidSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"bad","visited_pcs":"tree","invoke_tx_max_n_steps":1}`), 0o644))
	_, err := ReadSpec(path)
	assert.Error(t, err)

	_, err = ReadSpec(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
