package chaincfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKnownNetworks(t *testing.T) {
	for _, name := range []string{"mainnet", "testnet", "regtest"} {
		p, err := Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name)
		assert.NotZero(t, p.Magic)
		assert.Equal(t, p.GenesisHeader.BlockHash(), p.GenesisHash)
	}
}

func TestGetUnknownNetwork(t *testing.T) {
	_, err := Get("nonsense")
	assert.Error(t, err)
}

func TestRegtestHasNoRetargeting(t *testing.T) {
	assert.Equal(t, uint32(0), RegtestParams.RetargetIntervalBlocks)
	assert.Nil(t, RegtestParams.DNSSeeds)
}
