package tokens

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryLookup(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	usdc, err := reg.Lookup(1, "usdc")
	require.NoError(t, err)
	assert.Equal(t, int32(6), usdc.Decimals)
	assert.Equal(t, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", usdc.Address)

	byAddress, err := reg.Lookup(1, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.NoError(t, err)
	assert.Equal(t, "USDC", byAddress.Symbol)

	eth, err := reg.Lookup(1, "ETH")
	require.NoError(t, err)
	assert.True(t, eth.Native())
	assert.Equal(t, int32(18), eth.Decimals)

	baseUSDC, err := reg.Lookup(8453, "USDC")
	require.NoError(t, err)
	assert.NotEqual(t, usdc.Address, baseUSDC.Address)
}

func TestLookupUnknown(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	_, err = reg.Lookup(1, "NOPE")
	require.True(t, errors.Is(err, ErrUnknownToken))

	_, err = reg.Lookup(999, "USDC")
	require.True(t, errors.Is(err, ErrUnknownToken))
}

func TestLoadYAMLOverrides(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	err = reg.LoadYAML([]byte(`
tokens:
  - chain_id: 1
    symbol: PEPE
    name: Pepe
    address: "0x6982508145454ce325ddbe47a25d4ec3d2311933"
    decimals: 18
`))
	require.NoError(t, err)

	pepe, err := reg.Lookup(1, "pepe")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x6982508145454ce325ddbe47a25d4ec3d2311933").Hex(), pepe.Address)

	err = reg.LoadYAML([]byte(`
tokens:
  - chain_id: 1
    symbol: BAD
    address: "not-an-address"
    decimals: 18
`))
	require.Error(t, err)
}

func TestList(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	list := reg.List(8453)
	require.Len(t, list, 2)
	assert.Equal(t, "ETH", list[0].Symbol)
	assert.Equal(t, "USDC", list[1].Symbol)
}

func TestToBaseUnits(t *testing.T) {
	got, err := ToBaseUnits("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", got)

	got, err = ToBaseUnits("1500", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000000", got)

	got, err = ToBaseUnits("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	_, err = ToBaseUnits("0.0000001", 6)
	require.Error(t, err)

	_, err = ToBaseUnits("0", 18)
	require.Error(t, err)

	_, err = ToBaseUnits("abc", 18)
	require.Error(t, err)
}

func TestFromBaseUnits(t *testing.T) {
	got, err := FromBaseUnits("1500000000", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500", got)

	got, err = FromBaseUnits("1500000000000000000", 18)
	require.NoError(t, err)
	assert.Equal(t, "1.5", got)
}
