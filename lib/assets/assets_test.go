package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-tech/walletd/domain"
	"github.com/custodia-tech/walletd/lib/config"
)

const usdcContract = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"

func testConf() config.ServiceConfig {
	return config.ServiceConfig{
		CurrentNetwork: "sepolia",
		NativeAsset:    "ETH",
		Networks: []config.NetworkConfig{
			{Name: "sepolia", Node: "https://sepolia.example.org"},
			{Name: "mainnet", Node: "https://mainnet.example.org"},
		},
		Assets: []config.AssetConfig{
			{Symbol: "ETH", Native: true},
			{Symbol: "USDC", Contracts: map[string]string{"sepolia": usdcContract}},
			{Symbol: "DAI", Contracts: map[string]string{"mainnet": "0x6B175474E89094C44Da98b954EedeAC495271d0F"}},
		},
	}
}

func TestNew(t *testing.T) {
	r, err := New(testConf())
	require.NoError(t, err)

	assert.Equal(t, "sepolia", r.CurrentNetwork())
	assert.Equal(t, "ETH", r.NativeSymbol())
	assert.ElementsMatch(t, []string{"sepolia", "mainnet"}, r.Networks())
	assert.True(t, r.HasNetwork("mainnet"))
	assert.False(t, r.HasNetwork("ropsten"))
	assert.ElementsMatch(t, []string{"ETH", "USDC", "DAI"}, r.Symbols())
}

func TestNewRejectsUnknownCurrentNetwork(t *testing.T) {
	conf := testConf()
	conf.CurrentNetwork = "ropsten"

	_, err := New(conf)
	require.Error(t, err)
}

func TestNewRejectsMalformedContract(t *testing.T) {
	conf := testConf()
	conf.Assets[1].Contracts["sepolia"] = "not-an-address"

	_, err := New(conf)
	require.Error(t, err)
}

func TestContractAddress(t *testing.T) {
	r, err := New(testConf())
	require.NoError(t, err)

	addr, err := r.ContractAddress("USDC")
	require.NoError(t, err)
	assert.Equal(t, usdcContract, addr)

	// native assets carry no contract
	_, err = r.ContractAddress("ETH")
	assert.True(t, domain.IsValidation(err))

	// DAI is only deployed on mainnet, not on the active network
	_, err = r.ContractAddress("DAI")
	assert.True(t, domain.IsValidation(err))

	_, err = r.ContractAddress("WBTC")
	assert.True(t, domain.IsValidation(err))
}

func TestSymbolByContract(t *testing.T) {
	r, err := New(testConf())
	require.NoError(t, err)

	// lookups are case-insensitive
	s, ok := r.SymbolByContract("0x1C7D4B196CB0C7B01D743FBC6116A902379C7238")
	require.True(t, ok)
	assert.Equal(t, "USDC", s)

	// contracts on other networks are not resolved for the active one
	_, ok = r.SymbolByContract("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	assert.False(t, ok)
}
