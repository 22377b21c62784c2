package evm

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-tech/walletd/lib/util"
)

func TestTokenTransferData(t *testing.T) {
	c := &Client{}

	to := "0x357dd3856d856197c1a000bbAb4aBCB97Dfc92c4"
	amount := big.NewInt(1500000)

	data := c.TokenTransferData(to, amount)

	require.Len(t, data, 4+32+32)
	assert.Equal(t, selTransfer, data[:4])
	// recipient right-aligned in the first argument word
	assert.Equal(t, "000000000000000000000000357dd3856d856197c1a000bbab4abcb97dfc92c4",
		hex.EncodeToString(data[4:36]))
	// amount right-aligned in the second argument word
	assert.Equal(t, big.NewInt(1500000), new(big.Int).SetBytes(data[36:68]))
}

func TestDecodeABIString(t *testing.T) {
	// dynamic string return: offset word, length word, padded bytes
	dynamic := make([]byte, 96)
	dynamic[31] = 32  // offset
	dynamic[63] = 4   // length
	copy(dynamic[64:], "USDC")

	assert.Equal(t, "USDC", decodeABIString(dynamic))

	// legacy bytes32 return, right-padded with zeros
	legacy := make([]byte, 32)
	copy(legacy, "MKR")

	assert.Equal(t, "MKR", decodeABIString(legacy))

	// nonsense input decodes to nothing
	assert.Equal(t, "", decodeABIString([]byte{0x01, 0x02}))
	assert.Equal(t, "", decodeABIString(nil))
}

func TestDecodeABIStringBadLength(t *testing.T) {
	// declared length exceeding the payload must not panic
	raw := make([]byte, 96)
	raw[31] = 32
	raw[62] = 0xff
	raw[63] = 0xff

	assert.Equal(t, "", decodeABIString(raw))
}

func TestCreateKeyPairRandom(t *testing.T) {
	c := &Client{}

	seen := map[string]bool{}

	for i := 0; i < 5; i++ {
		kp, err := c.CreateKeyPair()
		require.NoError(t, err)

		assert.True(t, util.IsHexAddress(kp.Address), "address %q", kp.Address)
		assert.NotEmpty(t, kp.PrivateKey)
		assert.False(t, seen[kp.Address], "duplicate address %s", kp.Address)
		seen[kp.Address] = true
	}
}
