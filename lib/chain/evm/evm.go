// Package evm implements the chain.Client interface for EVM-compatible
// networks over the go-ethereum RPC client.
package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/tarancss/hd"

	"github.com/custodia-tech/walletd/lib/chain"
	"github.com/custodia-tech/walletd/lib/config"
)

// ERC-20 method selectors (first 4 bytes of the keccak-256 of the signature).
var (
	selTransfer  = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	selBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selDecimals  = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
	selSymbol    = []byte{0x95, 0xd8, 0x9b, 0x41} // symbol()
)

// NativeDecimals is the scale of the chain's base currency.
const NativeDecimals = 18

// Gas defaults used when estimation is not possible.
const (
	defaultNativeGas = uint64(21000)
	defaultTokenGas  = uint64(100000)
	estimateBuffer   = uint64(10000)
)

// Client implements chain.Client against one EVM node.
type Client struct {
	ec      *ethclient.Client
	chainID *big.Int

	// deterministic key derivation when an HD seed is configured;
	// random secp256k1 keys otherwise
	hdw     *hd.HdWallet
	hdIndex uint32

	mu       sync.RWMutex
	decimals map[string]int32 // contract (lowercased) -> decimals() result
}

// Dial connects to the configured node. When hdSeed is a non-empty hex seed,
// CreateKeyPair derives sequential HD accounts from it instead of generating
// random keys.
func Dial(conf config.NetworkConfig, hdSeed string) (chain.Client, error) {
	ec, err := ethclient.Dial(conf.Node)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s node at %s: %w", conf.Name, conf.Node, err)
	}

	chainID, err := ec.ChainID(context.Background())
	if err != nil {
		ec.Close()

		return nil, fmt.Errorf("cannot get chain id for %s: %w", conf.Name, err)
	}

	c := &Client{ec: ec, chainID: chainID, decimals: make(map[string]int32)}

	if hdSeed != "" {
		seed, err := hex.DecodeString(hdSeed)
		if err != nil {
			ec.Close()

			return nil, fmt.Errorf("malformed HD seed: %w", err)
		}

		if c.hdw, err = hd.Init(seed); err != nil {
			ec.Close()

			return nil, fmt.Errorf("cannot initialise HD wallet: %w", err)
		}
	}

	return c, nil
}

// Close ends the connection.
func (c *Client) Close() {
	c.ec.Close()
}

// CreateKeyPair generates a new account. With an HD wallet configured the
// account is derived at the next external index; otherwise a fresh random
// secp256k1 key is generated.
func (c *Client) CreateKeyPair() (chain.KeyPair, error) {
	if c.hdw != nil {
		id := atomic.AddUint32(&c.hdIndex, 1) - 1

		addr, key, _, err := c.hdw.Address(0, hd.External, id)
		if err != nil {
			return chain.KeyPair{}, fmt.Errorf("cannot derive HD address %d: %w", id, err)
		}

		return chain.KeyPair{
			Address:    common.BytesToAddress(addr).Hex(),
			PrivateKey: hex.EncodeToString(key),
		}, nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return chain.KeyPair{}, fmt.Errorf("cannot generate key: %w", err)
	}

	return chain.KeyPair{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

// NativeBalance returns the native balance of address in decimal units.
func (c *Client) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	bal, err := c.ec.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot get balance of %s: %w", address, err)
	}

	return decimal.NewFromBigInt(bal, -NativeDecimals), nil
}

// TokenBalance returns the ERC-20 balance of address at contract, scaled by
// the token's decimals (18 when the decimals call fails).
func (c *Client) TokenBalance(ctx context.Context, address, contract string) (decimal.Decimal, error) {
	data := append(append([]byte{}, selBalanceOf...), common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	raw, err := c.call(ctx, contract, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf call to %s failed: %w", contract, err)
	}

	dec, err := c.TokenDecimals(ctx, contract)
	if err != nil {
		dec = NativeDecimals
	}

	return decimal.NewFromBigInt(new(big.Int).SetBytes(raw), -dec), nil
}

// TokenTransferData encodes a transfer(to, amount) call: the 4-byte selector
// followed by the 32-byte padded recipient and amount.
func (c *Client) TokenTransferData(to string, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, selTransfer...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)

	return data
}

// SignAndSend signs the prepared parameters and broadcasts the transaction,
// returning the hash and the gas values used.
func (c *Client) SignAndSend(ctx context.Context, p chain.SendParams, privateKey string) (chain.SendResult, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return chain.SendResult{}, fmt.Errorf("malformed private key: %w", err)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress(p.To)

	nonce, err := c.ec.PendingNonceAt(ctx, from)
	if err != nil {
		return chain.SendResult{}, fmt.Errorf("cannot get nonce: %w", err)
	}

	gasPrice := p.GasPrice
	if gasPrice == nil {
		if gasPrice, err = c.ec.SuggestGasPrice(ctx); err != nil {
			return chain.SendResult{}, fmt.Errorf("cannot get gas price: %w", err)
		}
	}

	gasLimit := p.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.ec.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: p.Value, Data: p.Data})
		if err != nil {
			// estimation can fail on nodes that simulate the call;
			// fall back to fixed limits
			if len(p.Data) == 0 {
				gasLimit = defaultNativeGas
			} else {
				gasLimit = defaultTokenGas
			}
		} else {
			gasLimit += estimateBuffer
		}
	}

	tx := types.NewTransaction(nonce, to, p.Value, gasLimit, gasPrice, p.Data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return chain.SendResult{}, fmt.Errorf("cannot sign transaction: %w", err)
	}

	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return chain.SendResult{}, fmt.Errorf("cannot send transaction: %w", err)
	}

	return chain.SendResult{Hash: signed.Hash().Hex(), GasPrice: gasPrice, GasLimit: gasLimit}, nil
}

// TransactionByHash fetches the transaction for hash.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*chain.Transaction, error) {
	tx, pending, err := c.ec.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, chain.ErrTxNotFound
		}

		return nil, fmt.Errorf("cannot get transaction %s: %w", hash, err)
	}

	out := &chain.Transaction{
		Hash:    tx.Hash().Hex(),
		Value:   tx.Value(),
		Input:   tx.Data(),
		Pending: pending,
	}

	if to := tx.To(); to != nil {
		out.To = to.Hex()
	}

	if from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx); err == nil {
		out.From = from.Hex()
	}

	return out, nil
}

// ReceiptByHash fetches the receipt for hash.
func (c *Client) ReceiptByHash(ctx context.Context, hash string) (*chain.Receipt, error) {
	r, err := c.ec.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, chain.ErrReceiptNotFound
		}

		return nil, fmt.Errorf("cannot get receipt %s: %w", hash, err)
	}

	out := &chain.Receipt{
		TxHash:   r.TxHash.Hex(),
		Status:   r.Status,
		GasUsed:  r.GasUsed,
		GasPrice: r.EffectiveGasPrice,
		Logs:     make([]chain.Log, 0, len(r.Logs)),
	}

	for _, l := range r.Logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}

		out.Logs = append(out.Logs, chain.Log{Address: l.Address.Hex(), Topics: topics, Data: l.Data})
	}

	return out, nil
}

// TokenSymbol calls symbol() on contract.
func (c *Client) TokenSymbol(ctx context.Context, contract string) (string, error) {
	raw, err := c.call(ctx, contract, selSymbol)
	if err != nil {
		return "", fmt.Errorf("symbol call to %s failed: %w", contract, err)
	}

	s := decodeABIString(raw)
	if s == "" {
		return "", fmt.Errorf("symbol call to %s returned no value", contract)
	}

	return s, nil
}

// TokenDecimals calls decimals() on contract. Results are cached for the
// lifetime of the client; decimals are immutable in the ERC-20 standard.
func (c *Client) TokenDecimals(ctx context.Context, contract string) (int32, error) {
	key := strings.ToLower(contract)

	c.mu.RLock()
	d, ok := c.decimals[key]
	c.mu.RUnlock()

	if ok {
		return d, nil
	}

	raw, err := c.call(ctx, contract, selDecimals)
	if err != nil {
		return 0, fmt.Errorf("decimals call to %s failed: %w", contract, err)
	}

	if len(raw) < 32 {
		return 0, fmt.Errorf("decimals call to %s returned %d bytes", contract, len(raw))
	}

	d = int32(raw[31])

	c.mu.Lock()
	c.decimals[key] = d
	c.mu.Unlock()

	return d, nil
}

// call performs a read-only eth_call against contract.
func (c *Client) call(ctx context.Context, contract string, data []byte) ([]byte, error) {
	to := common.HexToAddress(contract)

	return c.ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// decodeABIString decodes the return value of a string-returning call.
// Standard tokens return a dynamic string (offset, length, bytes); some older
// contracts return a right-padded bytes32.
func decodeABIString(raw []byte) string {
	if len(raw) >= 96 {
		length := new(big.Int).SetBytes(raw[32:64]).Int64()
		if length >= 0 && 64+length <= int64(len(raw)) {
			return string(raw[64 : 64+length])
		}
	}

	if len(raw) == 32 {
		return string(trimRightZeros(raw))
	}

	return ""
}

func trimRightZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}

	return b[:i]
}
