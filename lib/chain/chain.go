// Package chain defines the interface required for all blockchain or network
// connections consumed by the wallet and transaction services.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/custodia-tech/walletd/lib/config"
)

// TransferEventSig is the keccak-256 hash of Transfer(address,address,uint256),
// the first topic of every standard ERC-20 Transfer event log.
const TransferEventSig = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// Receipt status values as reported by the node.
const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// Errors returned by chain clients.
var (
	ErrTxNotFound      = errors.New("transaction not found on chain")
	ErrReceiptNotFound = errors.New("transaction receipt not available")
)

// ChecksumAddress normalizes a hex address to its EIP-55 checksummed form,
// the form wallet addresses are generated and stored in. Inputs longer than
// 20 bytes keep only the trailing 20, so a 32-byte event topic normalizes to
// the address padded into it.
func ChecksumAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}

// KeyPair is a newly generated account: its address and hex-encoded private
// key material.
type KeyPair struct {
	Address    string
	PrivateKey string
}

// SendParams carries the prepared parameters of an outbound transaction.
// For a native transfer Data is empty and Value holds the wei amount; for a
// token transfer To is the contract, Value is zero and Data holds the
// ABI-encoded call.
type SendParams struct {
	To       string
	Value    *big.Int
	Data     []byte
	GasPrice *big.Int // nil to use the node's suggested price
	GasLimit uint64   // 0 to estimate
}

// Transaction is the simplified on-chain view of a transaction.
type Transaction struct {
	Hash    string
	From    string
	To      string // empty for contract creation
	Value   *big.Int
	Input   []byte
	Pending bool
}

// Log is one receipt log entry.
type Log struct {
	Address string // emitting contract
	Topics  []string
	Data    []byte
}

// Receipt is the confirmation record of a mined transaction.
type Receipt struct {
	TxHash   string
	Status   uint64
	GasUsed  uint64
	GasPrice *big.Int
	Logs     []Log
}

// SendResult reports the submitted transaction hash together with the gas
// values the transaction was signed with.
type SendResult struct {
	Hash     string
	GasPrice *big.Int
	GasLimit uint64
}

// Client is the capability the core consumes to reach one EVM network. All
// blocking operations take a context carrying the caller's timeout.
type Client interface {
	// CreateKeyPair generates a new account.
	CreateKeyPair() (KeyPair, error)
	// NativeBalance returns the native asset balance in decimal units.
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// TokenBalance returns the ERC-20 balance of address at contract,
	// scaled by the token's decimals.
	TokenBalance(ctx context.Context, address, contract string) (decimal.Decimal, error)
	// TokenTransferData encodes a transfer(to, amount) call.
	TokenTransferData(to string, amount *big.Int) []byte
	// SignAndSend signs the prepared parameters with the given key
	// material and broadcasts the transaction.
	SignAndSend(ctx context.Context, p SendParams, privateKey string) (SendResult, error)
	// TransactionByHash fetches a transaction; ErrTxNotFound when absent.
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)
	// ReceiptByHash fetches a receipt; ErrReceiptNotFound when absent.
	ReceiptByHash(ctx context.Context, hash string) (*Receipt, error)
	// TokenSymbol calls symbol() on an ERC-20 contract.
	TokenSymbol(ctx context.Context, contract string) (string, error)
	// TokenDecimals calls decimals() on an ERC-20 contract.
	TokenDecimals(ctx context.Context, contract string) (int32, error)
	// Close ends the connection.
	Close()
}

// Dialer connects a Client to one configured network. It is satisfied by the
// evm package and swapped for fakes in tests.
type Dialer func(conf config.NetworkConfig, hdSeed string) (Client, error)

// Init loads clients for all configured networks into a map keyed by network
// name.
func Init(networks []config.NetworkConfig, hdSeed string, dial Dialer) (map[string]Client, error) {
	m := make(map[string]Client, len(networks))

	for _, n := range networks {
		c, err := dial(n, hdSeed)
		if err != nil {
			return nil, err
		}

		m[n.Name] = c
	}

	return m, nil
}

// End closes gracefully all the chain clients opened.
func End(m map[string]Client) {
	for _, c := range m {
		c.Close()
	}
}
