package tx

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/custodia-tech/walletd/lib/assets"
	"github.com/custodia-tech/walletd/lib/chain"
	"github.com/custodia-tech/walletd/lib/config"
	"github.com/custodia-tech/walletd/lib/store"
)

const (
	testNetwork  = "sepolia"
	usdcContract = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
)

func testRegistry(t *testing.T) *assets.Registry {
	t.Helper()

	reg, err := assets.New(config.ServiceConfig{
		CurrentNetwork: testNetwork,
		NativeAsset:    "ETH",
		Networks:       []config.NetworkConfig{{Name: testNetwork, Node: "https://sepolia.example.org"}},
		Assets: []config.AssetConfig{
			{Symbol: "ETH", Native: true},
			{Symbol: "USDC", Contracts: map[string]string{testNetwork: usdcContract}},
		},
	})
	require.NoError(t, err)

	return reg
}

// fakeDB is an in-memory store.DB.
type fakeDB struct {
	mu      sync.Mutex
	wallets map[string]store.Wallet
	txs     []store.Transaction

	insertTxErr   error
	insertTxCalls int
}

func newFakeDB() *fakeDB {
	return &fakeDB{wallets: make(map[string]store.Wallet)}
}

func (f *fakeDB) addWallet(address, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.wallets[address] = store.Wallet{
		ID: uuid.New(), Address: address, PrivateKey: key, Status: store.WalletActive,
	}
}

func (f *fakeDB) InsertWallets(ctx context.Context, ws []store.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range ws {
		f.wallets[w.Address] = w
	}

	return nil
}

// WalletByAddress matches addresses by exact string equality, the same way
// the postgres and mongo backends do.
func (f *fakeDB) WalletByAddress(ctx context.Context, address string) (*store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[address]
	if !ok {
		return nil, store.ErrWalletNotFound
	}

	return &w, nil
}

func (f *fakeDB) Wallets(ctx context.Context, offset, limit int) ([]store.Wallet, error) {
	return nil, nil
}

func (f *fakeDB) CountWallets(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.wallets), nil
}

func (f *fakeDB) DeactivateWallet(ctx context.Context, address string) (*store.Wallet, error) {
	return nil, store.ErrWalletNotFound
}

func (f *fakeDB) InsertTransaction(ctx context.Context, t *store.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.insertTxCalls++

	if f.insertTxErr != nil {
		return f.insertTxErr
	}

	for _, ex := range f.txs {
		if ex.TxHash == t.TxHash {
			return store.ErrDuplicateHash
		}
	}

	f.txs = append(f.txs, *t)

	return nil
}

func (f *fakeDB) TransactionByID(ctx context.Context, id uuid.UUID) (*store.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.txs {
		if f.txs[i].ID == id {
			t := f.txs[i]

			return &t, nil
		}
	}

	return nil, store.ErrTxNotFound
}

func (f *fakeDB) TransactionByHash(ctx context.Context, hash string) (*store.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.txs {
		if f.txs[i].TxHash == hash {
			t := f.txs[i]

			return &t, nil
		}
	}

	return nil, store.ErrTxNotFound
}

func (f *fakeDB) Transactions(ctx context.Context, offset, limit int) ([]store.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset >= len(f.txs) {
		return []store.Transaction{}, nil
	}

	end := offset + limit
	if end > len(f.txs) {
		end = len(f.txs)
	}

	return append([]store.Transaction{}, f.txs[offset:end]...), nil
}

func (f *fakeDB) CountTransactions(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.txs), nil
}

func (f *fakeDB) TransactionsByAddress(ctx context.Context, address string, offset, limit int) ([]store.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []store.Transaction{}

	for _, t := range f.txs {
		if strings.EqualFold(t.FromAddress, address) || strings.EqualFold(t.ToAddress, address) {
			out = append(out, t)
		}
	}

	if offset >= len(out) {
		return []store.Transaction{}, nil
	}

	end := offset + limit
	if end > len(out) {
		end = len(out)
	}

	return out[offset:end], nil
}

func (f *fakeDB) CountTransactionsByAddress(ctx context.Context, address string) (int, error) {
	ts, err := f.TransactionsByAddress(ctx, address, 0, len(f.txs)+1)

	return len(ts), err
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }

func (f *fakeDB) Stats() store.PoolStats { return store.PoolStats{} }

// fakeChain is a canned chain.Client.
type fakeChain struct {
	nativeBal decimal.Decimal
	tokenBal  decimal.Decimal
	decimals  map[string]int32
	symbols   map[string]string

	sendErr    error
	sendResult chain.SendResult
	sent       []chain.SendParams

	tx      *chain.Transaction
	receipt *chain.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		decimals:   map[string]int32{},
		symbols:    map[string]string{},
		sendResult: chain.SendResult{Hash: "0xfeed", GasPrice: big.NewInt(2000000000), GasLimit: 21000},
	}
}

func (f *fakeChain) CreateKeyPair() (chain.KeyPair, error) { return chain.KeyPair{}, nil }

func (f *fakeChain) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return f.nativeBal, nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, address, contract string) (decimal.Decimal, error) {
	return f.tokenBal, nil
}

func (f *fakeChain) TokenTransferData(to string, amount *big.Int) []byte {
	return amount.Bytes()
}

func (f *fakeChain) SignAndSend(ctx context.Context, p chain.SendParams, privateKey string) (chain.SendResult, error) {
	if f.sendErr != nil {
		return chain.SendResult{}, f.sendErr
	}

	f.sent = append(f.sent, p)

	return f.sendResult, nil
}

func (f *fakeChain) TransactionByHash(ctx context.Context, hash string) (*chain.Transaction, error) {
	if f.tx == nil {
		return nil, chain.ErrTxNotFound
	}

	return f.tx, nil
}

func (f *fakeChain) ReceiptByHash(ctx context.Context, hash string) (*chain.Receipt, error) {
	if f.receipt == nil {
		return nil, chain.ErrReceiptNotFound
	}

	return f.receipt, nil
}

func (f *fakeChain) TokenSymbol(ctx context.Context, contract string) (string, error) {
	if s, ok := f.symbols[strings.ToLower(contract)]; ok {
		return s, nil
	}

	return "", chain.ErrTxNotFound
}

func (f *fakeChain) TokenDecimals(ctx context.Context, contract string) (int32, error) {
	if d, ok := f.decimals[strings.ToLower(contract)]; ok {
		return d, nil
	}

	return 0, chain.ErrTxNotFound
}

func (f *fakeChain) Close() {}

func newTestEngine(t *testing.T, db *fakeDB, fc *fakeChain) *Engine {
	t.Helper()

	return New(db, map[string]chain.Client{testNetwork: fc}, testRegistry(t), nil, zerolog.Nop())
}
