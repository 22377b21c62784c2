package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-tech/walletd/domain"
	"github.com/custodia-tech/walletd/lib/assets"
	"github.com/custodia-tech/walletd/lib/chain"
	"github.com/custodia-tech/walletd/lib/config"
	"github.com/custodia-tech/walletd/lib/store"
	"github.com/custodia-tech/walletd/tx"
	"github.com/custodia-tech/walletd/wallet"
)

const testNetwork = "sepolia"

// fakeDB is an in-memory store.DB for API tests.
type fakeDB struct {
	mu      sync.Mutex
	wallets map[string]store.Wallet
	order   []string
	txs     []store.Transaction
	pingErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{wallets: make(map[string]store.Wallet)}
}

func (f *fakeDB) InsertWallets(ctx context.Context, ws []store.Wallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range ws {
		key := strings.ToLower(w.Address)
		f.wallets[key] = w
		f.order = append(f.order, key)
	}

	return nil
}

func (f *fakeDB) WalletByAddress(ctx context.Context, address string) (*store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[strings.ToLower(address)]
	if !ok {
		return nil, store.ErrWalletNotFound
	}

	return &w, nil
}

func (f *fakeDB) Wallets(ctx context.Context, offset, limit int) ([]store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset >= len(f.order) {
		return []store.Wallet{}, nil
	}

	end := offset + limit
	if end > len(f.order) {
		end = len(f.order)
	}

	out := []store.Wallet{}
	for _, key := range f.order[offset:end] {
		out = append(out, f.wallets[key])
	}

	return out, nil
}

func (f *fakeDB) CountWallets(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.order), nil
}

func (f *fakeDB) DeactivateWallet(ctx context.Context, address string) (*store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(address)

	w, ok := f.wallets[key]
	if !ok || w.Status == store.WalletInactive {
		return nil, store.ErrWalletNotFound
	}

	w.Status = store.WalletInactive
	f.wallets[key] = w

	return &w, nil
}

func (f *fakeDB) InsertTransaction(ctx context.Context, t *store.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

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

	return append([]store.Transaction{}, f.txs...), nil
}

func (f *fakeDB) CountTransactions(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.txs), nil
}

func (f *fakeDB) TransactionsByAddress(ctx context.Context, address string, offset, limit int) ([]store.Transaction, error) {
	return f.Transactions(ctx, offset, limit)
}

func (f *fakeDB) CountTransactionsByAddress(ctx context.Context, address string) (int, error) {
	return f.CountTransactions(ctx)
}

func (f *fakeDB) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeDB) Stats() store.PoolStats { return store.PoolStats{Open: 1, Max: 10} }

// fakeChain hands out sequential key pairs and a fixed balance.
type fakeChain struct {
	mu  sync.Mutex
	seq int
}

func (f *fakeChain) CreateKeyPair() (chain.KeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++

	return chain.KeyPair{
		Address:    fmt.Sprintf("0x%040x", f.seq),
		PrivateKey: fmt.Sprintf("%064x", f.seq),
	}, nil
}

func (f *fakeChain) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.New(10, 0), nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, address, contract string) (decimal.Decimal, error) {
	return decimal.New(10, 0), nil
}

func (f *fakeChain) TokenTransferData(to string, amount *big.Int) []byte { return amount.Bytes() }

func (f *fakeChain) SignAndSend(ctx context.Context, p chain.SendParams, privateKey string) (chain.SendResult, error) {
	return chain.SendResult{Hash: "0xfeed", GasPrice: big.NewInt(1000000000), GasLimit: 21000}, nil
}

func (f *fakeChain) TransactionByHash(ctx context.Context, hash string) (*chain.Transaction, error) {
	return nil, chain.ErrTxNotFound
}

func (f *fakeChain) ReceiptByHash(ctx context.Context, hash string) (*chain.Receipt, error) {
	return nil, chain.ErrReceiptNotFound
}

func (f *fakeChain) TokenSymbol(ctx context.Context, contract string) (string, error) {
	return "", chain.ErrTxNotFound
}

func (f *fakeChain) TokenDecimals(ctx context.Context, contract string) (int32, error) {
	return 18, nil
}

func (f *fakeChain) Close() {}

func newTestServer(t *testing.T, db *fakeDB) *Server {
	t.Helper()

	reg, err := assets.New(config.ServiceConfig{
		CurrentNetwork: testNetwork,
		NativeAsset:    "ETH",
		Networks:       []config.NetworkConfig{{Name: testNetwork, Node: "https://sepolia.example.org"}},
		Assets:         []config.AssetConfig{{Symbol: "ETH", Native: true}},
	})
	require.NoError(t, err)

	chains := map[string]chain.Client{testNetwork: &fakeChain{}}
	ws := wallet.New(db, chains, reg, zerolog.Nop())
	eng := tx.New(db, chains, reg, nil, zerolog.Nop())

	return New("postgresql", db, nil, ws, eng, reg, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, target string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.ContentLength = int64(buf.Len())
	}

	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	var res Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))

	return rec, res
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.InvalidAmount(decimal.Zero), http.StatusBadRequest},
		{"integrity", domain.InsufficientBalance("ETH", decimal.Zero, decimal.New(1, 0)), http.StatusBadRequest},
		{"not found", domain.WalletNotFound("0xabc"), http.StatusNotFound},
		{"persistence", domain.PersistenceError("reading wallet", errors.New("boom")), http.StatusServiceUnavailable},
		{"evm service", domain.EvmServiceError("sending transaction", errors.New("boom")), http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, statusFor(c.err))
		})
	}
}

func TestHomeAndNetworks(t *testing.T) {
	s := newTestServer(t, newFakeDB())

	rec, res := do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, res.Body, "custodial wallet service")

	rec, _ = do(t, s, http.MethodGet, "/networks", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetWallets(t *testing.T) {
	db := newFakeDB()
	s := newTestServer(t, db)

	rec, res := do(t, s, http.MethodPost, "/wallet", map[string]int{"count": 2})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, res.Error)

	items, ok := res.Body.([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 2)

	rec, _ = do(t, s, http.MethodGet, "/wallet?page=1&limit=10", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// out-of-range count is a client error
	rec, res = do(t, s, http.MethodPost, "/wallet", map[string]int{"count": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, res.Error)

	rec, _ = do(t, s, http.MethodGet, "/wallet/0x0000000000000000000000000000000000000099", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTxEndpoint(t *testing.T) {
	db := newFakeDB()
	s := newTestServer(t, db)

	// provision a funded wallet first
	rec, res := do(t, s, http.MethodPost, "/wallet", map[string]int{"count": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	items := res.Body.([]interface{})
	from := items[0].(map[string]interface{})["address"].(string)

	rec, res = do(t, s, http.MethodPost, "/tx", map[string]interface{}{
		"from": from, "to": "0x0000000000000000000000000000000000000042", "asset": "ETH", "amount": "1.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "error: %s", res.Error)

	body := res.Body.(map[string]interface{})
	assert.Equal(t, "0xfeed", body["tx_hash"])
	assert.Equal(t, "PENDING", body["status"])

	// invalid amount maps to a client error
	rec, _ = do(t, s, http.MethodPost, "/tx", map[string]interface{}{
		"from": from, "to": "0x0000000000000000000000000000000000000042", "asset": "ETH", "amount": "0",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateEndpointRequiresHash(t *testing.T) {
	s := newTestServer(t, newFakeDB())

	rec, res := do(t, s, http.MethodPost, "/tx/validate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, res.Error, "Transaction hash")
}

func TestHealth(t *testing.T) {
	db := newFakeDB()
	s := newTestServer(t, db)

	rec, _ := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	db.pingErr = errors.New("down")

	rec, _ = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
