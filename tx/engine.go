// Package tx implements the transaction lifecycle engine: outbound transfer
// creation with balance and address validation, inbound transfer verification
// against on-chain receipts, and ledger queries.
package tx

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-tech/walletd/domain"
	"github.com/custodia-tech/walletd/lib/assets"
	"github.com/custodia-tech/walletd/lib/chain"
	"github.com/custodia-tech/walletd/lib/msg"
	"github.com/custodia-tech/walletd/lib/store"
)

// DefaultSendTimeout bounds the sign-and-broadcast step of an outbound
// creation. A timeout here means the broadcast state is unknown.
const DefaultSendTimeout = 30 * time.Second

// nativeDecimals is the wei scale of the chain's base currency.
const nativeDecimals = 18

// CreateInput carries the caller's request for an outbound transfer on the
// active network.
type CreateInput struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Engine orchestrates outbound creation and inbound verification. Submissions
// from the same wallet are serialized through a per-address lock so two
// concurrent creations cannot both pass the balance gate on a stale read
// within this process.
type Engine struct {
	db          store.DB
	chains      map[string]chain.Client
	reg         *assets.Registry
	broker      msg.MsgBroker
	log         zerolog.Logger
	sendTimeout time.Duration

	mu        sync.Mutex
	addrLocks map[string]*sync.Mutex
}

// New creates a transaction engine. broker may be nil when no message broker
// is configured.
func New(db store.DB, chains map[string]chain.Client, reg *assets.Registry, broker msg.MsgBroker, log zerolog.Logger) *Engine {
	return &Engine{
		db:          db,
		chains:      chains,
		reg:         reg,
		broker:      broker,
		log:         log.With().Str("svc", "tx").Logger(),
		sendTimeout: DefaultSendTimeout,
		addrLocks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) client() (chain.Client, error) {
	c, ok := e.chains[e.reg.CurrentNetwork()]
	if !ok {
		return nil, domain.InvalidNetwork(e.reg.CurrentNetwork())
	}

	return c, nil
}

// lockAddress serializes submissions per from-address within this process.
func (e *Engine) lockAddress(addr string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := strings.ToLower(addr)

	l, ok := e.addrLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.addrLocks[key] = l
	}

	return l
}

// Create validates, signs and broadcasts an outbound transfer and records it
// as PENDING. Validation failures happen before any side effect. A
// persistence failure after a successful broadcast is reported as a
// persistence error so the caller knows the send itself went through.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*store.Transaction, error) {
	network := e.reg.CurrentNetwork()
	if !e.reg.HasNetwork(network) {
		return nil, domain.InvalidNetwork(network)
	}

	if !in.Amount.IsPositive() {
		return nil, domain.InvalidAmount(in.Amount)
	}

	if in.From == in.To {
		return nil, domain.SameAddress(in.From)
	}

	if in.From == "" {
		return nil, domain.EmptyAddress("From address")
	}

	if in.To == "" {
		return nil, domain.EmptyAddress("To address")
	}

	asset, ok := e.reg.Get(in.Asset)
	if !ok {
		return nil, domain.AssetUnsupported(in.Asset, network)
	}

	var contract string

	if !asset.Native {
		var err error
		if contract, err = e.reg.ContractAddress(in.Asset); err != nil {
			return nil, err
		}
	}

	w, err := e.db.WalletByAddress(ctx, in.From)
	if errors.Is(err, store.ErrWalletNotFound) {
		return nil, domain.WalletNotFound(in.From)
	}

	if err != nil {
		return nil, domain.PersistenceError("reading wallet", err)
	}

	if !usableKey(w.PrivateKey) {
		return nil, domain.InvalidPrivateKey(in.From)
	}

	c, err := e.client()
	if err != nil {
		return nil, err
	}

	// one in-flight submission per wallet; the true balance is owned by
	// the chain, so this only closes the race within this process
	l := e.lockAddress(in.From)
	l.Lock()
	defer l.Unlock()

	params, err := e.buildParams(ctx, c, asset, contract, in)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	res, err := c.SignAndSend(sendCtx, params, w.PrivateKey)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.SendOutcomeUnknown(err)
		}

		return nil, domain.EvmServiceError("sending transaction", err)
	}

	txCreated.Inc()

	now := time.Now().UTC()
	t := &store.Transaction{
		ID:          uuid.New(),
		TxHash:      res.Hash,
		Asset:       in.Asset,
		Network:     network,
		FromAddress: in.From,
		ToAddress:   in.To,
		Amount:      in.Amount,
		GasPrice:    res.GasPrice.Int64(),
		GasLimit:    int64(res.GasLimit),
		Status:      store.TxPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.db.InsertTransaction(ctx, t); err != nil {
		// the send already happened and must not be resubmitted
		e.log.Error().Err(err).Str("hash", res.Hash).Msg("transaction sent but not recorded")

		return nil, domain.PersistenceError("creating transaction", err)
	}

	e.publish(msg.TransferEvent{
		Net:    network,
		Hash:   t.TxHash,
		Asset:  t.Asset,
		From:   t.FromAddress,
		To:     t.ToAddress,
		Amount: t.Amount.String(),
		Status: t.Status,
		Dir:    msg.DirOutbound,
	})

	e.log.Info().Str("hash", t.TxHash).Str("asset", t.Asset).Str("from", t.FromAddress).
		Str("amount", t.Amount.String()).Msg("transaction created")

	return t, nil
}

// buildParams checks the balance gate and assembles the chain parameters for
// the transfer. The gate is inclusive: amount equal to balance passes.
func (e *Engine) buildParams(ctx context.Context, c chain.Client, asset assets.Asset, contract string, in CreateInput) (chain.SendParams, error) {
	if asset.Native {
		bal, err := c.NativeBalance(ctx, in.From)
		if err != nil {
			return chain.SendParams{}, domain.EvmServiceError("reading native balance", err)
		}

		if bal.LessThan(in.Amount) {
			return chain.SendParams{}, domain.InsufficientBalance(in.Asset, bal, in.Amount)
		}

		return chain.SendParams{To: in.To, Value: in.Amount.Shift(nativeDecimals).BigInt()}, nil
	}

	bal, err := c.TokenBalance(ctx, in.From, contract)
	if err != nil {
		return chain.SendParams{}, domain.EvmServiceError("reading token balance", err)
	}

	if bal.LessThan(in.Amount) {
		return chain.SendParams{}, domain.InsufficientBalance(in.Asset, bal, in.Amount)
	}

	dec, err := c.TokenDecimals(ctx, contract)
	if err != nil {
		dec = nativeDecimals
	}

	data := c.TokenTransferData(in.To, in.Amount.Shift(dec).BigInt())

	return chain.SendParams{To: contract, Value: decimal.Zero.BigInt(), Data: data}, nil
}

func (e *Engine) publish(ev msg.TransferEvent) {
	if e.broker == nil {
		return
	}

	if err := e.broker.PublishTransfer(ev.Net, ev); err != nil {
		e.log.Error().Err(err).Str("hash", ev.Hash).Msg("could not publish transfer event")
	}
}

// usableKey reports whether the stored key material is non-empty well-formed
// hex. It is a local check only; signature failures still surface at send
// time.
func usableKey(key string) bool {
	k := strings.TrimPrefix(key, "0x")
	if k == "" {
		return false
	}

	_, err := hex.DecodeString(k)

	return err == nil
}

// ByID returns the ledger transaction with the given internal id.
func (e *Engine) ByID(ctx context.Context, id uuid.UUID) (*store.Transaction, error) {
	t, err := e.db.TransactionByID(ctx, id)
	if errors.Is(err, store.ErrTxNotFound) {
		return nil, domain.TransactionNotFound(id.String())
	}

	if err != nil {
		return nil, domain.PersistenceError("reading transaction", err)
	}

	return t, nil
}

// ByHash returns the ledger transaction with the given chain hash.
func (e *Engine) ByHash(ctx context.Context, hash string) (*store.Transaction, error) {
	if hash == "" {
		return nil, domain.EmptyAddress("Transaction hash")
	}

	t, err := e.db.TransactionByHash(ctx, hash)
	if errors.Is(err, store.ErrTxNotFound) {
		return nil, domain.TransactionNotFound(hash)
	}

	if err != nil {
		return nil, domain.PersistenceError("reading transaction", err)
	}

	return t, nil
}

// List returns one page of ledger transactions, newest first, with pagination
// metadata. The page and the total count are fetched concurrently.
func (e *Engine) List(ctx context.Context, page, limit int) ([]store.Transaction, domain.Pagination, error) {
	if err := domain.ValidatePage(page, limit); err != nil {
		return nil, domain.Pagination{}, err
	}

	var (
		ts    []store.Transaction
		total int
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		ts, err = e.db.Transactions(gctx, domain.Offset(page, limit), limit)

		return err
	})

	g.Go(func() (err error) {
		total, err = e.db.CountTransactions(gctx)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, domain.Pagination{}, domain.PersistenceError("listing transactions", err)
	}

	return ts, domain.Paginate(int64(total), page, limit), nil
}

// ListByWallet returns one page of ledger transactions touching the address,
// newest first, with pagination metadata.
func (e *Engine) ListByWallet(ctx context.Context, address string, page, limit int) ([]store.Transaction, domain.Pagination, error) {
	if address == "" {
		return nil, domain.Pagination{}, domain.EmptyAddress("Wallet address")
	}

	if err := domain.ValidatePage(page, limit); err != nil {
		return nil, domain.Pagination{}, err
	}

	var (
		ts    []store.Transaction
		total int
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		ts, err = e.db.TransactionsByAddress(gctx, address, domain.Offset(page, limit), limit)

		return err
	})

	g.Go(func() (err error) {
		total, err = e.db.CountTransactionsByAddress(gctx, address)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, domain.Pagination{}, domain.PersistenceError("listing transactions", err)
	}

	return ts, domain.Paginate(int64(total), page, limit), nil
}
