package tx

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/custodia-tech/walletd/domain"
	"github.com/custodia-tech/walletd/lib/chain"
	"github.com/custodia-tech/walletd/lib/msg"
	"github.com/custodia-tech/walletd/lib/store"
)

// Transfer is the normalized view of one decoded value movement: either the
// native transfer of a transaction or one ERC-20 Transfer event from its
// receipt. Contract is empty for native transfers.
type Transfer struct {
	Asset    string          `json:"asset"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
	Contract string          `json:"contract,omitempty"`
}

// Validation is the outcome of verifying one transaction hash against chain
// state. Transfers lists everything decoded from the transaction, whether or
// not the destination is a managed wallet.
type Validation struct {
	Hash      string     `json:"tx_hash"`
	Network   string     `json:"network"`
	Valid     bool       `json:"is_valid"`
	Message   string     `json:"message,omitempty"`
	Transfers []Transfer `json:"transfers"`
}

// Verify checks an inbound transaction hash against on-chain state. A hash
// already present in the ledger is answered from the stored record without
// touching the chain, so verification persists at most once however many
// times it is queried. Otherwise the receipt is fetched, its value movement
// decoded, and the first decoded transfer's destination matched against the
// managed wallets; on a match the transfer is recorded as COMPLETED.
func (e *Engine) Verify(ctx context.Context, hash string) (*Validation, error) {
	if hash == "" {
		return nil, domain.EmptyAddress("Transaction hash")
	}

	network := e.reg.CurrentNetwork()

	// idempotency: answer recorded hashes from the ledger
	if t, err := e.db.TransactionByHash(ctx, hash); err == nil {
		txVerified.WithLabelValues(outcomeValid).Inc()

		return &Validation{
			Hash:    hash,
			Network: network,
			Valid:   true,
			Message: "transaction already recorded",
			Transfers: []Transfer{{
				Asset:  t.Asset,
				From:   t.FromAddress,
				To:     t.ToAddress,
				Amount: t.Amount,
			}},
		}, nil
	} else if !errors.Is(err, store.ErrTxNotFound) {
		return nil, domain.PersistenceError("reading transaction", err)
	}

	c, err := e.client()
	if err != nil {
		return nil, err
	}

	ctxTx, err := c.TransactionByHash(ctx, hash)
	if errors.Is(err, chain.ErrTxNotFound) {
		return nil, domain.TransactionNotFound(hash)
	}

	if err != nil {
		return nil, domain.EvmServiceError("fetching transaction", err)
	}

	receipt, err := c.ReceiptByHash(ctx, hash)
	if errors.Is(err, chain.ErrReceiptNotFound) {
		txVerified.WithLabelValues(outcomeInvalid).Inc()

		return &Validation{Hash: hash, Network: network, Message: "transaction not yet mined", Transfers: []Transfer{}}, nil
	}

	if err != nil {
		return nil, domain.EvmServiceError("fetching receipt", err)
	}

	if receipt.Status != chain.ReceiptStatusSuccessful {
		txVerified.WithLabelValues(outcomeInvalid).Inc()

		return &Validation{Hash: hash, Network: network, Message: "reverted", Transfers: []Transfer{}}, nil
	}

	transfers := e.decodeTransfers(ctx, c, ctxTx, receipt)
	if len(transfers) == 0 {
		txVerified.WithLabelValues(outcomeInvalid).Inc()

		return &Validation{Hash: hash, Network: network, Message: "no transfer found in transaction", Transfers: []Transfer{}}, nil
	}

	// first decoded transfer wins; later transfers are reported but do not
	// affect the verdict
	first := transfers[0]

	_, err = e.db.WalletByAddress(ctx, first.To)
	if errors.Is(err, store.ErrWalletNotFound) {
		txVerified.WithLabelValues(outcomeInvalid).Inc()

		return &Validation{
			Hash:      hash,
			Network:   network,
			Message:   "destination " + first.To + " is not a managed wallet",
			Transfers: transfers,
		}, nil
	}

	if err != nil {
		return nil, domain.PersistenceError("reading wallet", err)
	}

	e.record(ctx, hash, network, receipt, first)

	txVerified.WithLabelValues(outcomeValid).Inc()

	return &Validation{Hash: hash, Network: network, Valid: true, Transfers: transfers}, nil
}

// decodeTransfers normalizes the value movement of a mined transaction: the
// direct native transfer when there is no call data, or every ERC-20 Transfer
// event in the receipt logs otherwise.
func (e *Engine) decodeTransfers(ctx context.Context, c chain.Client, t *chain.Transaction, r *chain.Receipt) []Transfer {
	if t.To != "" && len(t.Input) == 0 {
		// a zero-value transfer moves nothing and is never recorded
		if t.Value == nil || t.Value.Sign() <= 0 {
			return nil
		}

		return []Transfer{{
			Asset:  e.reg.NativeSymbol(),
			From:   t.From,
			To:     t.To,
			Amount: decimal.NewFromBigInt(t.Value, -nativeDecimals),
		}}
	}

	transfers := []Transfer{}

	for _, l := range r.Logs {
		if len(l.Topics) != 3 || !strings.EqualFold(l.Topics[0], chain.TransferEventSig) {
			continue
		}

		raw := new(big.Int).SetBytes(l.Data)
		if raw.Sign() == 0 {
			continue
		}

		dec, err := c.TokenDecimals(ctx, l.Address)
		if err != nil {
			dec = nativeDecimals
		}

		transfers = append(transfers, Transfer{
			Asset:    e.assetName(ctx, c, l.Address),
			From:     topicAddress(l.Topics[1]),
			To:       topicAddress(l.Topics[2]),
			Amount:   decimal.NewFromBigInt(raw, -dec),
			Contract: l.Address,
		})
	}

	return transfers
}

// assetName resolves a token contract to a display symbol: the configured
// registry symbol first, the contract's own symbol() next, and a truncated
// address placeholder when both fail.
func (e *Engine) assetName(ctx context.Context, c chain.Client, contract string) string {
	if s, ok := e.reg.SymbolByContract(contract); ok {
		return s
	}

	if s, err := c.TokenSymbol(ctx, contract); err == nil {
		return s
	}

	if len(contract) > 10 {
		return contract[:10]
	}

	return contract
}

// record persists the matched inbound transfer as COMPLETED and publishes the
// transfer event. Storage failure here does not fail the verification; the
// chain-side fact is already true regardless of local storage.
func (e *Engine) record(ctx context.Context, hash, network string, r *chain.Receipt, tr Transfer) {
	var gasPrice int64
	if r.GasPrice != nil {
		gasPrice = r.GasPrice.Int64()
	}

	now := time.Now().UTC()
	t := &store.Transaction{
		ID:          uuid.New(),
		TxHash:      hash,
		Asset:       tr.Asset,
		Network:     network,
		FromAddress: tr.From,
		ToAddress:   tr.To,
		Amount:      tr.Amount,
		GasPrice:    gasPrice,
		GasLimit:    int64(r.GasUsed),
		Status:      store.TxCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.db.InsertTransaction(ctx, t); err != nil && !errors.Is(err, store.ErrDuplicateHash) {
		e.log.Error().Err(err).Str("hash", hash).Msg("verified transfer not recorded")

		return
	}

	e.publish(msg.TransferEvent{
		Net:    network,
		Hash:   hash,
		Asset:  tr.Asset,
		From:   tr.From,
		To:     tr.To,
		Amount: tr.Amount.String(),
		Status: store.TxCompleted,
		Dir:    msg.DirInbound,
	})
}

// topicAddress extracts the 20-byte address right-aligned in a 32-byte event
// topic. Topics carry lowercase hex while wallets are stored checksummed, so
// the result is normalized to the checksummed form before any store lookup.
func topicAddress(topic string) string {
	return chain.ChecksumAddress(topic)
}
