// Package store defines the interface for database implementations to the
// wallet and transaction services.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// DB defines required methods for wallet and transaction persistence.
type DB interface {
	// methods for the wallet service
	InsertWallets(ctx context.Context, ws []Wallet) error
	WalletByAddress(ctx context.Context, address string) (*Wallet, error)
	Wallets(ctx context.Context, offset, limit int) ([]Wallet, error)
	CountWallets(ctx context.Context) (int, error)
	DeactivateWallet(ctx context.Context, address string) (*Wallet, error)
	// methods for the transaction service
	InsertTransaction(ctx context.Context, t *Transaction) error
	TransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)
	Transactions(ctx context.Context, offset, limit int) ([]Transaction, error)
	CountTransactions(ctx context.Context) (int, error)
	TransactionsByAddress(ctx context.Context, address string, offset, limit int) ([]Transaction, error)
	CountTransactionsByAddress(ctx context.Context, address string) (int, error)
	// health
	Ping(ctx context.Context) error
	Stats() PoolStats
}

// Errors returned.
var (
	ErrWalletNotFound   = errors.New("wallet was not found in store")
	ErrTxNotFound       = errors.New("transaction was not found in store")
	ErrDuplicateAddress = errors.New("wallet address already exists in store")
	ErrDuplicateHash    = errors.New("transaction hash already exists in store")
)

// PoolStats reports the state of the storage connection pool for the health
// endpoint.
type PoolStats struct {
	Open  int `json:"open_connections"`
	InUse int `json:"in_use"`
	Idle  int `json:"idle"`
	Max   int `json:"max_open_connections"`
}
