// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/custodia-tech/walletd/lib/config"
	"github.com/custodia-tech/walletd/lib/store"
)

// uniqueViolation is the PostgreSQL error code raised on unique index
// conflicts.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	id UUID PRIMARY KEY,
	address TEXT NOT NULL UNIQUE,
	private_key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	tx_hash TEXT NOT NULL UNIQUE,
	asset TEXT NOT NULL,
	network TEXT NOT NULL,
	from_address TEXT NOT NULL,
	to_address TEXT NOT NULL,
	amount NUMERIC(78, 18) NOT NULL,
	gas_price BIGINT NOT NULL,
	gas_limit BIGINT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_from_idx ON transactions (from_address);
CREATE INDEX IF NOT EXISTS transactions_to_idx ON transactions (to_address);
`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in
// 'connection', with the pool bounded per the given configuration, and
// ensures the schema exists.
func New(connection string, pool config.PoolConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	db.SetMaxOpenConns(pool.MaxConns)
	db.SetMaxIdleConns(pool.MinConns)
	db.SetConnMaxIdleTime(time.Duration(pool.MaxIdleSecs) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pool.AcquireTimeout)*time.Second)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot reach DB: %w", err)
	}

	if _, err = db.ExecContext(ctx, schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot apply schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at
// termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Stats reports the connection pool state.
func (p *Postgres) Stats() store.PoolStats {
	s := p.db.Stats()

	return store.PoolStats{
		Open:  s.OpenConnections,
		InUse: s.InUse,
		Idle:  s.Idle,
		Max:   s.MaxOpenConnections,
	}
}

// InsertWallets saves a batch of wallets in a single transaction so that a
// partial batch is never persisted.
func (p *Postgres) InsertWallets(ctx context.Context, ws []store.Wallet) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for i := range ws {
		w := &ws[i]

		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallets (id, address, private_key, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ID, w.Address, w.PrivateKey, w.Status, w.CreatedAt, w.UpdatedAt)
		if err != nil {
			return wrapUnique(err, store.ErrDuplicateAddress, "could not insert wallet")
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit wallets: %w", err)
	}

	return nil
}

// WalletByAddress returns the active wallet for the given address.
func (p *Postgres) WalletByAddress(ctx context.Context, address string) (*store.Wallet, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, address, private_key, status, created_at, updated_at, deleted_at
		 FROM wallets WHERE address = $1 AND deleted_at IS NULL`, address)

	return scanWallet(row)
}

// Wallets returns a page of active wallets ordered by creation time.
func (p *Postgres) Wallets(ctx context.Context, offset, limit int) ([]store.Wallet, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, address, private_key, status, created_at, updated_at, deleted_at
		 FROM wallets WHERE deleted_at IS NULL
		 ORDER BY created_at, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("could not query wallets: %w", err)
	}
	defer rows.Close()

	ws := []store.Wallet{}

	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}

		ws = append(ws, *w)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("could not read wallets: %w", err)
	}

	return ws, nil
}

// CountWallets returns the number of active wallets.
func (p *Postgres) CountWallets(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallets WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count wallets: %w", err)
	}

	return n, nil
}

// DeactivateWallet soft-deletes the wallet: it is marked INACTIVE and stamped
// with a deletion time but its key material stays in store.
func (p *Postgres) DeactivateWallet(ctx context.Context, address string) (*store.Wallet, error) {
	now := time.Now().UTC()

	row := p.db.QueryRowContext(ctx,
		`UPDATE wallets SET status = $1, deleted_at = $2, updated_at = $2
		 WHERE address = $3 AND deleted_at IS NULL
		 RETURNING id, address, private_key, status, created_at, updated_at, deleted_at`,
		store.WalletInactive, now, address)

	return scanWallet(row)
}

// InsertTransaction saves a ledger transaction.
func (p *Postgres) InsertTransaction(ctx context.Context, t *store.Transaction) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, tx_hash, asset, network, from_address, to_address, amount, gas_price, gas_limit, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.TxHash, t.Asset, t.Network, t.FromAddress, t.ToAddress,
		t.Amount.String(), t.GasPrice, t.GasLimit, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return wrapUnique(err, store.ErrDuplicateHash, "could not insert transaction")
	}

	return nil
}

// TransactionByID returns the transaction with the given ledger id.
func (p *Postgres) TransactionByID(ctx context.Context, id uuid.UUID) (*store.Transaction, error) {
	row := p.db.QueryRowContext(ctx, txSelect+` WHERE id = $1`, id)

	return scanTx(row)
}

// TransactionByHash returns the transaction with the given chain hash.
func (p *Postgres) TransactionByHash(ctx context.Context, hash string) (*store.Transaction, error) {
	row := p.db.QueryRowContext(ctx, txSelect+` WHERE tx_hash = $1`, hash)

	return scanTx(row)
}

// Transactions returns a page of transactions, newest first.
func (p *Postgres) Transactions(ctx context.Context, offset, limit int) ([]store.Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		txSelect+` ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("could not query transactions: %w", err)
	}

	return collectTxs(rows)
}

// CountTransactions returns the total number of transactions.
func (p *Postgres) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count transactions: %w", err)
	}

	return n, nil
}

// TransactionsByAddress returns a page of transactions where the address is
// either side of the transfer, newest first.
func (p *Postgres) TransactionsByAddress(ctx context.Context, address string, offset, limit int) ([]store.Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		txSelect+` WHERE from_address = $1 OR to_address = $1
		 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, address, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("could not query transactions: %w", err)
	}

	return collectTxs(rows)
}

// CountTransactionsByAddress returns the number of transactions touching the
// address.
func (p *Postgres) CountTransactionsByAddress(ctx context.Context, address string) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE from_address = $1 OR to_address = $1`, address).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count transactions: %w", err)
	}

	return n, nil
}

const txSelect = `SELECT id, tx_hash, asset, network, from_address, to_address, amount,
	gas_price, gas_limit, status, created_at, updated_at FROM transactions`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row scanner) (*store.Wallet, error) {
	var w store.Wallet

	err := row.Scan(&w.ID, &w.Address, &w.PrivateKey, &w.Status, &w.CreatedAt, &w.UpdatedAt, &w.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrWalletNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not read wallet: %w", err)
	}

	return &w, nil
}

func scanTx(row scanner) (*store.Transaction, error) {
	var (
		t   store.Transaction
		amt string
	)

	err := row.Scan(&t.ID, &t.TxHash, &t.Asset, &t.Network, &t.FromAddress, &t.ToAddress,
		&amt, &t.GasPrice, &t.GasLimit, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTxNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not read transaction: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amt); err != nil {
		return nil, fmt.Errorf("malformed amount in store: %w", err)
	}

	return &t, nil
}

func collectTxs(rows *sql.Rows) ([]store.Transaction, error) {
	defer rows.Close()

	ts := []store.Transaction{}

	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}

		ts = append(ts, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not read transactions: %w", err)
	}

	return ts, nil
}

func wrapUnique(err error, dup error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return dup
	}

	return fmt.Errorf("%s: %w", msg, err)
}
