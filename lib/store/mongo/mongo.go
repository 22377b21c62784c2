// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/custodia-tech/walletd/lib/store"
)

const (
	database        = "walletd"
	walletsCol      = "wallets"
	transactionsCol = "transactions"

	connectTimeout = 5 * time.Second
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoTx wraps a store.Transaction for persistence: decimal amounts are kept
// as strings so no precision is lost in BSON.
type mongoTx struct {
	store.Transaction `bson:",inline"`
	Amount            string `bson:"amount"`
}

func (t mongoTx) transaction() (*store.Transaction, error) {
	out := t.Transaction

	amt, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return nil, fmt.Errorf("malformed amount in store: %w", err)
	}

	out.Amount = amt

	return &out, nil
}

// New returns a Mongo client connection to the specified MongoDB database uri
// and ensures the unique indexes exist.
func New(uri string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	c, err := mgo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	m := &Mongo{c: c}

	if err = m.ensureIndexes(ctx); err != nil {
		_ = c.Disconnect(context.Background())

		return nil, err
	}

	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	_, err := m.wallets().Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys: bson.D{{Key: "address", Value: 1}}, Options: unique,
	})
	if err != nil {
		return fmt.Errorf("cannot create wallet index: %w", err)
	}

	_, err = m.transactions().Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys: bson.D{{Key: "tx_hash", Value: 1}}, Options: unique,
	})
	if err != nil {
		return fmt.Errorf("cannot create transaction index: %w", err)
	}

	return nil
}

// CloseMongo will close a database connection. Must be called at termination
// time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// Ping checks the database connection.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.c.Ping(ctx, readpref.Primary())
}

// Stats reports the connection pool state. The mongo driver manages its pool
// internally and does not expose counters, so only the configured maximum is
// reported.
func (m *Mongo) Stats() store.PoolStats {
	return store.PoolStats{}
}

func (m *Mongo) wallets() *mgo.Collection      { return m.c.Database(database).Collection(walletsCol) }
func (m *Mongo) transactions() *mgo.Collection { return m.c.Database(database).Collection(transactionsCol) }

// InsertWallets saves a batch of wallets. A multi-document insert is not
// atomic outside a replica set, so on failure the documents that did get in
// are deleted again to keep the batch all-or-nothing.
func (m *Mongo) InsertWallets(ctx context.Context, ws []store.Wallet) error {
	docs := make([]interface{}, len(ws))
	ids := make([]uuid.UUID, len(ws))

	for i := range ws {
		docs[i] = ws[i]
		ids[i] = ws[i].ID
	}

	_, err := m.wallets().InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}

	if _, derr := m.wallets().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); derr != nil {
		return fmt.Errorf("could not insert wallets in db (cleanup of partial batch also failed: %v): %w", derr, err)
	}

	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateAddress
	}

	return fmt.Errorf("could not insert wallets in db: %w", err)
}

// WalletByAddress returns the active wallet for the given address.
func (m *Mongo) WalletByAddress(ctx context.Context, address string) (*store.Wallet, error) {
	var w store.Wallet

	err := m.wallets().FindOne(ctx, activeWallet(address)).Decode(&w)
	if err == mgo.ErrNoDocuments {
		return nil, store.ErrWalletNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not read wallet: %w", err)
	}

	return &w, nil
}

// Wallets returns a page of active wallets ordered by creation time.
func (m *Mongo) Wallets(ctx context.Context, offset, limit int) ([]store.Wallet, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cur, err := m.wallets().Find(ctx, bson.M{"deleted_at": nil}, opts)
	if err != nil {
		return nil, fmt.Errorf("could not query wallets: %w", err)
	}

	ws := []store.Wallet{}
	if err = cur.All(ctx, &ws); err != nil {
		return nil, fmt.Errorf("could not read wallets: %w", err)
	}

	return ws, nil
}

// CountWallets returns the number of active wallets.
func (m *Mongo) CountWallets(ctx context.Context) (int, error) {
	n, err := m.wallets().CountDocuments(ctx, bson.M{"deleted_at": nil})
	if err != nil {
		return 0, fmt.Errorf("could not count wallets: %w", err)
	}

	return int(n), nil
}

// DeactivateWallet soft-deletes the wallet: it is marked INACTIVE and stamped
// with a deletion time but its key material stays in store.
func (m *Mongo) DeactivateWallet(ctx context.Context, address string) (*store.Wallet, error) {
	now := time.Now().UTC()

	var w store.Wallet

	err := m.wallets().FindOneAndUpdate(ctx, activeWallet(address),
		bson.M{"$set": bson.M{"status": store.WalletInactive, "deleted_at": now, "updated_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&w)
	if err == mgo.ErrNoDocuments {
		return nil, store.ErrWalletNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not deactivate wallet: %w", err)
	}

	return &w, nil
}

// InsertTransaction saves a ledger transaction.
func (m *Mongo) InsertTransaction(ctx context.Context, t *store.Transaction) error {
	_, err := m.transactions().InsertOne(ctx, mongoTx{Transaction: *t, Amount: t.Amount.String()})
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateHash
	}

	if err != nil {
		return fmt.Errorf("could not insert transaction in db: %w", err)
	}

	return nil
}

// TransactionByID returns the transaction with the given ledger id.
func (m *Mongo) TransactionByID(ctx context.Context, id uuid.UUID) (*store.Transaction, error) {
	return m.findTx(ctx, bson.M{"_id": id})
}

// TransactionByHash returns the transaction with the given chain hash.
func (m *Mongo) TransactionByHash(ctx context.Context, hash string) (*store.Transaction, error) {
	return m.findTx(ctx, bson.M{"tx_hash": hash})
}

// Transactions returns a page of transactions, newest first.
func (m *Mongo) Transactions(ctx context.Context, offset, limit int) ([]store.Transaction, error) {
	return m.findTxs(ctx, bson.M{}, offset, limit)
}

// CountTransactions returns the total number of transactions.
func (m *Mongo) CountTransactions(ctx context.Context) (int, error) {
	n, err := m.transactions().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("could not count transactions: %w", err)
	}

	return int(n), nil
}

// TransactionsByAddress returns a page of transactions where the address is
// either side of the transfer, newest first.
func (m *Mongo) TransactionsByAddress(ctx context.Context, address string, offset, limit int) ([]store.Transaction, error) {
	return m.findTxs(ctx, addressFilter(address), offset, limit)
}

// CountTransactionsByAddress returns the number of transactions touching the
// address.
func (m *Mongo) CountTransactionsByAddress(ctx context.Context, address string) (int, error) {
	n, err := m.transactions().CountDocuments(ctx, addressFilter(address))
	if err != nil {
		return 0, fmt.Errorf("could not count transactions: %w", err)
	}

	return int(n), nil
}

func (m *Mongo) findTx(ctx context.Context, filter bson.M) (*store.Transaction, error) {
	var t mongoTx

	err := m.transactions().FindOne(ctx, filter).Decode(&t)
	if err == mgo.ErrNoDocuments {
		return nil, store.ErrTxNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("could not read transaction: %w", err)
	}

	return t.transaction()
}

func (m *Mongo) findTxs(ctx context.Context, filter bson.M, offset, limit int) ([]store.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cur, err := m.transactions().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("could not query transactions: %w", err)
	}

	raw := []mongoTx{}
	if err = cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("could not read transactions: %w", err)
	}

	ts := make([]store.Transaction, 0, len(raw))

	for i := range raw {
		t, err := raw[i].transaction()
		if err != nil {
			return nil, err
		}

		ts = append(ts, *t)
	}

	return ts, nil
}

func activeWallet(address string) bson.M {
	return bson.M{"address": address, "deleted_at": nil}
}

func addressFilter(address string) bson.M {
	return bson.M{"$or": []bson.M{{"from_address": address}, {"to_address": address}}}
}
