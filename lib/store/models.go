package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet lifecycle statuses.
const (
	WalletActive   = "ACTIVE"
	WalletInactive = "INACTIVE"
)

// Transaction lifecycle statuses.
const (
	TxPending   = "PENDING"
	TxCompleted = "COMPLETED"
	TxFailed    = "FAILED"
)

// Wallet contains the fields for a custodial wallet saved to DB. PrivateKey
// holds the hex key material and never leaves the service.
type Wallet struct {
	ID         uuid.UUID  `json:"id" bson:"_id"`
	Address    string     `json:"address" bson:"address"`
	PrivateKey string     `json:"-" bson:"private_key"`
	Status     string     `json:"status" bson:"status"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" bson:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
}

// Transaction contains the fields for a ledger transaction saved to DB.
// Amount is in decimal asset units, not raw chain units.
type Transaction struct {
	ID          uuid.UUID       `json:"id" bson:"_id"`
	TxHash      string          `json:"tx_hash" bson:"tx_hash"`
	Asset       string          `json:"asset" bson:"asset"`
	Network     string          `json:"network" bson:"network"`
	FromAddress string          `json:"from_address" bson:"from_address"`
	ToAddress   string          `json:"to_address" bson:"to_address"`
	Amount      decimal.Decimal `json:"amount" bson:"-"`
	GasPrice    int64           `json:"gas_price" bson:"gas_price"`
	GasLimit    int64           `json:"gas_limit" bson:"gas_limit"`
	Status      string          `json:"status" bson:"status"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" bson:"updated_at"`
}
