// Package domain holds the error taxonomy and shared value types used across
// the wallet and transaction services.
//
// Errors are grouped into four kinds so that boundary layers can switch
// exhaustively: validation errors (detectable before any side effect),
// not-found errors, integrity errors (business-rule violations) and
// infrastructure errors (wrapped causes from the chain client, the store or
// the message broker).
package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation error codes.
const (
	CodeInvalidNetwork     = "invalid_network"
	CodeInvalidAmount      = "invalid_amount"
	CodeSameAddress        = "same_address"
	CodeEmptyAddress       = "empty_address"
	CodeInvalidPagination  = "invalid_pagination"
	CodeAssetUnsupported   = "asset_unsupported"
	CodeInvalidWalletCount = "invalid_wallet_count"
)

// Integrity error codes.
const (
	CodeInsufficientBalance = "insufficient_balance"
	CodeInvalidPrivateKey   = "invalid_private_key"
)

// Infrastructure error classes.
const (
	ClassPersistence        = "persistence"
	ClassEvmService         = "evm service"
	ClassBatchOperation     = "batch operation"
	ClassSendOutcomeUnknown = "send outcome unknown"
)

// ValidationError is raised when a request fails local validation, before any
// chain or store side effect. It is never retried.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError is raised when a referenced resource does not exist.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

// IntegrityError is raised when a business rule is violated by otherwise
// well-formed input.
type IntegrityError struct {
	Code    string
	Message string
}

func (e *IntegrityError) Error() string { return e.Message }

// InfrastructureError wraps a failure of an external collaborator. Op names
// the operation that failed so that a persistence failure after a successful
// on-chain send stays distinguishable from one before it.
type InfrastructureError struct {
	Class string
	Op    string
	Err   error
}

func (e *InfrastructureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error %s", e.Class, e.Op)
	}

	return fmt.Sprintf("%s error %s: %v", e.Class, e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Validation error constructors.

func InvalidNetwork(network string) error {
	return &ValidationError{Code: CodeInvalidNetwork, Message: fmt.Sprintf("network %q is not configured", network)}
}

func InvalidAmount(amount decimal.Decimal) error {
	return &ValidationError{Code: CodeInvalidAmount, Message: fmt.Sprintf("amount must be greater than 0, got %s", amount)}
}

func SameAddress(address string) error {
	return &ValidationError{Code: CodeSameAddress, Message: fmt.Sprintf("from and to address are both %s", address)}
}

// EmptyAddress flags a missing required field; field is the human name of the
// field, e.g. "From address", "To address" or "Transaction hash".
func EmptyAddress(field string) error {
	return &ValidationError{Code: CodeEmptyAddress, Message: field + " cannot be empty"}
}

func InvalidPagination(message string) error {
	return &ValidationError{Code: CodeInvalidPagination, Message: message}
}

func AssetUnsupported(asset, network string) error {
	return &ValidationError{Code: CodeAssetUnsupported, Message: fmt.Sprintf("asset %s is not available on network %s", asset, network)}
}

func InvalidWalletCount(n, maxBatch int) error {
	return &ValidationError{
		Code:    CodeInvalidWalletCount,
		Message: fmt.Sprintf("number of wallets must be between 1 and %d, got %d", maxBatch, n),
	}
}

// Resource error constructors.

func WalletNotFound(address string) error {
	return &NotFoundError{Resource: "wallet", Key: address}
}

func TransactionNotFound(key string) error {
	return &NotFoundError{Resource: "transaction", Key: key}
}

// Integrity error constructors.

func InsufficientBalance(asset string, balance, amount decimal.Decimal) error {
	return &IntegrityError{
		Code:    CodeInsufficientBalance,
		Message: fmt.Sprintf("insufficient %s balance: have %s, need %s", asset, balance, amount),
	}
}

func InvalidPrivateKey(address string) error {
	return &IntegrityError{
		Code:    CodeInvalidPrivateKey,
		Message: fmt.Sprintf("wallet %s has no usable key material", address),
	}
}

// Infrastructure error constructors.

func PersistenceError(op string, err error) error {
	return &InfrastructureError{Class: ClassPersistence, Op: op, Err: err}
}

func EvmServiceError(op string, err error) error {
	return &InfrastructureError{Class: ClassEvmService, Op: op, Err: err}
}

func BatchOperationError(op string, err error) error {
	return &InfrastructureError{Class: ClassBatchOperation, Op: op, Err: err}
}

// SendOutcomeUnknown marks a send whose RPC call failed in a way that leaves
// the broadcast state unknown. It must never be retried automatically; the
// caller should poll by hash instead.
func SendOutcomeUnknown(err error) error {
	return &InfrastructureError{Class: ClassSendOutcomeUnknown, Op: "sending transaction", Err: err}
}

// Kind predicates used by the REST boundary to map errors to status codes.

func IsValidation(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError

	return errors.As(err, &nf)
}

func IsIntegrity(err error) bool {
	var ie *IntegrityError

	return errors.As(err, &ie)
}

// IsPersistence reports whether err is an infrastructure error of the
// persistence class, which the boundary surfaces as service-unavailable.
func IsPersistence(err error) bool {
	var inf *InfrastructureError
	if !errors.As(err, &inf) {
		return false
	}

	return inf.Class == ClassPersistence
}
