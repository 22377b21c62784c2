// Package wallet implements the custodial wallet service: batch
// provisioning, lookup, listing, deactivation and balances.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-tech/walletd/domain"
	"github.com/custodia-tech/walletd/lib/assets"
	"github.com/custodia-tech/walletd/lib/chain"
	"github.com/custodia-tech/walletd/lib/store"
)

// MaxBatchSize bounds the number of wallets one provisioning request may
// create, keeping the key-generation fan-out and the batch insert bounded.
const MaxBatchSize = 100

// Service manages custodial wallets on the active network.
type Service struct {
	db     store.DB
	chains map[string]chain.Client
	reg    *assets.Registry
	log    zerolog.Logger
}

// New creates a wallet service.
func New(db store.DB, chains map[string]chain.Client, reg *assets.Registry, log zerolog.Logger) *Service {
	return &Service{db: db, chains: chains, reg: reg, log: log.With().Str("svc", "wallet").Logger()}
}

func (s *Service) client() (chain.Client, error) {
	c, ok := s.chains[s.reg.CurrentNetwork()]
	if !ok {
		return nil, domain.EvmServiceError("resolving chain client",
			fmt.Errorf("no client for network %s", s.reg.CurrentNetwork()))
	}

	return c, nil
}

// Provision creates n wallets as one all-or-nothing batch: keys are generated
// concurrently, and either every wallet is persisted or none is.
func (s *Service) Provision(ctx context.Context, n int) ([]store.Wallet, error) {
	if n < 1 || n > MaxBatchSize {
		return nil, domain.InvalidWalletCount(n, MaxBatchSize)
	}

	c, err := s.client()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ws := make([]store.Wallet, n)

	g, _ := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		i := i

		g.Go(func() error {
			kp, err := c.CreateKeyPair()
			if err != nil {
				return domain.EvmServiceError("creating wallet", err)
			}

			ws[i] = store.Wallet{
				ID:         uuid.New(),
				Address:    kp.Address,
				PrivateKey: kp.PrivateKey,
				Status:     store.WalletActive,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			return nil
		})
	}

	// any failed task fails the whole batch with one aggregated error
	// carrying the first cause
	if err := g.Wait(); err != nil {
		return nil, domain.BatchOperationError("wallet creation", err)
	}

	if err := s.db.InsertWallets(ctx, ws); err != nil {
		return nil, domain.BatchOperationError("wallet creation", domain.PersistenceError("persisting wallets", err))
	}

	s.log.Info().Int("count", n).Msg("wallets provisioned")

	return ws, nil
}

// ByAddress returns the active wallet for the given address.
func (s *Service) ByAddress(ctx context.Context, address string) (*store.Wallet, error) {
	if address == "" {
		return nil, domain.EmptyAddress("Wallet address")
	}

	w, err := s.db.WalletByAddress(ctx, address)
	if errors.Is(err, store.ErrWalletNotFound) {
		return nil, domain.WalletNotFound(address)
	}

	if err != nil {
		return nil, domain.PersistenceError("reading wallet", err)
	}

	return w, nil
}

// List returns one page of active wallets together with pagination metadata.
// The page and the total count are fetched concurrently.
func (s *Service) List(ctx context.Context, page, limit int) ([]store.Wallet, domain.Pagination, error) {
	if err := domain.ValidatePage(page, limit); err != nil {
		return nil, domain.Pagination{}, err
	}

	var (
		ws    []store.Wallet
		total int
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		ws, err = s.db.Wallets(gctx, domain.Offset(page, limit), limit)

		return err
	})

	g.Go(func() (err error) {
		total, err = s.db.CountWallets(gctx)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, domain.Pagination{}, domain.PersistenceError("listing wallets", err)
	}

	return ws, domain.Paginate(int64(total), page, limit), nil
}

// Remove deactivates the wallet. The record and its key material stay in
// store so past transactions remain attributable.
func (s *Service) Remove(ctx context.Context, address string) (*store.Wallet, error) {
	if address == "" {
		return nil, domain.EmptyAddress("Wallet address")
	}

	w, err := s.db.DeactivateWallet(ctx, address)
	if errors.Is(err, store.ErrWalletNotFound) {
		return nil, domain.WalletNotFound(address)
	}

	if err != nil {
		return nil, domain.PersistenceError("deactivating wallet", err)
	}

	s.log.Info().Str("address", address).Msg("wallet deactivated")

	return w, nil
}

// Balance returns the on-chain balance of the wallet for the given asset in
// decimal units. The wallet must exist in store.
func (s *Service) Balance(ctx context.Context, address, asset string) (decimal.Decimal, error) {
	if _, err := s.ByAddress(ctx, address); err != nil {
		return decimal.Zero, err
	}

	if asset == "" {
		asset = s.reg.NativeSymbol()
	}

	a, ok := s.reg.Get(asset)
	if !ok {
		return decimal.Zero, domain.AssetUnsupported(asset, s.reg.CurrentNetwork())
	}

	c, err := s.client()
	if err != nil {
		return decimal.Zero, err
	}

	if a.Native {
		bal, err := c.NativeBalance(ctx, address)
		if err != nil {
			return decimal.Zero, domain.EvmServiceError("reading native balance", err)
		}

		return bal, nil
	}

	contract, err := s.reg.ContractAddress(asset)
	if err != nil {
		return decimal.Zero, err
	}

	bal, err := c.TokenBalance(ctx, address, contract)
	if err != nil {
		return decimal.Zero, domain.EvmServiceError("reading token balance", err)
	}

	return bal, nil
}
