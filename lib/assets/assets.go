// Package assets resolves asset symbols to their native/ERC-20 classification
// and per-network contract addresses, and resolves the active network. The
// registry is loaded from configuration once and is read-only at runtime.
package assets

import (
	"fmt"
	"strings"

	"github.com/custodia-tech/walletd/domain"
	"github.com/custodia-tech/walletd/lib/config"
	"github.com/custodia-tech/walletd/lib/util"
)

// Asset is one configured transferable asset.
type Asset struct {
	Symbol    string
	Native    bool
	Contracts map[string]string // network name -> contract address
}

// Registry holds the configured networks and assets for the service.
type Registry struct {
	current  string
	networks []string
	native   string
	assets   map[string]Asset
	// byContract maps lowercased contract address to symbol, per the
	// current network only.
	byContract map[string]string
}

// New builds a Registry from the service configuration. It fails when the
// active network is not among the configured networks or when an ERC-20
// contract address is malformed.
func New(conf config.ServiceConfig) (*Registry, error) {
	r := &Registry{
		current:    conf.CurrentNetwork,
		native:     conf.NativeAsset,
		assets:     make(map[string]Asset, len(conf.Assets)),
		byContract: make(map[string]string),
	}

	for _, n := range conf.Networks {
		r.networks = append(r.networks, n.Name)
	}

	if !util.In(r.networks, r.current) {
		return nil, fmt.Errorf("current network %q is not a configured network", r.current)
	}

	for _, a := range conf.Assets {
		asset := Asset{Symbol: a.Symbol, Native: a.Native, Contracts: a.Contracts}

		for net, addr := range a.Contracts {
			if !util.IsHexAddress(addr) {
				return nil, fmt.Errorf("asset %s has malformed contract address %q on %s", a.Symbol, addr, net)
			}

			if net == r.current {
				r.byContract[strings.ToLower(addr)] = a.Symbol
			}
		}

		r.assets[a.Symbol] = asset
	}

	return r, nil
}

// CurrentNetwork returns the active network name.
func (r *Registry) CurrentNetwork() string { return r.current }

// Networks returns the configured network names.
func (r *Registry) Networks() []string { return r.networks }

// HasNetwork returns true when name is a configured network.
func (r *Registry) HasNetwork(name string) bool { return util.In(r.networks, name) }

// NativeSymbol returns the distinguished native asset symbol.
func (r *Registry) NativeSymbol() string { return r.native }

// Symbols returns all configured asset symbols.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.assets))
	for s := range r.assets {
		out = append(out, s)
	}

	return out
}

// Get returns the asset for symbol, or false when it is not configured.
func (r *Registry) Get(symbol string) (Asset, bool) {
	a, ok := r.assets[symbol]

	return a, ok
}

// ContractAddress resolves the contract address of an ERC-20 asset on the
// active network. It fails with AssetUnsupported when the asset is unknown,
// native, or not deployed on the active network.
func (r *Registry) ContractAddress(symbol string) (string, error) {
	a, ok := r.assets[symbol]
	if !ok || a.Native {
		return "", domain.AssetUnsupported(symbol, r.current)
	}

	addr, ok := a.Contracts[r.current]
	if !ok {
		return "", domain.AssetUnsupported(symbol, r.current)
	}

	return addr, nil
}

// SymbolByContract reverse-resolves a contract address on the active network
// to its configured asset symbol.
func (r *Registry) SymbolByContract(contract string) (string, bool) {
	s, ok := r.byContract[strings.ToLower(contract)]

	return s, ok
}
