// Package network implements the Network Registry (C1): resolution of
// human-readable or CAIP-2 network identifiers to an immutable NetworkConfig.
package network

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/x402x/facilitator/internal/evmchain"
)

// UnsupportedNetworkError is returned for any identifier the registry
// cannot resolve, per §4.1.
type UnsupportedNetworkError struct {
	Identifier string
}

func (e *UnsupportedNetworkError) Error() string {
	return fmt.Sprintf("network: unsupported network %q", e.Identifier)
}

// Registry resolves network identifiers to NetworkConfig and is the only
// component that understands chain-id arithmetic or human aliases;
// everything downstream consumes NetworkConfig only.
type Registry struct {
	mu       sync.RWMutex
	byCAIP2  map[string]*evmchain.NetworkConfig
	aliases  map[string]string // alias -> canonical CAIP-2
	resolved sync.Map          // input identifier -> canonical CAIP-2, caches resolution (§4.1)
}

// New builds an empty registry; call Register for each enabled network.
func New() *Registry {
	return &Registry{
		byCAIP2: make(map[string]*evmchain.NetworkConfig),
		aliases: make(map[string]string),
	}
}

// Register adds a network under its canonical CAIP-2 key plus any number of
// human-readable aliases (e.g. "base-sepolia").
func (r *Registry) Register(cfg *evmchain.NetworkConfig, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	caip2 := normalizeCAIP2(cfg.CAIP2)
	cfg.CAIP2 = caip2
	r.byCAIP2[caip2] = cfg
	r.aliases[caip2] = caip2
	for _, alias := range aliases {
		r.aliases[strings.ToLower(alias)] = caip2
	}
}

// Resolve maps a human or CAIP-2 identifier to its NetworkConfig, caching
// the resolution. Returns UnsupportedNetworkError for unknown input.
func (r *Registry) Resolve(identifier string) (*evmchain.NetworkConfig, error) {
	if cached, ok := r.resolved.Load(identifier); ok {
		return r.lookup(cached.(string), identifier)
	}

	key := strings.ToLower(strings.TrimSpace(identifier))

	r.mu.RLock()
	canonical, ok := r.aliases[key]
	r.mu.RUnlock()

	if !ok {
		// Accept a raw CAIP-2 string even if never explicitly aliased, as
		// long as the chain ID behind it is registered under some alias.
		if chainID, err := chainIDFromCAIP2(key); err == nil {
			r.mu.RLock()
			for c, cfg := range r.byCAIP2 {
				if cfg.ChainID.Cmp(chainID) == 0 {
					canonical = c
					ok = true
					break
				}
			}
			r.mu.RUnlock()
		}
	}

	if !ok {
		return nil, &UnsupportedNetworkError{Identifier: identifier}
	}

	r.resolved.Store(identifier, canonical)
	return r.lookup(canonical, identifier)
}

func (r *Registry) lookup(canonical, original string) (*evmchain.NetworkConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byCAIP2[canonical]
	if !ok {
		return nil, &UnsupportedNetworkError{Identifier: original}
	}
	return cfg, nil
}

// Supported returns every registered NetworkConfig, used by the HTTP
// surface's /supported handler — enabling a network automatically makes it
// visible there. The result is sorted by CAIP-2 identifier, so repeated
// calls list the networks in the same order.
func (r *Registry) Supported() []*evmchain.NetworkConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*evmchain.NetworkConfig, 0, len(r.byCAIP2))
	for _, cfg := range r.byCAIP2 {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CAIP2 < out[j].CAIP2 })
	return out
}

func normalizeCAIP2(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func chainIDFromCAIP2(s string) (*big.Int, error) {
	const prefix = "eip155:"
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("network: not a CAIP-2 identifier: %q", s)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(s, prefix), 10, 64)
	if err != nil {
		return nil, err
	}
	return big.NewInt(n), nil
}
