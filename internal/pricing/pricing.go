// Package pricing implements C5: the gas-price and native-token USD-price
// caches. Both expose a synchronous Get that serves the cached value and, on
// a miss, fetches from the source inline (falling back to the static value
// on error); a background refresher also re-fetches periodically.
package pricing

import (
	"context"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/x402x/facilitator/internal/cache"
)

// GasPriceSource fetches the current gas price for a network, e.g. via
// ethclient.SuggestGasPrice.
type GasPriceSource func(ctx context.Context, network string) (*big.Int, error)

// TokenPriceSource fetches the native token's current USD price.
type TokenPriceSource func(ctx context.Context, symbol string) (float64, error)

const (
	gasPriceTTL       = 300 * time.Second
	gasPriceRefresh   = 60 * time.Second
	tokenPriceTTL     = 3600 * time.Second
	tokenPriceRefresh = 600 * time.Second
)

// GasPriceCache implements §4.5's gas price cache: configurable strategy
// (this implementation always attempts a live fetch — "hybrid" in the
// spec's terms — falling back to the configured static value on failure).
type GasPriceCache struct {
	cache    *cache.TTLCache[string, *big.Int]
	source   GasPriceSource
	fallback map[string]*big.Int
}

// NewGasPriceCache builds a cache with the §4.5 default TTL.
func NewGasPriceCache(source GasPriceSource, fallback map[string]*big.Int) *GasPriceCache {
	return &GasPriceCache{
		cache:    cache.New[string, *big.Int](1000, gasPriceTTL),
		source:   source,
		fallback: fallback,
	}
}

// Get returns the current gas price for network, refreshing synchronously
// if no cached value exists yet (the background refresher keeps the common
// case from ever reaching this path).
func (c *GasPriceCache) Get(ctx context.Context, network string) (*big.Int, error) {
	if v, ok := c.cache.Get(network); ok {
		return v, nil
	}
	return c.refresh(ctx, network)
}

func (c *GasPriceCache) refresh(ctx context.Context, network string) (*big.Int, error) {
	price, err := c.source(ctx, network)
	if err != nil {
		if fb, ok := c.fallback[network]; ok {
			c.cache.Set(network, fb)
			return fb, nil
		}
		return nil, err
	}
	c.cache.Set(network, price)
	return price, nil
}

// RunBackgroundRefresh refreshes every tracked network's price every
// gasPriceRefresh interval until ctx is cancelled. Errors from individual
// networks are swallowed (the fallback stays in place); this only stops on
// context cancellation.
func (c *GasPriceCache) RunBackgroundRefresh(ctx context.Context, networks []string) {
	ticker := time.NewTicker(gasPriceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g, gctx := errgroup.WithContext(ctx)
			for _, n := range networks {
				n := n
				g.Go(func() error {
					_, _ = c.refresh(gctx, n)
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}

// TokenPriceCache implements §4.5's native-token USD price cache.
type TokenPriceCache struct {
	cache    *cache.TTLCache[string, float64]
	source   TokenPriceSource
	fallback map[string]float64
}

// NewTokenPriceCache builds a cache with the §4.5 default TTL.
func NewTokenPriceCache(source TokenPriceSource, fallback map[string]float64) *TokenPriceCache {
	return &TokenPriceCache{
		cache:    cache.New[string, float64](1000, tokenPriceTTL),
		source:   source,
		fallback: fallback,
	}
}

// Get returns the native token's current USD price for symbol.
func (c *TokenPriceCache) Get(ctx context.Context, symbol string) (float64, error) {
	if v, ok := c.cache.Get(symbol); ok {
		return v, nil
	}
	return c.refresh(ctx, symbol)
}

func (c *TokenPriceCache) refresh(ctx context.Context, symbol string) (float64, error) {
	price, err := c.source(ctx, symbol)
	if err != nil {
		if fb, ok := c.fallback[symbol]; ok {
			c.cache.Set(symbol, fb)
			return fb, nil
		}
		return 0, err
	}
	c.cache.Set(symbol, price)
	return price, nil
}

// RunBackgroundRefresh mirrors GasPriceCache's refresher at the token-price
// cadence.
func (c *TokenPriceCache) RunBackgroundRefresh(ctx context.Context, symbols []string) {
	ticker := time.NewTicker(tokenPriceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g, gctx := errgroup.WithContext(ctx)
			for _, s := range symbols {
				s := s
				g.Go(func() error {
					_, _ = c.refresh(gctx, s)
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}
