package accountpool

import "time"

// Registry is the multi-network Pools implementation: one Pool per enabled
// network, looked up by CAIP-2 identifier. It satisfies the Pools interface
// each of settlement.Engine, legacyv1.Engine, and feeclaim.Claimer declare
// independently.
type Registry struct {
	pools map[string]*Pool
}

// NewRegistry builds a Registry from a fixed set of per-network pools,
// assembled once at startup from the operator's signer configuration.
func NewRegistry(pools map[string]*Pool) *Registry {
	return &Registry{pools: pools}
}

// Pool returns the pool registered for network, if any.
func (r *Registry) Pool(network string) (*Pool, bool) {
	p, ok := r.pools[network]
	return p, ok
}

// Shutdown drains every pool, giving each up to gracePeriod.
func (r *Registry) Shutdown(gracePeriod time.Duration) {
	for _, p := range r.pools {
		p.Shutdown(gracePeriod)
	}
}
