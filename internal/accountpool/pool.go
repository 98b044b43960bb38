// Package accountpool implements the Account Pool (C7): the concurrency
// core of the facilitator. Each signing account owns a single-consumer
// serial queue (so on-chain nonces stay monotonic); account selection for
// new work is round-robin with overflow to the next account, and a second
// concurrent request from the same payer to the same queue is rejected
// outright.
package accountpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/x402x/facilitator/internal/evmchain"
)

// QueueOverloadError is returned when every account's queue is at
// MAX_QUEUE_DEPTH; the HTTP layer maps this to 503 with Retry-After: 60.
type QueueOverloadError struct{ Network string }

func (e *QueueOverloadError) Error() string {
	return "accountpool: all account queues full for network " + e.Network
}

// DuplicatePayerError is returned when payer already has work enqueued on
// the account that would otherwise accept this request; the HTTP layer
// maps this to 429 with Retry-After: 10.
type DuplicatePayerError struct{ Payer common.Address }

func (e *DuplicatePayerError) Error() string {
	return "accountpool: payer " + e.Payer.Hex() + " already has work enqueued"
}

// ErrPoolClosed is returned by Submit once Shutdown has begun.
var ErrPoolClosed = errors.New("accountpool: pool is shutting down")

// ErrAborted is the terminal error given to work that was still queued (not
// yet dispatched) when the shutdown grace window elapsed.
var ErrAborted = errors.New("accountpool: aborted by shutdown")

// Task is the unit of work a dispatched queue item runs: it receives the
// account's Signer and must return a result plus error. Tasks run to
// completion once dispatched; the on-chain effect they trigger is never
// cancelled (§4.7 Cancellation).
type Task func(ctx context.Context, signer evmchain.Signer) (any, error)

type workItem struct {
	ctx    context.Context
	payer  common.Address
	task   Task
	result chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// account is one signing account's queue and consumer loop.
type account struct {
	signer evmchain.Signer

	mu     sync.Mutex
	payers map[common.Address]bool
	closed bool

	work chan *workItem
}

func newAccount(signer evmchain.Signer, maxDepth int) *account {
	a := &account{
		signer: signer,
		payers: make(map[common.Address]bool),
		work:   make(chan *workItem, maxDepth),
	}
	go a.run()
	return a
}

func (a *account) run() {
	for item := range a.work {
		a.mu.Lock()
		closedEarly := a.closed
		a.mu.Unlock()

		if closedEarly {
			item.result <- taskResult{err: ErrAborted}
			a.removePayer(item.payer)
			continue
		}

		val, err := item.task(item.ctx, a.signer)
		item.result <- taskResult{value: val, err: err}
		a.removePayer(item.payer)
	}
}

// tryEnqueue attempts to add item to this account's queue, enforcing the
// duplicate-payer guard and the queue-depth bound. Returns false (without
// mutating state) if the queue is full so the pool can try the next
// account.
func (a *account) tryEnqueue(item *workItem) (ok bool, dup bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false, false
	}
	if a.payers[item.payer] {
		return false, true
	}
	if len(a.payers) >= cap(a.work) {
		return false, false
	}

	a.payers[item.payer] = true
	select {
	case a.work <- item:
		return true, false
	default:
		delete(a.payers, item.payer)
		return false, false
	}
}

func (a *account) removePayer(payer common.Address) {
	a.mu.Lock()
	delete(a.payers, payer)
	a.mu.Unlock()
}

func (a *account) shutdown() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	close(a.work)
}

// Pool is the per-network pool of signing accounts.
type Pool struct {
	network  string
	accounts []*account
	next     uint64 // round-robin cursor, advanced atomically
	closed   atomic.Bool
}

// New builds a Pool over the given signers for one network, each account
// bounded to maxQueueDepth in-flight items.
func New(network string, signers []evmchain.Signer, maxQueueDepth int) *Pool {
	accounts := make([]*account, 0, len(signers))
	for _, s := range signers {
		accounts = append(accounts, newAccount(s, maxQueueDepth))
	}
	return &Pool{network: network, accounts: accounts}
}

// Submit enqueues task for execution on the next available account by
// round-robin, with overflow to subsequent accounts when one's queue is
// full, and waits for its result. Returns QueueOverloadError if every
// account is full, or DuplicatePayerError if payer already has work
// enqueued on the account that would have accepted it.
func (p *Pool) Submit(ctx context.Context, payer common.Address, task Task) (any, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if len(p.accounts) == 0 {
		return nil, &QueueOverloadError{Network: p.network}
	}

	item := &workItem{ctx: ctx, payer: payer, task: task, result: make(chan taskResult, 1)}

	start := int(atomic.AddUint64(&p.next, 1) % uint64(len(p.accounts)))
	sawDuplicate := false
	for i := 0; i < len(p.accounts); i++ {
		idx := (start + i) % len(p.accounts)
		ok, dup := p.accounts[idx].tryEnqueue(item)
		if ok {
			select {
			case res := <-item.result:
				return res.value, res.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if dup {
			sawDuplicate = true
		}
	}

	if sawDuplicate {
		return nil, &DuplicatePayerError{Payer: payer}
	}
	return nil, &QueueOverloadError{Network: p.network}
}

// ErrAccountNotFound is returned by SubmitTo when no account in the pool
// matches the requested address.
var ErrAccountNotFound = errors.New("accountpool: no account with that address in this pool")

// SubmitTo enqueues task on the specific account addressed by accountAddr,
// bypassing round-robin dispatch. Used by the fee-claim module, where a
// claimFees call must run as a particular facilitator account rather than
// whichever account is next in rotation. The duplicate-payer guard keys on
// accountAddr itself, so a second concurrent claim against the same account
// is rejected the same way a second payment from the same payer would be.
func (p *Pool) SubmitTo(ctx context.Context, accountAddr common.Address, task Task) (any, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	for _, a := range p.accounts {
		if a.signer.Address() != accountAddr {
			continue
		}
		item := &workItem{ctx: ctx, payer: accountAddr, task: task, result: make(chan taskResult, 1)}
		ok, dup := a.tryEnqueue(item)
		if dup {
			return nil, &DuplicatePayerError{Payer: accountAddr}
		}
		if !ok {
			return nil, &QueueOverloadError{Network: p.network}
		}
		select {
		case res := <-item.result:
			return res.value, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrAccountNotFound
}

// AccountAddresses returns the EVM address of every account in the pool,
// used by GetSupported-style reporting.
func (p *Pool) AccountAddresses() []common.Address {
	out := make([]common.Address, 0, len(p.accounts))
	for _, a := range p.accounts {
		out = append(out, a.signer.Address())
	}
	return out
}

// Shutdown stops accepting new work, waits up to gracePeriod for queued
// items to drain, then aborts any residual queued items with ErrAborted.
// Dispatched-but-not-yet-finished items are never aborted; Shutdown waits
// for them to complete naturally within gracePeriod, same as any other
// queued item ahead of them.
func (p *Pool) Shutdown(gracePeriod time.Duration) {
	p.closed.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, a := range p.accounts {
			for {
				a.mu.Lock()
				n := len(a.work)
				a.mu.Unlock()
				if n == 0 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
	}

	for _, a := range p.accounts {
		a.shutdown()
	}
}
