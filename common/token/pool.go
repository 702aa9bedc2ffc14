package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.ValueTransfer = &Pool{}

// Pool is an in-process fungible asset: balances plus per-spender allowances. TransferFrom debits and credits in one
// step and refuses with models.ErrInsufficientFunds rather than going negative.
type Pool struct {
	name       string
	spender    models.Identity
	mu         sync.Mutex
	balances   map[models.Identity]uint64
	allowances map[models.Identity]uint64
}

// NewPool creates a pool whose TransferFrom calls are made by spender, normally the ledger's own identity.
func NewPool(name string, spender models.Identity) *Pool {
	return &Pool{
		name:       name,
		spender:    spender,
		balances:   make(map[models.Identity]uint64),
		allowances: make(map[models.Identity]uint64),
	}
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Mint(owner models.Identity, amount uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balances[owner] += amount
}

// Approve sets how much the spender may move out of owner's balance.
func (p *Pool) Approve(owner models.Identity, amount uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.allowances[owner] = amount
}

func (p *Pool) Allowance(owner models.Identity) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.allowances[owner]
}

func (p *Pool) BalanceOf(_ context.Context, owner models.Identity) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.balances[owner], nil
}

func (p *Pool) TransferFrom(_ context.Context, from, to models.Identity, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balances[from] < amount {
		return fmt.Errorf("%s: balance of %s is %d, need %d: %w", p.name, from, p.balances[from], amount, models.ErrInsufficientFunds)
	}
	if p.allowances[from] < amount {
		return fmt.Errorf("%s: %s allows %s to spend %d, need %d: %w", p.name, from, p.spender, p.allowances[from], amount, models.ErrInsufficientFunds)
	}
	p.balances[from] -= amount
	p.allowances[from] -= amount
	p.balances[to] += amount
	return nil
}

var _ models.ValueSourceRegistry = &Registry{}

type Registry struct {
	mu      sync.RWMutex
	sources map[string]models.ValueTransfer
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]models.ValueTransfer)}
}

func (r *Registry) Register(name string, source models.ValueTransfer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources[name] = source
}

func (r *Registry) ValueSource(name string) (models.ValueTransfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if source, found := r.sources[name]; found {
		return source, nil
	}
	return nil, fmt.Errorf("value source %q is not registered", name)
}
