package sent

import (
	"math/big"
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/clock"

	"github.com/ethereum/go-ethereum/common"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusDenied    Status = "DENIED"
)

type Asset struct {
	Contract common.Address
	TokenID  string
	Name     string
	Image    string
}

// Transaction is a purchase submitted by this session. PriorityFee holds the
// submitted fee cap and MaxPriorityFeePerGas the submitted tip, both in wei.
type Transaction struct {
	Hash                 common.Hash
	Asset                Asset
	PriorityFee          *big.Int
	MaxPriorityFeePerGas *big.Int
	SessionBlock         uint64
	AddedAt              time.Time
	UpdatedAt            time.Time
	Status               Status
}

type Config struct {
	TTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 120 * time.Second
	}
	return c
}

type entry struct {
	tx    Transaction
	timer clock.Timer
}

// Registry tracks self-submitted transactions for TTL after creation,
// whatever their status.
type Registry struct {
	clk clock.Clock
	cfg Config

	mu        sync.Mutex
	entries   []*entry
	listeners []func(Transaction)
}

func NewRegistry(clk clock.Clock, cfg Config) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{clk: clk, cfg: cfg.withDefaults()}
}

// OnChange registers f for additions and status updates.
func (r *Registry) OnChange(f func(Transaction)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, f)
}

// Add records tx as PENDING unless a status is set. A second Add for the
// same hash replaces the first.
func (r *Registry) Add(tx Transaction) Transaction {
	now := r.clk.Now()
	tx.AddedAt = now
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = StatusPending
	}

	e := &entry{tx: tx}

	r.mu.Lock()
	r.removeLocked(tx.Hash)
	r.entries = append(r.entries, e)
	e.timer = r.clk.AfterFunc(r.cfg.TTL, func() { r.expire(e) })
	listeners := append([]func(Transaction){}, r.listeners...)
	r.mu.Unlock()

	for _, f := range listeners {
		f(tx)
	}
	return tx
}

func (r *Registry) expire(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.entries {
		if cur == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *Registry) removeLocked(hash common.Hash) {
	for i, cur := range r.entries {
		if cur.tx.Hash == hash {
			if cur.timer != nil {
				cur.timer.Stop()
			}
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// SetStatus reports whether hash was known.
func (r *Registry) SetStatus(hash common.Hash, st Status) bool {
	now := r.clk.Now()

	r.mu.Lock()
	var (
		out   Transaction
		found bool
	)
	for _, e := range r.entries {
		if e.tx.Hash == hash && r.liveLocked(e, now) {
			if e.tx.Status == st {
				r.mu.Unlock()
				return true
			}
			e.tx.Status = st
			e.tx.UpdatedAt = now
			out, found = e.tx, true
			break
		}
	}
	listeners := append([]func(Transaction){}, r.listeners...)
	r.mu.Unlock()

	if !found {
		return false
	}
	for _, f := range listeners {
		f(out)
	}
	return true
}

func (r *Registry) liveLocked(e *entry, now time.Time) bool {
	return now.Sub(e.tx.AddedAt) < r.cfg.TTL
}

// Snapshot returns live entries in insertion order.
func (r *Registry) Snapshot() []Transaction {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Transaction, 0, len(r.entries))
	for _, e := range r.entries {
		if r.liveLocked(e, now) {
			out = append(out, e.tx)
		}
	}
	return out
}

func (r *Registry) Get(hash common.Hash) (Transaction, bool) {
	for _, tx := range r.Snapshot() {
		if tx.Hash == hash {
			return tx, true
		}
	}
	return Transaction{}, false
}

func (r *Registry) ForItem(contract common.Address, tokenID string) []Transaction {
	var out []Transaction
	for _, tx := range r.Snapshot() {
		if tx.Asset.Contract == contract && tx.Asset.TokenID == tokenID {
			out = append(out, tx)
		}
	}
	return out
}

func (r *Registry) Pending() []Transaction {
	var out []Transaction
	for _, tx := range r.Snapshot() {
		if tx.Status == StatusPending {
			out = append(out, tx)
		}
	}
	return out
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	r.entries = nil
}
