package pending

import (
	"bytes"
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/clock"

	"github.com/ethereum/go-ethereum/common"
)

// Source is the upstream pending-transaction feed.
type Source interface {
	Subscribe(ctx context.Context, contracts []common.Address, handle func(Candidate)) (Subscription, error)
}

type Subscription interface {
	Close() error
}

type BlockSource interface {
	SessionBlockNumber() uint64
}

type TrackerConfig struct {
	MaxAge time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = 60 * time.Second
	}
	return c
}

// Tracker keeps a rolling window of competing pending transactions for the
// watched contracts and holds the upstream subscription only while useful.
type Tracker struct {
	clk    clock.Clock
	blocks BlockSource
	source Source
	cfg    TrackerConfig
	spawn  func(func())

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	watched    map[common.Address]struct{}
	watchKey   string
	txs        []Transaction
	active     bool
	idle       bool
	sub        Subscription
	subKey     string
	subGen     uint64
	connecting bool
	connectKey string
	listeners  []func(Transaction)
}

func NewTracker(clk clock.Clock, blocks BlockSource, source Source, cfg TrackerConfig) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		clk:     clk,
		blocks:  blocks,
		source:  source,
		cfg:     cfg.withDefaults(),
		spawn:   func(f func()) { go f() },
		ctx:     ctx,
		cancel:  cancel,
		watched: make(map[common.Address]struct{}),
	}
}

func (t *Tracker) Subscribe(f func(Transaction)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, f)
}

func (t *Tracker) SetWatched(addrs []common.Address) {
	sorted := append([]common.Address(nil), addrs...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i].Bytes(), sorted[j].Bytes()) < 0 })

	t.mu.Lock()
	t.watched = make(map[common.Address]struct{}, len(sorted))
	parts := make([]string, 0, len(sorted))
	for _, a := range sorted {
		if _, ok := t.watched[a]; ok {
			continue
		}
		t.watched[a] = struct{}{}
		parts = append(parts, a.Hex())
	}
	t.watchKey = strings.Join(parts, ",")
	t.mu.Unlock()

	t.resync()
}

// SetActive toggles whether any consumer currently wants pending data.
func (t *Tracker) SetActive(active bool) {
	t.mu.Lock()
	t.active = active
	t.mu.Unlock()
	t.resync()
}

func (t *Tracker) SetIdle(idle bool) {
	t.mu.Lock()
	t.idle = idle
	t.mu.Unlock()
	t.resync()
}

func (t *Tracker) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sub != nil
}

func (t *Tracker) Close() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
	t.resync()
	t.cancel()
}

func (t *Tracker) resync() {
	t.mu.Lock()
	want := t.source != nil && t.active && !t.idle && len(t.watched) > 0
	key := t.watchKey
	if want && ((t.sub != nil && t.subKey == key) || (t.connecting && t.connectKey == key)) {
		t.mu.Unlock()
		return
	}
	if !want && t.sub == nil && !t.connecting {
		t.mu.Unlock()
		return
	}

	old := t.sub
	t.sub = nil
	t.subKey = ""
	t.subGen++
	gen := t.subGen
	t.connecting = want
	t.connectKey = key

	var contracts []common.Address
	if want {
		contracts = make([]common.Address, 0, len(t.watched))
		for a := range t.watched {
			contracts = append(contracts, a)
		}
	}
	t.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("[pending] close subscription: %v", err)
		}
		log.Printf("[pending] subscription suspended")
	}
	if want {
		t.spawn(func() { t.connect(gen, key, contracts) })
	}
}

func (t *Tracker) connect(gen uint64, key string, contracts []common.Address) {
	sub, err := t.source.Subscribe(t.ctx, contracts, func(c Candidate) { t.handle(gen, c) })

	t.mu.Lock()
	if gen != t.subGen {
		t.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	t.connecting = false
	if err != nil {
		t.mu.Unlock()
		log.Printf("[pending] subscribe: %v", err)
		return
	}
	t.sub = sub
	t.subKey = key
	t.mu.Unlock()

	log.Printf("[pending] subscribed contracts=%d", len(contracts))
}

func (t *Tracker) handle(gen uint64, c Candidate) {
	t.mu.Lock()
	stale := gen != t.subGen
	t.mu.Unlock()
	if stale {
		return
	}
	t.Add(c)
}

// Add decodes and stores a candidate targeting a watched contract, evicting
// entries older than MaxAge.
func (t *Tracker) Add(c Candidate) (Transaction, bool) {
	var block uint64
	if t.blocks != nil {
		block = t.blocks.SessionBlockNumber()
	}
	now := t.clk.Now()
	tx, err := Decode(c, block, now)
	if err != nil {
		return Transaction{}, false
	}

	t.mu.Lock()
	if _, ok := t.watched[tx.Contract]; !ok {
		t.mu.Unlock()
		return Transaction{}, false
	}
	t.pruneLocked(now)
	t.txs = append(t.txs, tx)
	listeners := append([]func(Transaction){}, t.listeners...)
	t.mu.Unlock()

	for _, f := range listeners {
		f(tx)
	}
	return tx, true
}

func (t *Tracker) pruneLocked(now time.Time) {
	kept := t.txs[:0]
	for _, tx := range t.txs {
		if now.Sub(tx.AddedAt) < t.cfg.MaxAge {
			kept = append(kept, tx)
		}
	}
	for i := len(kept); i < len(t.txs); i++ {
		t.txs[i] = Transaction{}
	}
	t.txs = kept
}

func (t *Tracker) Snapshot() []Transaction {
	now := t.clk.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	return append([]Transaction(nil), t.txs...)
}

func (t *Tracker) ForItem(contract common.Address, tokenID string) []Transaction {
	var out []Transaction
	for _, tx := range t.Snapshot() {
		if tx.Contract == contract && tx.TokenID == tokenID {
			out = append(out, tx)
		}
	}
	return out
}

// Grouped returns live entries keyed by contract:token.
func (t *Tracker) Grouped() map[string][]Transaction {
	out := make(map[string][]Transaction)
	for _, tx := range t.Snapshot() {
		k := tx.ItemKey()
		out[k] = append(out[k], tx)
	}
	return out
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txs = nil
}
