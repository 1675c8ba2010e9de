// Package engine wires the activity feed, pending tracker, sent registry,
// race resolver, mass bidding and quick buy into one session.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/blockclock"
	"github.com/pvzzle/gasrace/internal/bridge"
	"github.com/pvzzle/gasrace/internal/clock"
	"github.com/pvzzle/gasrace/internal/gas"
	"github.com/pvzzle/gasrace/internal/massbid"
	"github.com/pvzzle/gasrace/internal/pending"
	"github.com/pvzzle/gasrace/internal/quickbuy"
	"github.com/pvzzle/gasrace/internal/race"
	"github.com/pvzzle/gasrace/internal/sales"
	"github.com/pvzzle/gasrace/internal/sent"

	"github.com/ethereum/go-ethereum/common"
)

type Sender interface {
	Send(ctx context.Context, req bridge.Request) error
}

// Deps are the outside collaborators. Nil entries disable what depends on them.
type Deps struct {
	Clock    clock.Clock
	Poller   activity.Poller
	Streamer activity.Streamer
	Pending  pending.Source
	Sender   Sender
	Offers   massbid.OfferLookup
	Optimal  quickbuy.OptimalSource
	Receipts sent.ReceiptFetcher
}

type Config struct {
	Feed     activity.Config
	Tracker  pending.TrackerConfig
	Idle     pending.IdleConfig
	Sent     sent.Config
	MassBid  massbid.Config
	QuickBuy quickbuy.Config
	// SettleOnSlots checks receipts on every block-clock slot. Leave it off
	// when chain heads drive SettleReceipts.
	SettleOnSlots bool
}

// Notice is a user-facing message from bidding or buying.
type Notice struct {
	Source string
	Text   string
	Fatal  bool
}

type Engine struct {
	Blocks   *blockclock.BlockClock
	Feed     *activity.Feed
	Sales    *sales.Correlator
	Pending  *pending.Tracker
	Idle     *pending.IdleGate
	Sent     *sent.Registry
	Races    *race.Resolver
	MassBid  *massbid.Orchestrator
	Buyer    *quickbuy.Buyer
	receipts *sent.ReceiptWatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	settling bool
	onNotice []func(Notice)
}

func New(d Deps, cfg Config) *Engine {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{ctx: ctx, cancel: cancel}
	e.Blocks = blockclock.New(clk)
	e.Feed = activity.NewFeed(clk, d.Poller, d.Streamer, cfg.Feed)
	e.Sales = sales.NewCorrelator()
	e.Pending = pending.NewTracker(clk, e.Blocks, d.Pending, cfg.Tracker)
	e.Idle = pending.NewIdleGate(clk, cfg.Idle)
	e.Sent = sent.NewRegistry(clk, cfg.Sent)
	e.Races = race.NewResolver(e.Pending, e.Sent, e.Sales, e.Blocks)

	var sender Sender = noSender{}
	if d.Sender != nil {
		sender = d.Sender
	}
	e.MassBid = massbid.New(sender, d.Offers, cfg.MassBid)
	e.Buyer = quickbuy.NewBuyer(clk, sender, e.Sent, e.Blocks, d.Optimal, cfg.QuickBuy)
	if d.Receipts != nil {
		e.receipts = sent.NewReceiptWatcher(e.Sent, d.Receipts)
	}

	e.Feed.Subscribe(func(ev activity.Event) {
		if rec, ok := e.Sales.Observe(ev); ok {
			log.Printf("[engine] sale %s/%s by %s", rec.Contract.Hex(), rec.TokenID, rec.Seller.Hex())
		}
	})
	e.Idle.OnChange(e.Pending.SetIdle)
	e.Pending.SetIdle(e.Idle.Idle())

	if cfg.SettleOnSlots && e.receipts != nil {
		e.Blocks.OnBlock(func(uint64) { go e.SettleReceipts(e.ctx) })
	}

	e.MassBid.OnNotice(func(n massbid.Notice) {
		e.notify(Notice{Source: "massbid", Text: n.Message, Fatal: n.Fatal})
	})
	e.Buyer.OnNotice(func(msg string) {
		e.notify(Notice{Source: "quickbuy", Text: msg})
	})
	return e
}

var errNoSender = errors.New("engine: no signer bridge configured")

type noSender struct{}

func (noSender) Send(ctx context.Context, req bridge.Request) error { return errNoSender }

func (e *Engine) OnNotice(f func(Notice)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onNotice = append(e.onNotice, f)
}

func (e *Engine) notify(n Notice) {
	e.mu.Lock()
	fs := append([]func(Notice){}, e.onNotice...)
	e.mu.Unlock()
	for _, f := range fs {
		f(n)
	}
}

// Start begins slot counting and lets the tracker hold its subscription.
func (e *Engine) Start() {
	e.Blocks.Start()
	e.Pending.SetActive(true)
}

func (e *Engine) Stop() {
	e.cancel()
	e.MassBid.Stop()
	e.Feed.Close()
	e.Pending.Close()
	e.Idle.Stop()
	e.Blocks.Stop()
}

// SetWatched updates what the feed polls and what the tracker subscribes to.
func (e *Engine) SetWatched(collections []string, contracts []common.Address) {
	e.Feed.SetCollections(collections)
	e.Pending.SetWatched(contracts)
}

// HandleOutcome routes a signer outcome to its owner.
func (e *Engine) HandleOutcome(o bridge.Outcome) {
	switch o.Method {
	case bridge.MethodBid:
		e.MassBid.HandleOutcome(o)
	case bridge.MethodBuy:
		e.Buyer.HandleOutcome(o)
	}
}

// SettleReceipts runs one receipt pass unless another is still running.
func (e *Engine) SettleReceipts(ctx context.Context) int {
	if e.receipts == nil {
		return 0
	}
	e.mu.Lock()
	if e.settling {
		e.mu.Unlock()
		return 0
	}
	e.settling = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.settling = false
		e.mu.Unlock()
	}()
	return e.receipts.Check(ctx)
}

// Outbid resolves the item's race and buys 10% above the top competitor.
func (e *Engine) Outbid(ctx context.Context, contract common.Address, tokenID string) (gas.Preset, error) {
	rc, err := e.Races.Resolve(contract, tokenID)
	if err != nil {
		return gas.Preset{}, err
	}
	return e.Buyer.Outbid(ctx, rc)
}

// Clear drops session data: buffered events, pending and sent entries,
// outstanding quick buys and any mass-bid run. Watch lists and confirmed sales are kept.
func (e *Engine) Clear() {
	e.Feed.Reset()
	e.Pending.Reset()
	e.Sent.Reset()
	e.MassBid.Clear()
	e.Buyer.Reset()
}
