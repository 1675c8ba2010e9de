package quickbuy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/bridge"
	"github.com/pvzzle/gasrace/internal/clock"
	"github.com/pvzzle/gasrace/internal/gas"
	"github.com/pvzzle/gasrace/internal/massbid"
	"github.com/pvzzle/gasrace/internal/race"
	"github.com/pvzzle/gasrace/internal/sent"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrBuyInFlight = errors.New("quickbuy: a buy for this item is already in flight")

type PresetMode string

const (
	PresetNone    PresetMode = "none"
	PresetFixed   PresetMode = "fixed"
	PresetOptimal PresetMode = "optimal"
)

type Config struct {
	Mode  PresetMode
	Fixed gas.Preset
	// OrderTTL bounds how long an unanswered buy blocks the item.
	OrderTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = PresetNone
	}
	if c.OrderTTL <= 0 {
		c.OrderTTL = 120 * time.Second
	}
	return c
}

type Sender interface {
	Send(ctx context.Context, req bridge.Request) error
}

type OptimalSource interface {
	Optimal(ctx context.Context) (gas.Preset, error)
}

type BlockSource interface {
	SessionBlockNumber() uint64
}

type order struct {
	asset   sent.Asset
	preset  *gas.Preset
	expires time.Time
}

// Buyer submits one-off purchases and records the resulting transactions.
type Buyer struct {
	clk     clock.Clock
	sender  Sender
	reg     *sent.Registry
	blocks  BlockSource
	optimal OptimalSource
	cfg     Config

	mu       sync.Mutex
	orders   map[bridge.Tag]order
	onNotice []func(string)
}

func NewBuyer(clk clock.Clock, sender Sender, reg *sent.Registry, blocks BlockSource, optimal OptimalSource, cfg Config) *Buyer {
	return &Buyer{
		clk:     clk,
		sender:  sender,
		reg:     reg,
		blocks:  blocks,
		optimal: optimal,
		cfg:     cfg.withDefaults(),
		orders:  make(map[bridge.Tag]order),
	}
}

func (b *Buyer) OnNotice(f func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNotice = append(b.onNotice, f)
}

func (b *Buyer) notify(msg string) {
	b.mu.Lock()
	fs := append([]func(string){}, b.onNotice...)
	b.mu.Unlock()
	for _, f := range fs {
		f(msg)
	}
}

// ResolvePreset picks override, then the fixed preset, then the optimal one.
// A failed optimal lookup leaves gas to the wallet.
func (b *Buyer) ResolvePreset(ctx context.Context, override *gas.Preset) *gas.Preset {
	if override != nil {
		p := *override
		return &p
	}
	switch b.cfg.Mode {
	case PresetFixed:
		p := b.cfg.Fixed
		return &p
	case PresetOptimal:
		if b.optimal == nil {
			return nil
		}
		p, err := b.optimal.Optimal(ctx)
		if err != nil {
			log.Printf("[quickbuy] optimal gas: %v", err)
			b.notify("Unable to load optimal gas settings, using wallet defaults.")
			return nil
		}
		return &p
	}
	return nil
}

// Buy asks the signer to purchase the item. A zero price lets the signer
// take the cheapest listing.
func (b *Buyer) Buy(ctx context.Context, asset sent.Asset, price decimal.Decimal, override *gas.Preset) error {
	preset := b.ResolvePreset(ctx, override)
	tag := bridge.Tag{TokenID: asset.TokenID, Address: asset.Contract}

	now := b.clk.Now()
	b.mu.Lock()
	if o, busy := b.orders[tag]; busy && now.Before(o.expires) {
		b.mu.Unlock()
		return ErrBuyInFlight
	}
	b.orders[tag] = order{asset: asset, preset: preset, expires: now.Add(b.cfg.OrderTTL)}
	b.mu.Unlock()

	req := bridge.Request{
		Method: bridge.MethodBuy,
		Tag:    tag,
		Asset:  bridge.Asset{Contract: asset.Contract, TokenID: asset.TokenID, Name: asset.Name, Image: asset.Image},
		Price:  price,
		Gas:    preset,
	}
	if err := b.sender.Send(ctx, req); err != nil {
		b.mu.Lock()
		delete(b.orders, tag)
		b.mu.Unlock()
		return fmt.Errorf("send buy request: %w", err)
	}
	return nil
}

// Outbid buys the item with gas 10% over the top competitor.
func (b *Buyer) Outbid(ctx context.Context, rc race.Race) (gas.Preset, error) {
	p := race.Overbid(rc.Highest)
	asset := sent.Asset{Contract: rc.Contract, TokenID: rc.TokenID}
	return p, b.Buy(ctx, asset, decimal.Zero, &p)
}

// Reset forgets every outstanding order. Late outcomes for them are ignored.
func (b *Buyer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[bridge.Tag]order)
}

func (b *Buyer) HandleOutcome(out bridge.Outcome) {
	if out.Method != bridge.MethodBuy {
		return
	}

	b.mu.Lock()
	o, ok := b.orders[out.Tag]
	if ok && (out.Kind == bridge.KindSuccess || out.Kind == bridge.KindError) {
		delete(b.orders, out.Tag)
	}
	b.mu.Unlock()

	switch out.Kind {
	case bridge.KindSent:
		if !ok || out.TxHash == "" {
			return
		}
		tx := sent.Transaction{
			Hash:  common.HexToHash(out.TxHash),
			Asset: o.asset,
		}
		if o.preset != nil {
			tx.PriorityFee = o.preset.FeeWei()
			tx.MaxPriorityFeePerGas = o.preset.PriorityFeeWei()
		}
		if b.blocks != nil {
			tx.SessionBlock = b.blocks.SessionBlockNumber()
		}
		b.reg.Add(tx)
		log.Printf("[quickbuy] sent %s for %s", out.TxHash, out.Tag)

	case bridge.KindSuccess:
		if out.TxHash != "" {
			b.reg.SetStatus(common.HexToHash(out.TxHash), sent.StatusConfirmed)
		}

	case bridge.KindError:
		msg := out.ErrorMessage()
		denied := massbid.Classify(msg) == massbid.ClassUserDenied
		if out.TxHash != "" {
			st := sent.StatusFailed
			if denied {
				st = sent.StatusDenied
			}
			b.reg.SetStatus(common.HexToHash(out.TxHash), st)
		}
		if msg != "" && !denied {
			b.notify(ReadableError(msg))
		}
	}
}

var (
	reInsufficientFunds = regexp.MustCompile(`insufficient funds`)
	rePriceChange       = regexp.MustCompile(`cancelled due to price change`)
)

func ReadableError(msg string) string {
	switch {
	case reInsufficientFunds.MatchString(msg):
		return "You do not have enough funds to buy this asset."
	case rePriceChange.MatchString(msg):
		return msg
	}
	return fmt.Sprintf("Unable to buy item. Received error %q", msg)
}
