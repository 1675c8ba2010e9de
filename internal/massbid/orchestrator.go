package massbid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/bridge"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrNoTokens        = errors.New("massbid: no tokens to bid on")
	ErrRunActive       = errors.New("massbid: a run is already processing")
	ErrRequestInFlight = errors.New("massbid: previous bid request has not reported back")
	ErrInvalidPrice    = errors.New("massbid: price must be positive")
)

type RunStatus string

const (
	StatusIdle       RunStatus = "idle"
	StatusProcessing RunStatus = "processing"
	StatusStopped    RunStatus = "stopped"
)

type Token struct {
	Contract common.Address `json:"contractAddress"`
	TokenID  string         `json:"tokenId"`
	Name     string         `json:"name,omitempty"`
	Image    string         `json:"image,omitempty"`
}

// Params apply to every token of a run. Price is in ETH.
type Params struct {
	Price             decimal.Decimal `json:"price"`
	ExpirationTime    int64           `json:"expirationTime"`
	SkipOnHigherOffer bool            `json:"skipOnHigherOffer"`
}

type Sender interface {
	Send(ctx context.Context, req bridge.Request) error
}

// OfferLookup returns the best competing offer in ETH.
type OfferLookup interface {
	HighestOffer(ctx context.Context, contract common.Address, tokenID string) (decimal.Decimal, error)
}

type Snapshot struct {
	Generation uint64                `json:"generation"`
	Cursor     int                   `json:"cursor"`
	RetryCount int                   `json:"retryCount"`
	Status     RunStatus             `json:"status"`
	InFlight   bool                  `json:"inFlight"`
	Tokens     []Token               `json:"tokens"`
	Params     Params                `json:"params"`
	States     map[string]TokenState `json:"states"`
}

// Notice is a condition the user should see.
type Notice struct {
	Token   Token
	Class   ErrorClass
	Message string
	Fatal   bool
}

// Terminal is emitted once per token when it reaches a final state.
type Terminal struct {
	Generation uint64
	Token      Token
	State      TokenState
	Message    string
}

type Config struct {
	SendTimeout  time.Duration
	OfferTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = 5 * time.Second
	}
	return c
}

// Orchestrator bids on a list of tokens one at a time. At most one request is
// outstanding with the signer; outcomes from a superseded generation are
// ignored.
type Orchestrator struct {
	sender Sender
	offers OfferLookup
	cfg    Config
	spawn  func(func())

	mu          sync.Mutex
	gen         uint64
	cursor      int
	retry       int
	status      RunStatus
	tokens      []Token
	params      Params
	states      map[string]TokenState
	inFlight    bool
	inFlightTag bridge.Tag

	onUpdate   []func(Snapshot)
	onNotice   []func(Notice)
	onTerminal []func(Terminal)
}

func New(sender Sender, offers OfferLookup, cfg Config) *Orchestrator {
	return &Orchestrator{
		sender: sender,
		offers: offers,
		cfg:    cfg.withDefaults(),
		spawn:  func(f func()) { go f() },
		status: StatusIdle,
		cursor: -1,
		states: make(map[string]TokenState),
	}
}

func (o *Orchestrator) OnUpdate(f func(Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onUpdate = append(o.onUpdate, f)
}

func (o *Orchestrator) OnNotice(f func(Notice)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onNotice = append(o.onNotice, f)
}

func (o *Orchestrator) OnTerminal(f func(Terminal)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTerminal = append(o.onTerminal, f)
}

// Start begins a new run at the first token.
func (o *Orchestrator) Start(tokens []Token, p Params) error {
	if len(tokens) == 0 {
		return ErrNoTokens
	}
	if !p.Price.IsPositive() {
		return ErrInvalidPrice
	}

	o.mu.Lock()
	if o.status == StatusProcessing {
		o.mu.Unlock()
		return ErrRunActive
	}
	if o.inFlight {
		o.mu.Unlock()
		return ErrRequestInFlight
	}

	o.gen++
	o.cursor = 0
	o.retry = 0
	o.status = StatusProcessing
	o.tokens = append([]Token(nil), tokens...)
	o.params = p
	o.states = map[string]TokenState{tokens[0].TokenID: StateProcessing}
	job := o.dispatchLocked()
	gen := o.gen
	e := o.emitLocked(nil, nil)
	o.mu.Unlock()

	log.Printf("[massbid] run %d started tokens=%d", gen, len(tokens))
	e.fire()
	o.spawn(job)
	return nil
}

// Stop ends the run. An outstanding request still has to report back
// before another run may start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.status != StatusProcessing {
		o.mu.Unlock()
		return
	}
	o.status = StatusStopped
	e := o.emitLocked(nil, nil)
	o.mu.Unlock()

	log.Printf("[massbid] run stopped")
	e.fire()
}

// Clear drops all run state. The generation still advances so late outcomes
// cannot touch the next run. An outstanding request keeps the in-flight slot
// until its outcome arrives.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.gen++
	o.cursor = -1
	o.retry = 0
	o.status = StatusIdle
	o.tokens = nil
	o.params = Params{}
	o.states = make(map[string]TokenState)
	e := o.emitLocked(nil, nil)
	o.mu.Unlock()

	e.fire()
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	states := make(map[string]TokenState, len(o.states))
	for k, v := range o.states {
		states[k] = v
	}
	return Snapshot{
		Generation: o.gen,
		Cursor:     o.cursor,
		RetryCount: o.retry,
		Status:     o.status,
		InFlight:   o.inFlight,
		Tokens:     append([]Token(nil), o.tokens...),
		Params:     o.params,
		States:     states,
	}
}

func (o *Orchestrator) tagLocked() bridge.Tag {
	tok := o.tokens[o.cursor]
	return bridge.Tag{TokenID: tok.TokenID, Address: tok.Contract, Generation: o.gen}
}

// dispatchLocked claims the single in-flight slot for the current token.
func (o *Orchestrator) dispatchLocked() func() {
	tag := o.tagLocked()
	tok := o.tokens[o.cursor]
	p := o.params
	o.inFlight = true
	o.inFlightTag = tag
	return func() { o.submit(tag, tok, p) }
}

func (o *Orchestrator) submit(tag bridge.Tag, tok Token, p Params) {
	highest := decimal.Zero
	if p.SkipOnHigherOffer && o.offers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.OfferTimeout)
		v, err := o.offers.HighestOffer(ctx, tok.Contract, tok.TokenID)
		cancel()
		if err != nil {
			log.Printf("[massbid] offer lookup %s: %v", tag, err)
		} else {
			highest = v
		}
	}

	o.mu.Lock()
	if tag.Generation != o.gen || o.status != StatusProcessing {
		if o.inFlight && o.inFlightTag == tag {
			o.inFlight = false
		}
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	req := bridge.Request{
		Method:         bridge.MethodBid,
		Tag:            tag,
		Asset:          bridge.Asset{Contract: tok.Contract, TokenID: tok.TokenID, Name: tok.Name, Image: tok.Image},
		Price:          p.Price,
		ExpirationTime: p.ExpirationTime,
		HighestOffer:   highest,
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SendTimeout)
	err := o.sender.Send(ctx, req)
	cancel()
	if err != nil {
		log.Printf("[massbid] send %s: %v", tag, err)
		o.HandleOutcome(bridge.Outcome{
			Method: bridge.MethodBid,
			Tag:    tag,
			Kind:   bridge.KindError,
			Error:  &bridge.ErrorInfo{Message: fmt.Sprintf("send bid request: %v", err)},
		})
	}
}

// HandleOutcome applies one signer outcome.
func (o *Orchestrator) HandleOutcome(out bridge.Outcome) {
	if out.Method != bridge.MethodBid {
		return
	}

	o.mu.Lock()
	if o.inFlight && out.Tag == o.inFlightTag && isTerminal(out.Kind) {
		o.inFlight = false
	}
	if out.Tag.Generation != o.gen || o.status != StatusProcessing || o.cursor < 0 || out.Tag != o.tagLocked() {
		o.mu.Unlock()
		return
	}

	state, act, class, ok := Transition(out, o.retry)
	if !ok {
		o.mu.Unlock()
		return
	}

	tok := o.tokens[o.cursor]
	o.states[tok.TokenID] = state

	var (
		job      func()
		notice   *Notice
		terminal *Terminal
	)
	switch act {
	case ActRetry:
		o.retry++
		job = o.dispatchLocked()
		notice = &Notice{Token: tok, Class: class, Message: retryMessage(out.ErrorMessage())}
	case ActAdvance, ActHalt:
		terminal = &Terminal{Generation: o.gen, Token: tok, State: state, Message: out.ErrorMessage()}
		if class == ClassTradingDisabled {
			notice = &Notice{Token: tok, Class: class, Message: "Asset has been locked from trading, likely due to suspicious activity."}
		}
		if act == ActHalt {
			o.status = StatusStopped
			notice = &Notice{Token: tok, Class: class, Fatal: true, Message: "You don't have enough WETH to place this bid. Make sure to wrap some first."}
			break
		}
		o.retry = 0
		if o.cursor == len(o.tokens)-1 {
			o.status = StatusIdle
			break
		}
		o.cursor++
		o.states[o.tokens[o.cursor].TokenID] = StateProcessing
		job = o.dispatchLocked()
	}

	e := o.emitLocked(notice, terminal)
	o.mu.Unlock()

	e.fire()
	if job != nil {
		o.spawn(job)
	}
}

func retryMessage(msg string) string {
	if reRateLimited.MatchString(msg) {
		return "Rate limited by the marketplace API. Wait a minute or two before trying again."
	}
	return fmt.Sprintf("Unable to place bid on item, will try %d times. Received error %q", MaxRetries, msg)
}

type emission struct {
	snap       Snapshot
	update     []func(Snapshot)
	notice     *Notice
	onNotice   []func(Notice)
	terminal   *Terminal
	onTerminal []func(Terminal)
}

func (o *Orchestrator) emitLocked(n *Notice, t *Terminal) emission {
	return emission{
		snap:       o.snapshotLocked(),
		update:     append([]func(Snapshot){}, o.onUpdate...),
		notice:     n,
		onNotice:   append([]func(Notice){}, o.onNotice...),
		terminal:   t,
		onTerminal: append([]func(Terminal){}, o.onTerminal...),
	}
}

func (e emission) fire() {
	if e.terminal != nil {
		for _, f := range e.onTerminal {
			f(*e.terminal)
		}
	}
	if e.notice != nil {
		for _, f := range e.onNotice {
			f(*e.notice)
		}
	}
	for _, f := range e.update {
		f(e.snap)
	}
}
