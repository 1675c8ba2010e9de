// Package bridge carries submission requests to the signing agent and routes
// its asynchronous outcomes back, over Redis pub/sub.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/pvzzle/gasrace/internal/gas"

	"github.com/ethereum/go-ethereum/common"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodBid Method = "bid"
	MethodBuy Method = "buy"
)

type Kind string

const (
	KindSigned  Kind = "signed"
	KindSent    Kind = "sent"
	KindSuccess Kind = "success"
	KindSkipped Kind = "skipped"
	KindError   Kind = "error"
)

// Tag correlates a request with its outcomes. Generation is zero for
// requests that are not part of a mass-bid run.
type Tag struct {
	TokenID    string         `json:"tokenId"`
	Address    common.Address `json:"address"`
	Generation uint64         `json:"generation"`
}

func (t Tag) String() string {
	return fmt.Sprintf("%s:%s:%d", t.Address.Hex(), t.TokenID, t.Generation)
}

type Asset struct {
	Contract common.Address `json:"contractAddress"`
	TokenID  string         `json:"tokenId"`
	Name     string         `json:"name,omitempty"`
	Image    string         `json:"image,omitempty"`
}

// Request prices are in ETH.
type Request struct {
	Method         Method          `json:"method"`
	Tag            Tag             `json:"tag"`
	Asset          Asset           `json:"asset"`
	Price          decimal.Decimal `json:"price"`
	ExpirationTime int64           `json:"expirationTime,omitempty"`
	HighestOffer   decimal.Decimal `json:"highestOffer"`
	Gas            *gas.Preset     `json:"gasPreset,omitempty"`
}

type ErrorInfo struct {
	Message string `json:"message"`
}

type Outcome struct {
	Method Method     `json:"method"`
	Tag    Tag        `json:"tag"`
	Kind   Kind       `json:"kind"`
	TxHash string     `json:"transactionHash,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

func (o Outcome) ErrorMessage() string {
	if o.Error == nil {
		return ""
	}
	return o.Error.Message
}

var ErrUnknownMethod = errors.New("bridge: unknown method")

type Config struct {
	RequestChannel  string
	ResponseChannel string
}

func (c Config) withDefaults() Config {
	if c.RequestChannel == "" {
		c.RequestChannel = "gasrace:requests"
	}
	if c.ResponseChannel == "" {
		c.ResponseChannel = "gasrace:responses"
	}
	return c
}

type Redis struct {
	client *redis.Client
	cfg    Config

	mu       sync.RWMutex
	handlers map[Method][]func(Outcome)
}

func NewRedis(client *redis.Client, cfg Config) *Redis {
	return &Redis{
		client:   client,
		cfg:      cfg.withDefaults(),
		handlers: make(map[Method][]func(Outcome)),
	}
}

// Handle registers f for outcomes of method m. Handlers run on the
// subscriber goroutine in arrival order.
func (b *Redis) Handle(m Method, f func(Outcome)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[m] = append(b.handlers[m], f)
}

func (b *Redis) Send(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := b.client.Publish(ctx, b.cfg.RequestChannel, data).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", b.cfg.RequestChannel, err)
	}
	return nil
}

// Run consumes outcomes until ctx is done.
func (b *Redis) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.cfg.ResponseChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis SUBSCRIBE %s: %w", b.cfg.ResponseChannel, err)
	}
	log.Printf("[bridge] listening on %s", b.cfg.ResponseChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("bridge: subscription closed")
			}
			if err := b.dispatch([]byte(msg.Payload)); err != nil {
				log.Printf("[bridge] dispatch: %v", err)
			}
		}
	}
}

func (b *Redis) dispatch(payload []byte) error {
	var o Outcome
	if err := json.Unmarshal(payload, &o); err != nil {
		return fmt.Errorf("decode outcome: %w", err)
	}

	b.mu.RLock()
	hs := append([]func(Outcome){}, b.handlers[o.Method]...)
	b.mu.RUnlock()

	if len(hs) == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, o.Method)
	}
	for _, h := range hs {
		h(o)
	}
	return nil
}
