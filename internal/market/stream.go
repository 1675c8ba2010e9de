package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/wsconn"
)

const DefaultStreamURL = "wss://stream.openseabeta.com/socket/websocket"

var ErrStreamClosed = errors.New("market: stream client closed")

type StreamConfig struct {
	URL       string
	APIKey    string
	Heartbeat time.Duration
	Opts      wsconn.Options
}

func (c StreamConfig) withDefaults() StreamConfig {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultStreamURL
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 30 * time.Second
	}
	if c.Opts.Tag == "" {
		c.Opts.Tag = "[stream]"
	}
	return c
}

// frame is a Phoenix channel message.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type itemEvent struct {
	EventType string `json:"event_type"`
	SentAt    string `json:"sent_at"`
	Payload   struct {
		EventTimestamp string `json:"event_timestamp"`
		BasePrice      string `json:"base_price"`
		SalePrice      string `json:"sale_price"`
		Item           struct {
			NFTID    string `json:"nft_id"`
			Metadata struct {
				Name     string `json:"name"`
				ImageURL string `json:"image_url"`
			} `json:"metadata"`
		} `json:"item"`
		Maker struct {
			Address string `json:"address"`
		} `json:"maker"`
		PaymentToken struct {
			Symbol string `json:"symbol"`
		} `json:"payment_token"`
		Transaction *struct {
			Hash string `json:"hash"`
		} `json:"transaction"`
	} `json:"payload"`
}

// raw maps a pushed item event. nft_id is "chain/contract/token".
func (e itemEvent) raw() (activity.RawEvent, bool) {
	parts := strings.Split(e.Payload.Item.NFTID, "/")
	if len(parts) != 3 {
		return activity.RawEvent{}, false
	}

	r := activity.RawEvent{
		Type:            e.EventType,
		ID:              e.Payload.Item.NFTID,
		Timestamp:       strings.SplitN(e.Payload.EventTimestamp, "+", 2)[0],
		Chain:           parts[0],
		ContractAddress: parts[1],
		TokenID:         parts[2],
		Seller:          e.Payload.Maker.Address,
		Name:            e.Payload.Item.Metadata.Name,
		Image:           e.Payload.Item.Metadata.ImageURL,
		Price:           e.Payload.BasePrice,
		Currency:        e.Payload.PaymentToken.Symbol,
	}
	if e.EventType == "item_sold" {
		r.Price = e.Payload.SalePrice
	}
	if e.Payload.Transaction != nil && e.Payload.Transaction.Hash != "" {
		r.BlockExplorerLink = etherscanTx + e.Payload.Transaction.Hash
	}
	return r, true
}

func topicFor(slug string) string { return "collection:" + slug }

// StreamClient multiplexes per-collection subscriptions over one socket.
// Topics are re-joined after every reconnect.
type StreamClient struct {
	cfg StreamConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	sess    *wsconn.Session
	ref     uint64
	nextID  uint64
	subs    map[string]map[uint64]func(activity.RawEvent)
}

func NewStreamClient(cfg StreamConfig) *StreamClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamClient{
		cfg:    cfg.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]map[uint64]func(activity.RawEvent)),
	}
}

func (c *StreamClient) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("stream url parse %q: %w", c.cfg.URL, err)
	}
	q := u.Query()
	if c.cfg.APIKey != "" {
		q.Set("token", c.cfg.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe implements activity.Streamer. The socket is dialed on first use.
func (c *StreamClient) Subscribe(slug string, handle func(activity.RawEvent)) (func(), error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrStreamClosed
	}
	c.nextID++
	id := c.nextID
	hs, joined := c.subs[slug]
	if !joined {
		hs = make(map[uint64]func(activity.RawEvent))
		c.subs[slug] = hs
	}
	hs[id] = handle
	sess := c.sess
	ref := c.nextRefLocked()
	start := !c.started
	c.started = true
	c.mu.Unlock()

	if start {
		go wsconn.Run(c.ctx, endpoint, c.cfg.Opts, c.onOpen, c.onMessage)
		go c.heartbeat()
	} else if !joined && sess != nil {
		if err := sess.WriteJSON(frame{Topic: topicFor(slug), Event: "phx_join", Payload: json.RawMessage("{}"), Ref: ref}); err != nil {
			log.Printf("[stream] join %s: %v", slug, err)
		}
	}

	var once sync.Once
	return func() { once.Do(func() { c.unsubscribe(slug, id) }) }, nil
}

func (c *StreamClient) unsubscribe(slug string, id uint64) {
	c.mu.Lock()
	hs := c.subs[slug]
	delete(hs, id)
	if len(hs) > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.subs, slug)
	sess := c.sess
	ref := c.nextRefLocked()
	c.mu.Unlock()

	if sess != nil {
		if err := sess.WriteJSON(frame{Topic: topicFor(slug), Event: "phx_leave", Payload: json.RawMessage("{}"), Ref: ref}); err != nil {
			log.Printf("[stream] leave %s: %v", slug, err)
		}
	}
}

func (c *StreamClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.sess = nil
	c.subs = make(map[string]map[uint64]func(activity.RawEvent))
	c.mu.Unlock()
	c.cancel()
}

func (c *StreamClient) nextRefLocked() string {
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}

func (c *StreamClient) onOpen(sess *wsconn.Session) error {
	c.mu.Lock()
	c.sess = sess
	joins := make([]frame, 0, len(c.subs))
	for slug := range c.subs {
		joins = append(joins, frame{Topic: topicFor(slug), Event: "phx_join", Payload: json.RawMessage("{}"), Ref: c.nextRefLocked()})
	}
	c.mu.Unlock()

	for _, f := range joins {
		if err := sess.WriteJSON(f); err != nil {
			return fmt.Errorf("join %s: %w", f.Topic, err)
		}
	}
	log.Printf("[stream] connected, joined %d collections", len(joins))
	return nil
}

func (c *StreamClient) heartbeat() {
	t := time.NewTicker(c.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			c.mu.Lock()
			sess := c.sess
			ref := c.nextRefLocked()
			c.mu.Unlock()
			if sess == nil {
				continue
			}
			if err := sess.WriteJSON(frame{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage("{}"), Ref: ref}); err != nil {
				log.Printf("[stream] heartbeat: %v", err)
			}
		}
	}
}

func (c *StreamClient) onMessage(msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		log.Printf("[stream] bad frame: %v", err)
		return
	}
	if f.Event != "item_listed" && f.Event != "item_sold" {
		return
	}
	slug, ok := strings.CutPrefix(f.Topic, "collection:")
	if !ok {
		return
	}

	var ev itemEvent
	if err := json.Unmarshal(f.Payload, &ev); err != nil {
		log.Printf("[stream] bad %s payload: %v", f.Event, err)
		return
	}
	if ev.EventType == "" {
		ev.EventType = f.Event
	}
	raw, ok := ev.raw()
	if !ok {
		return
	}

	c.mu.Lock()
	handlers := make([]func(activity.RawEvent), 0, len(c.subs[slug]))
	for _, h := range c.subs[slug] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}
