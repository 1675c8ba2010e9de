// Package wsconn keeps a websocket session alive with jittered exponential
// reconnects and periodic pings.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Options struct {
	Header       http.Header
	PingInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	// Tag prefixes log lines, e.g. "[pending]".
	Tag string
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.Tag == "" {
		o.Tag = "[ws]"
	}
	return o
}

// Session is one live connection. Writes are serialized.
type Session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *Session) WriteJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *Session) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
}

// Run dials url and reconnects until ctx is done. onOpen runs after every
// successful dial; a non-nil error drops the session and triggers a reconnect.
func Run(ctx context.Context, url string, opts Options, onOpen func(*Session) error, onMessage func([]byte)) {
	opts = opts.withDefaults()

	backoff := opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
		if err != nil {
			log.Printf("%s dial: %v", opts.Tag, err)
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
			continue
		}
		backoff = opts.BackoffMin

		sess := &Session{conn: conn}
		if err := runSession(ctx, sess, opts, onOpen, onMessage); err != nil && ctx.Err() == nil {
			log.Printf("%s session: %v", opts.Tag, err)
		}

		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		sleepWithJitter(ctx, backoff)
		backoff = nextBackoff(backoff, opts.BackoffMax)
	}
}

func runSession(ctx context.Context, sess *Session, opts Options, onOpen func(*Session) error, onMessage func([]byte)) error {
	if onOpen != nil {
		if err := onOpen(sess); err != nil {
			return fmt.Errorf("open: %w", err)
		}
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }
	defer stopAll()

	go func() {
		t := time.NewTicker(opts.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = sess.conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				if err := sess.ping(); err != nil {
					log.Printf("%s ping: %v", opts.Tag, err)
					_ = sess.conn.Close()
					return
				}
			}
		}
	}()

	for {
		typ, msg, err := sess.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 {
			continue
		}
		onMessage(msg)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int63n(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
