package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestOptions_WithDefaults(t *testing.T) {
	o := (Options{}).withDefaults()
	if o.PingInterval <= 0 || o.BackoffMin <= 0 || o.BackoffMax <= 0 {
		t.Fatalf("defaults missing: %#v", o)
	}
	if o.Tag == "" {
		t.Fatal("tag default missing")
	}
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	if got := nextBackoff(2*time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("got=%s want=%s", got, 3*time.Second)
	}
	if got := nextBackoff(250*time.Millisecond, 3*time.Second); got != 500*time.Millisecond {
		t.Fatalf("got=%s want=%s", got, 500*time.Millisecond)
	}
}

func TestRun_ReconnectsAndReplaysOpen(t *testing.T) {
	var accepted atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		accepted.Add(1)

		// echo the subscribe frame, then drop the connection
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, msg)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var opens atomic.Int32
	got := make(chan string, 8)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	opts := Options{
		Header:     http.Header{"Authorization": []string{"Bearer tok"}},
		BackoffMin: 10 * time.Millisecond,
		BackoffMax: 20 * time.Millisecond,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, url, opts, func(s *Session) error {
			opens.Add(1)
			return s.WriteJSON(map[string]string{"action": "subscribe"})
		}, func(b []byte) {
			got <- string(b)
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case msg := <-got:
			if !strings.Contains(msg, "subscribe") {
				t.Fatalf("unexpected message %q", msg)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	cancel()
	<-done

	if opens.Load() < 2 || accepted.Load() < 2 {
		t.Fatalf("expected reconnect, opens=%d accepted=%d", opens.Load(), accepted.Load())
	}
}
