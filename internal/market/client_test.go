package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const eventsBody = `{"asset_events":[
 {"event_type":"listing","order_hash":"0x01","chain":"ethereum","event_timestamp":1700000000,"maker":"0x1111111111111111111111111111111111111111",
  "payment":{"quantity":"100000000000000000","symbol":"ETH"},
  "asset":{"identifier":"7","contract":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","name":"Thing #7","image_url":"https://img/7.png"}},
 {"event_type":"sale","chain":"ethereum","event_timestamp":1700000060,"seller":"0x2222222222222222222222222222222222222222","transaction":"0xfeed",
  "payment":{"quantity":"200000000000000000","symbol":"ETH"},
  "nft":{"identifier":"8","contract":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","name":"","image_url":""}},
 {"event_type":"transfer","event_timestamp":1700000090}
]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", RPS: 100})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestFetchEvents_MapsAndSorts(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "k" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v2/events/collection/things" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(eventsBody))
	})

	since := time.Unix(1699999000, 0)
	raws, err := c.FetchEvents(context.Background(), []string{"things"}, &since, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(gotQuery, "after=1699999000") || !strings.Contains(gotQuery, "limit=10") {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if len(raws) != 2 {
		t.Fatalf("expected 2 events, got=%d", len(raws))
	}
	if raws[0].Type != "SUCCESSFUL" || raws[1].Type != "CREATED" {
		t.Fatalf("expected newest first, got=%s,%s", raws[0].Type, raws[1].Type)
	}

	sale, err := activity.Normalize(raws[0])
	if err != nil {
		t.Fatalf("normalize sale: %v", err)
	}
	if sale.TxHash() != "0xfeed" || sale.Name != "#8" || sale.SellerAddress != common.HexToAddress("0x2222222222222222222222222222222222222222") {
		t.Fatalf("unexpected sale: %+v", sale)
	}
	listing, err := activity.Normalize(raws[1])
	if err != nil {
		t.Fatalf("normalize listing: %v", err)
	}
	if !listing.Timestamp.Equal(time.Unix(1700000000, 0)) || listing.Price.String() != "100000000000000000" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
}

func TestFetchEvents_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	if _, err := c.FetchEvents(context.Background(), []string{"things"}, nil, 5); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got=%v", err)
	}
}

func TestHighestOffer_MaxAcrossKinds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb/7/offers") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"offers":[{"current_price":"100000000000000000"}],
			"seaport_offers":[{"current_price":"250000000000000000.0000"},{"current_price":"garbage"}]}`))
	})

	got, err := c.HighestOffer(context.Background(), common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), "7")
	if err != nil {
		t.Fatalf("offers: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("expected 0.25 ETH, got=%s", got)
	}
}

func TestHighestOffer_NoOffersIsZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	got, err := c.HighestOffer(context.Background(), common.Address{}, "1")
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero, got=%s err=%v", got, err)
	}
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "ftp://x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestStreamClient_JoinsAndDispatches(t *testing.T) {
	joined := make(chan string, 4)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "k" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Event != "phx_join" {
				continue
			}
			joined <- f.Topic
			push := `{"topic":"` + f.Topic + `","event":"item_sold","payload":{"event_type":"item_sold","sent_at":"x","payload":{
				"event_timestamp":"2024-01-02T03:04:05.000000+00:00","sale_price":"5","base_price":"",
				"item":{"nft_id":"ethereum/0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb/42","metadata":{"name":"","image_url":"i"}},
				"maker":{"address":"0x3333333333333333333333333333333333333333"},
				"payment_token":{"symbol":"ETH"},"transaction":{"hash":"0xabc"}}}}`
			_ = conn.WriteMessage(websocket.TextMessage, []byte(push))
		}
	}))
	defer srv.Close()

	c := NewStreamClient(StreamConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), APIKey: "k"})
	defer c.Close()

	got := make(chan activity.RawEvent, 4)
	unsub, err := c.Subscribe("things", func(r activity.RawEvent) { got <- r })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	select {
	case topic := <-joined:
		if topic != "collection:things" {
			t.Fatalf("unexpected topic %q", topic)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for join")
	}

	select {
	case r := <-got:
		ev, err := activity.Normalize(r)
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if ev.EventType != activity.EventSuccessful || ev.TokenID != "42" || ev.TxHash() != "0xabc" || ev.Name != "#42" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestItemEvent_RejectsMalformedNFTID(t *testing.T) {
	var ev itemEvent
	if err := json.Unmarshal([]byte(`{"event_type":"item_listed","payload":{"item":{"nft_id":"ethereum/0xbb"}}}`), &ev); err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.raw(); ok {
		t.Fatal("expected malformed nft_id to be rejected")
	}
}
