package httpapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/bridge"
	"github.com/pvzzle/gasrace/internal/clock"
	"github.com/pvzzle/gasrace/internal/engine"
	"github.com/pvzzle/gasrace/internal/massbid"
	"github.com/pvzzle/gasrace/internal/pending"

	"github.com/ethereum/go-ethereum/common"
)

const contractHex = "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"

type captureSender struct {
	mu   sync.Mutex
	reqs []bridge.Request
}

func (s *captureSender) Send(ctx context.Context, req bridge.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return nil
}

func newTestServer(t *testing.T, d engine.Deps) (http.Handler, *engine.Engine) {
	t.Helper()
	d.Clock = clock.NewFake(time.Unix(1000, 0))
	eng := engine.New(d, engine.Config{})
	t.Cleanup(eng.Stop)
	return NewServer(":0", NewController(eng)).Handler, eng
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, engine.Deps{})
	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health: %d %s", rec.Code, rec.Body.String())
	}
}

func TestActivityFilter(t *testing.T) {
	h, eng := newTestServer(t, engine.Deps{})
	eng.Feed.Ingest(
		activity.Event{ListingID: "CREATED:a", TokenID: "1", EventType: activity.EventCreated, Timestamp: time.Unix(900, 0)},
		activity.Event{ListingID: "SUCCESSFUL:b", TokenID: "2", EventType: activity.EventSuccessful, Timestamp: time.Unix(901, 0)},
	)

	var got []activity.Event
	rec := do(t, h, http.MethodGet, "/api/activity?filter=successful", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].TokenID != "2" {
		t.Fatalf("expected only the sale, got=%+v", got)
	}

	rec = do(t, h, http.MethodGet, "/api/activity?filter=NONE", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list for NONE, got=%s", rec.Body.String())
	}

	if rec := do(t, h, http.MethodGet, "/api/activity?filter=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got=%d", rec.Code)
	}
}

func TestRaceAndOutbid(t *testing.T) {
	s := &captureSender{}
	h, eng := newTestServer(t, engine.Deps{Sender: s})
	contract := common.HexToAddress(contractHex)
	eng.SetWatched(nil, []common.Address{contract})

	if rec := do(t, h, http.MethodGet, "/api/race/"+contractHex+"/7", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without competitors, got=%d", rec.Code)
	}

	eng.Pending.Add(pending.Candidate{
		Hash:                 common.BytesToHash([]byte{1}),
		MaxFeePerGas:         big.NewInt(100_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(20_000_000_000),
		Contract:             contract,
		TokenID:              "7",
	})

	if rec := do(t, h, http.MethodGet, "/api/race/"+contractHex+"/7", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected race, got=%d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/race/nope/7", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad address, got=%d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/outbid/"+contractHex+"/7", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got=%d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"22"`) {
		t.Fatalf("expected a 22 gwei tip in %s", rec.Body.String())
	}
	s.mu.Lock()
	n := len(s.reqs)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one buy request, got=%d", n)
	}
}

func TestMassBidLifecycle(t *testing.T) {
	s := &captureSender{}
	h, eng := newTestServer(t, engine.Deps{Sender: s})

	body := `{"tokens":[{"contractAddress":"` + contractHex + `","tokenId":"1"}],"params":{"price":"0.1"}}`
	if rec := do(t, h, http.MethodPost, "/api/massbid", body); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got=%d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/massbid", body); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while processing, got=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/massbid", `{"tokens":[],"params":{"price":"0.1"}}`); rec.Code != http.StatusConflict && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected rejection, got=%d", rec.Code)
	}

	do(t, h, http.MethodPost, "/api/massbid/stop", "")
	if snap := eng.MassBid.Snapshot(); snap.Status != massbid.StatusStopped {
		t.Fatalf("expected stopped, got=%s", snap.Status)
	}

	if rec := do(t, h, http.MethodPost, "/api/massbid/clear", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got=%d", rec.Code)
	}
	if snap := eng.MassBid.Snapshot(); snap.Status != massbid.StatusIdle {
		t.Fatalf("expected idle after clear, got=%s", snap.Status)
	}
}

func TestVisibilityAndTouch(t *testing.T) {
	h, eng := newTestServer(t, engine.Deps{})

	if rec := do(t, h, http.MethodPost, "/api/visibility", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without visible, got=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/visibility", `{"visible":true}`); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/activity/touch", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got=%d", rec.Code)
	}
	if eng.Idle.Idle() {
		t.Fatal("expected active after touch")
	}

	var st engine.Status
	rec := do(t, h, http.MethodGet, "/api/status", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Idle {
		t.Fatalf("unexpected status %+v", st)
	}
}
