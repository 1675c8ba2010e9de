package gas

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestWeiToEthString(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	if got := WeiToEthString(oneEth); got != "1.000000" {
		t.Fatalf("expected 1.000000, got %q", got)
	}

	half := new(big.Int).Div(oneEth, big.NewInt(2))
	if got := WeiToEthString(half); got != "0.500000" {
		t.Fatalf("expected 0.500000, got %q", got)
	}

	if got := WeiToEthString(nil); got != "0.000000" {
		t.Fatalf("expected zero for nil, got %q", got)
	}
}

func TestGweiRoundTrip(t *testing.T) {
	wei := big.NewInt(22_500_000_000)
	g := WeiToGwei(wei)
	if !g.Equal(decimal.RequireFromString("22.5")) {
		t.Fatalf("expected 22.5 gwei, got=%s", g)
	}
	if back := GweiToWei(g); back.Cmp(wei) != 0 {
		t.Fatalf("expected %s wei, got=%s", wei, back)
	}
	if got := ReadableGwei(big.NewInt(1_234_567_890)); got != "1.2" {
		t.Fatalf("expected 1.2, got=%s", got)
	}
}

func TestOptimalClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fee":"120.5","priorityFee":"3"}`))
	}))
	defer srv.Close()

	p, err := NewOptimalClient(srv.URL).Optimal(context.Background())
	if err != nil {
		t.Fatalf("optimal: %v", err)
	}
	if !p.Fee.Equal(decimal.RequireFromString("120.5")) || !p.PriorityFee.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected preset: %+v", p)
	}
	if p.PriorityFeeWei().Cmp(big.NewInt(3_000_000_000)) != 0 {
		t.Fatalf("unexpected priority wei: %s", p.PriorityFeeWei())
	}

	if _, err := NewOptimalClient("").Optimal(context.Background()); err != ErrNoPresetSource {
		t.Fatalf("expected ErrNoPresetSource, got=%v", err)
	}
}
