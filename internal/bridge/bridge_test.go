package bridge

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pvzzle/gasrace/internal/gas"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestRequest_JSONShape(t *testing.T) {
	req := Request{
		Method: MethodBid,
		Tag:    Tag{TokenID: "7", Address: common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), Generation: 3},
		Price:  decimal.RequireFromString("0.25"),
		Gas:    &gas.Preset{Fee: decimal.NewFromInt(110), PriorityFee: decimal.NewFromInt(22)},
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["method"] != "bid" || m["price"] != "0.25" {
		t.Fatalf("unexpected shape: %s", b)
	}
	tag, ok := m["tag"].(map[string]any)
	if !ok || tag["tokenId"] != "7" || tag["generation"] != float64(3) {
		t.Fatalf("unexpected tag: %#v", m["tag"])
	}
	gp, ok := m["gasPreset"].(map[string]any)
	if !ok || gp["fee"] != "110" || gp["priorityFee"] != "22" {
		t.Fatalf("unexpected gas preset: %#v", m["gasPreset"])
	}
	if _, ok := m["expirationTime"]; ok {
		t.Fatal("zero expirationTime must be omitted")
	}
}

func TestDispatch_RoutesByMethod(t *testing.T) {
	b := NewRedis(nil, Config{})

	var bids, buys []Outcome
	b.Handle(MethodBid, func(o Outcome) { bids = append(bids, o) })
	b.Handle(MethodBuy, func(o Outcome) { buys = append(buys, o) })

	payload := `{"method":"bid","tag":{"tokenId":"7","address":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb","generation":2},
		"kind":"error","error":{"message":"User denied message signature"}}`
	if err := b.dispatch([]byte(payload)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(bids) != 1 || len(buys) != 0 {
		t.Fatalf("unexpected routing bids=%d buys=%d", len(bids), len(buys))
	}
	o := bids[0]
	if o.Kind != KindError || o.Tag.Generation != 2 || o.ErrorMessage() != "User denied message signature" {
		t.Fatalf("unexpected outcome: %+v", o)
	}

	if err := b.dispatch([]byte(`{"method":"transfer","kind":"sent"}`)); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got=%v", err)
	}
	if err := b.dispatch([]byte(`nope`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := (Config{}).withDefaults()
	if c.RequestChannel == "" || c.ResponseChannel == "" || c.RequestChannel == c.ResponseChannel {
		t.Fatalf("bad defaults: %+v", c)
	}
}
