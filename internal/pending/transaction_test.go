package pending

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestDecode_EIP1559UsesMinOfFees(t *testing.T) {
	now := time.Unix(100, 0)
	tx, err := Decode(Candidate{MaxFeePerGas: big.NewInt(10), MaxPriorityFeePerGas: big.NewInt(25)}, 4, now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.PriorityFee.Int64() != 10 || tx.IsLegacy() {
		t.Fatalf("expected capped tip 10, got=%s legacy=%v", tx.PriorityFee, tx.IsLegacy())
	}
	if tx.SessionBlock != 4 || !tx.AddedAt.Equal(now) {
		t.Fatalf("tags not applied: %+v", tx)
	}
}

func TestDecode_LegacyKeepsGasPrice(t *testing.T) {
	tx, err := Decode(Candidate{GasPrice: big.NewInt(77)}, 0, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !tx.IsLegacy() || tx.PriorityFee.Int64() != 77 || tx.MaxPriorityFeePerGas != nil {
		t.Fatalf("unexpected legacy decode: %+v", tx)
	}

	if _, err := Decode(Candidate{}, 0, time.Unix(0, 0)); !errors.Is(err, ErrNoGasFields) {
		t.Fatalf("expected ErrNoGasFields, got=%v", err)
	}
}

func TestDecodeMessage(t *testing.T) {
	msg := []byte(`{"event":"pendingTransaction","data":{
		"hash":"0x00000000000000000000000000000000000000000000000000000000000000ff",
		"fromAddress":"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"gasPrice":null,
		"maxFeePerGas":"0x3b9aca00",
		"maxPriorityFeePerGas":2000000000,
		"contractAddress":"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"tokenId":"7"}}`)

	c, ok, err := decodeMessage(msg)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if c.Contract != common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb") || c.TokenID != "7" {
		t.Fatalf("unexpected item: %+v", c)
	}
	if c.GasPrice != nil || c.MaxFeePerGas.Int64() != 1_000_000_000 || c.MaxPriorityFeePerGas.Int64() != 2_000_000_000 {
		t.Fatalf("unexpected fees: %+v", c)
	}

	if _, ok, err := decodeMessage([]byte(`{"event":"hello"}`)); ok || err != nil {
		t.Fatalf("expected other events ignored, ok=%v err=%v", ok, err)
	}
}
