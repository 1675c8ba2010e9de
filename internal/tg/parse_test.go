package tg

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseEthToWei(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	got, err := ParseEthToWei("1")
	if err != nil || got.Cmp(oneEth) != 0 {
		t.Fatalf("expected 1 ETH, got=%v err=%v", got, err)
	}

	half, err := ParseEthToWei("0.5")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	expHalf := new(big.Int).Div(oneEth, big.NewInt(2))
	if half.Cmp(expHalf) != 0 {
		t.Fatalf("expected 0.5 ETH in wei, got=%v", half)
	}

	_, err = ParseEthToWei("0")
	if err == nil {
		t.Fatalf("expected error for 0")
	}

	_, err = ParseEthToWei("-1")
	if err == nil {
		t.Fatalf("expected error for negative")
	}

	_, err = ParseEthToWei("abc")
	if err == nil {
		t.Fatalf("expected error for non-number")
	}

	got, err = ParseEthToWei("1,5")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	exp := new(big.Int).Mul(oneEth, big.NewInt(3))
	exp.Div(exp, big.NewInt(2))
	if got.Cmp(exp) != 0 {
		t.Fatalf("expected 1.5 ETH, got=%v", got)
	}
}

func TestValidators(t *testing.T) {
	if !IsTxHash("0x" + repeat("a", 64)) {
		t.Fatalf("expected valid tx hash")
	}
	if IsTxHash("0x123") {
		t.Fatalf("expected invalid tx hash")
	}

	if !IsEthAddress("0x" + repeat("b", 40)) {
		t.Fatalf("expected valid address")
	}
	if IsEthAddress("0x" + repeat("b", 39)) {
		t.Fatalf("expected invalid address")
	}

	if !IsCollectionSlug("boredapeyachtclub") || !IsCollectionSlug("cool-cats_nft") {
		t.Fatalf("expected valid slugs")
	}
	if IsCollectionSlug("Bad Slug") || IsCollectionSlug("") {
		t.Fatalf("expected invalid slugs")
	}
}

func TestParseMassBid(t *testing.T) {
	addr := "0x" + repeat("b", 40)

	tokens, p, err := ParseMassBid(addr + " 0,25 1 2 2 3 skip")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(tokens) != 3 || tokens[0].TokenID != "1" || tokens[2].TokenID != "3" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
	if !p.Price.Equal(decimal.RequireFromString("0.25")) || !p.SkipOnHigherOffer {
		t.Fatalf("unexpected params: %+v", p)
	}

	if _, _, err := ParseMassBid(addr + " 0.1 skip"); !errors.Is(err, ErrInvalidMassBid) {
		t.Fatalf("expected ErrInvalidMassBid without tokens, got=%v", err)
	}
	if _, _, err := ParseMassBid(addr + " 0.1 1 x"); !errors.Is(err, ErrInvalidMassBid) {
		t.Fatalf("expected ErrInvalidMassBid for bad token, got=%v", err)
	}
	if _, _, err := ParseMassBid(addr + " 0 1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got=%v", err)
	}
}

func TestParseItem(t *testing.T) {
	addr := "0x" + repeat("b", 40)
	c, id, err := ParseItem(addr + " 42")
	if err != nil || id != "42" || c.Hex() == "" {
		t.Fatalf("unexpected: %v %q %v", c, id, err)
	}
	if _, _, err := ParseItem(addr); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got=%v", err)
	}
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
