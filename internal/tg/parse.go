package tg

import (
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/pvzzle/gasrace/internal/gas"
	"github.com/pvzzle/gasrace/internal/massbid"

	"github.com/ethereum/go-ethereum/common"
)

var (
	reTxHash  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	reEthAddr = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{40}$`)
	reTokenID = regexp.MustCompile(`^[0-9]+$`)
	reSlug    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	weiPerEth = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	ErrInvalidAmount  = errors.New("invalid eth amount")
	ErrInvalidMassBid = errors.New("expected: <contract> <price ETH> <tokenId> [tokenId...] [skip]")
	ErrInvalidItem    = errors.New("expected: <contract> <tokenId>")
)

func IsTxHash(s string) bool {
	s = strings.TrimSpace(s)
	return reTxHash.MatchString(s)
}

func IsEthAddress(s string) bool {
	s = strings.TrimSpace(s)
	return reEthAddr.MatchString(s)
}

func IsCollectionSlug(s string) bool {
	return reSlug.MatchString(strings.TrimSpace(s))
}

// ParseEthToWei parses an ETH amount ("1.5", "0,5") into wei, floored. It must be > 0.
func ParseEthToWei(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	amount = strings.ReplaceAll(amount, ",", ".")

	r, ok := new(big.Rat).SetString(amount)
	if !ok || r.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	r.Mul(r, new(big.Rat).SetInt(weiPerEth))

	// floor(r)
	out := new(big.Int)
	out.Div(r.Num(), r.Denom())
	if out.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	return out, nil
}

// ParseItem reads "<contract> <tokenId>".
func ParseItem(text string) (common.Address, string, error) {
	f := strings.Fields(text)
	if len(f) != 2 || !IsEthAddress(f[0]) || !reTokenID.MatchString(f[1]) {
		return common.Address{}, "", ErrInvalidItem
	}
	return common.HexToAddress(f[0]), f[1], nil
}

// ParseMassBid reads "<contract> <price> <tokenId>... [skip]". Duplicate
// token ids are dropped, order is kept.
func ParseMassBid(text string) ([]massbid.Token, massbid.Params, error) {
	f := strings.Fields(text)
	if len(f) < 3 || !IsEthAddress(f[0]) {
		return nil, massbid.Params{}, ErrInvalidMassBid
	}

	var p massbid.Params
	if strings.EqualFold(f[len(f)-1], "skip") {
		p.SkipOnHigherOffer = true
		f = f[:len(f)-1]
	}
	if len(f) < 3 {
		return nil, massbid.Params{}, ErrInvalidMassBid
	}

	wei, err := ParseEthToWei(f[1])
	if err != nil {
		return nil, massbid.Params{}, err
	}
	p.Price = gas.WeiToEth(wei)

	contract := common.HexToAddress(f[0])
	seen := make(map[string]struct{})
	var tokens []massbid.Token
	for _, id := range f[2:] {
		if !reTokenID.MatchString(id) {
			return nil, massbid.Params{}, ErrInvalidMassBid
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tokens = append(tokens, massbid.Token{Contract: contract, TokenID: id})
	}
	return tokens, p, nil
}
