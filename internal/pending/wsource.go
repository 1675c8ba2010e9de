package pending

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"

	"github.com/pvzzle/gasrace/internal/wsconn"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrNoAccessToken = errors.New("pending: access token is required")

const eventPendingTransaction = "pendingTransaction"

// WSSource streams pending purchases from an authenticated websocket feed.
type WSSource struct {
	URL   string
	Token string
	Opts  wsconn.Options
}

type subscribeMsg struct {
	Action    string   `json:"action"`
	Contracts []string `json:"contracts"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wirePending struct {
	Hash                 common.Hash    `json:"hash"`
	FromAddress          common.Address `json:"fromAddress"`
	GasPrice             weiValue       `json:"gasPrice"`
	MaxFeePerGas         weiValue       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas weiValue       `json:"maxPriorityFeePerGas"`
	ContractAddress      common.Address `json:"contractAddress"`
	TokenID              string         `json:"tokenId"`
}

// weiValue accepts decimal strings, 0x-hex strings, JSON numbers and null.
type weiValue struct{ v *big.Int }

func (w *weiValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		w.v = nil
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		w.v = nil
		return nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(strings.ToLower(s))
		if err != nil {
			return fmt.Errorf("wei hex %q: %w", s, err)
		}
		w.v = v
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("wei value %q: not an integer", s)
	}
	w.v = v
	return nil
}

func (p wirePending) candidate() Candidate {
	return Candidate{
		Hash:                 p.Hash,
		From:                 p.FromAddress,
		GasPrice:             p.GasPrice.v,
		MaxFeePerGas:         p.MaxFeePerGas.v,
		MaxPriorityFeePerGas: p.MaxPriorityFeePerGas.v,
		Contract:             p.ContractAddress,
		TokenID:              p.TokenID,
	}
}

type wsSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *wsSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *WSSource) Subscribe(ctx context.Context, contracts []common.Address, handle func(Candidate)) (Subscription, error) {
	if s.Token == "" {
		return nil, ErrNoAccessToken
	}
	if s.URL == "" {
		return nil, errors.New("pending: source url is empty")
	}

	opts := s.Opts
	if opts.Header == nil {
		opts.Header = http.Header{}
	}
	opts.Header.Set("Authorization", "Bearer "+s.Token)
	if opts.Tag == "" {
		opts.Tag = "[pending]"
	}

	req := subscribeMsg{Action: "subscribe"}
	for _, c := range contracts {
		req.Contracts = append(req.Contracts, strings.ToLower(c.Hex()))
	}

	cctx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		wsconn.Run(cctx, s.URL, opts,
			func(sess *wsconn.Session) error { return sess.WriteJSON(req) },
			func(msg []byte) {
				c, ok, err := decodeMessage(msg)
				if err != nil {
					log.Printf("[pending] decode: %v", err)
					return
				}
				if ok {
					handle(c)
				}
			})
	}()

	return sub, nil
}

func decodeMessage(msg []byte) (Candidate, bool, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Candidate{}, false, err
	}
	if env.Event != eventPendingTransaction || len(env.Data) == 0 {
		return Candidate{}, false, nil
	}
	var p wirePending
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Candidate{}, false, fmt.Errorf("pending payload: %w", err)
	}
	return p.candidate(), true, nil
}
