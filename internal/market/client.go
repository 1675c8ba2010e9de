// Package market talks to the NFT marketplace: the event history API used by
// the polling feed, the offers endpoint used by mass bidding, and the push
// stream used by the streaming feed.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/gas"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultURL = "https://api.opensea.io"

type Config struct {
	BaseURL string
	APIKey  string
	// RPS caps outgoing requests; the API rate-limits aggressively.
	RPS     float64
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultURL
	}
	if c.RPS <= 0 {
		c.RPS = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 12 * time.Second
	}
	return c
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	lim        *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("market url parse %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("market url must be http(s), got %q", cfg.BaseURL)
	}

	burst := int(cfg.RPS)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		lim:        rate.NewLimiter(rate.Limit(cfg.RPS), burst),
	}, nil
}

type apiEvent struct {
	EventType      string `json:"event_type"`
	OrderHash      string `json:"order_hash"`
	Chain          string `json:"chain"`
	EventTimestamp int64  `json:"event_timestamp"`
	Maker          string `json:"maker"`
	Seller         string `json:"seller"`
	Transaction    string `json:"transaction"`
	Payment        *struct {
		Quantity string `json:"quantity"`
		Symbol   string `json:"symbol"`
	} `json:"payment"`
	NFT *struct {
		Identifier string `json:"identifier"`
		Contract   string `json:"contract"`
		Name       string `json:"name"`
		ImageURL   string `json:"image_url"`
	} `json:"nft"`
	Asset *struct {
		Identifier string `json:"identifier"`
		Contract   string `json:"contract"`
		Name       string `json:"name"`
		ImageURL   string `json:"image_url"`
	} `json:"asset"`
}

type eventsResponse struct {
	AssetEvents []apiEvent `json:"asset_events"`
}

const etherscanTx = "https://etherscan.io/tx/"

func (e apiEvent) raw() (activity.RawEvent, bool) {
	item := e.NFT
	if item == nil {
		item = e.Asset
	}
	if item == nil {
		return activity.RawEvent{}, false
	}

	typ := "CREATED"
	seller := e.Maker
	switch e.EventType {
	case "sale":
		typ = "SUCCESSFUL"
		seller = e.Seller
	case "listing", "order":
	default:
		return activity.RawEvent{}, false
	}

	r := activity.RawEvent{
		Type:            typ,
		ID:              e.OrderHash,
		Timestamp:       time.Unix(e.EventTimestamp, 0).UTC().Format("2006-01-02T15:04:05"),
		Chain:           e.Chain,
		TokenID:         item.Identifier,
		ContractAddress: item.Contract,
		Seller:          seller,
		Name:            item.Name,
		Image:           item.ImageURL,
	}
	if r.ID == "" {
		r.ID = item.Contract + "/" + item.Identifier
	}
	if e.Payment != nil {
		r.Price = e.Payment.Quantity
		r.Currency = e.Payment.Symbol
	}
	if e.Transaction != "" {
		r.BlockExplorerLink = etherscanTx + e.Transaction
	}
	return r, true
}

// FetchEvents returns listing and sale events for the given collections,
// newest first. A nil since fetches the latest count events.
func (c *Client) FetchEvents(ctx context.Context, slugs []string, since *time.Time, count int) ([]activity.RawEvent, error) {
	var out []activity.RawEvent
	var stamps []int64
	for _, slug := range slugs {
		q := url.Values{}
		q.Add("event_type", "listing")
		q.Add("event_type", "sale")
		if count > 0 {
			q.Set("limit", strconv.Itoa(count))
		}
		if since != nil {
			q.Set("after", strconv.FormatInt(since.Unix(), 10))
		}

		var resp eventsResponse
		endpoint := c.cfg.BaseURL + "/api/v2/events/collection/" + url.PathEscape(slug) + "?" + q.Encode()
		if err := c.getJSON(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		for _, e := range resp.AssetEvents {
			if r, ok := e.raw(); ok {
				out = append(out, r)
				stamps = append(stamps, e.EventTimestamp)
			}
		}
	}

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return stamps[idx[a]] > stamps[idx[b]] })
	sorted := make([]activity.RawEvent, 0, len(out))
	for _, i := range idx {
		sorted = append(sorted, out[i])
	}
	if count > 0 && len(sorted) > count {
		sorted = sorted[:count]
	}
	return sorted, nil
}

type offer struct {
	CurrentPrice string `json:"current_price"`
}

type offersResponse struct {
	Offers        []offer `json:"offers"`
	SeaportOffers []offer `json:"seaport_offers"`
}

// HighestOffer is the best offer across both order kinds, in ETH. No offers
// is zero.
func (c *Client) HighestOffer(ctx context.Context, contract common.Address, tokenID string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v1/asset/%s/%s/offers", c.cfg.BaseURL, strings.ToLower(contract.Hex()), url.PathEscape(tokenID))

	var resp offersResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}

	best := new(big.Int)
	for _, o := range append(resp.Offers, resp.SeaportOffers...) {
		v, ok := parseWei(o.CurrentPrice)
		if ok && v.Cmp(best) > 0 {
			best = v
		}
	}
	return gas.WeiToEth(best), nil
}

// parseWei accepts integer strings and the decimal form the API sometimes
// returns ("1000000000000000000.0000").
func parseWei(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	return d.Truncate(0).BigInt(), true
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := c.lim.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("market %s: status=%d body=%q", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("market decode: %w", err)
	}
	return nil
}
