package activity

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventCreated    EventType = "CREATED"
	EventSuccessful EventType = "SUCCESSFUL"
)

type Filter string

const (
	FilterAll        Filter = "ALL"
	FilterCreated    Filter = "CREATED"
	FilterSuccessful Filter = "SUCCESSFUL"
	FilterNone       Filter = "NONE"
)

// Event is a normalized marketplace listing or sale. It is never mutated after Normalize.
type Event struct {
	ListingID         string         `json:"listingId"`
	TokenID           string         `json:"tokenId"`
	ContractAddress   common.Address `json:"contractAddress"`
	SellerAddress     common.Address `json:"sellerAddress"`
	Chain             string         `json:"chain"`
	Name              string         `json:"name"`
	Image             string         `json:"image"`
	Price             *big.Int       `json:"price"`
	Currency          string         `json:"currency"`
	Timestamp         time.Time      `json:"timestamp"`
	EventType         EventType      `json:"eventType"`
	BlockExplorerLink string         `json:"blockExplorerLink,omitempty"`
}

// TxHash is the last path segment of the block explorer link, if any.
func (e Event) TxHash() string {
	link := strings.TrimRight(strings.TrimSpace(e.BlockExplorerLink), "/")
	if link == "" {
		return ""
	}
	if i := strings.LastIndex(link, "/"); i >= 0 {
		return link[i+1:]
	}
	return link
}

// RawEvent is what marketplace sources hand over before normalization.
type RawEvent struct {
	Type              string
	ID                string
	Timestamp         string
	Chain             string
	TokenID           string
	ContractAddress   string
	Seller            string
	Name              string
	Image             string
	Price             string
	Currency          string
	BlockExplorerLink string
}

var ErrIncompleteEvent = errors.New("activity: incomplete event")

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	time.RFC3339Nano,
}

// ParseTimestamp accepts the zone-less UTC timestamps marketplaces return as
// well as RFC3339 values.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("activity: bad timestamp %q", s)
}

func normalizeType(t string) (EventType, bool) {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "CREATED", "ITEM_LISTED", "LISTED":
		return EventCreated, true
	case "SUCCESSFUL", "ITEM_SOLD", "SOLD":
		return EventSuccessful, true
	default:
		return "", false
	}
}

func normalizeChain(c string) string {
	switch strings.ToUpper(strings.TrimSpace(c)) {
	case "MATIC", "POLYGON":
		return "polygon"
	default:
		return "ethereum"
	}
}

// Normalize converts a raw record into an Event. Records without an asset
// reference or with an unknown type are rejected.
func Normalize(raw RawEvent) (Event, error) {
	et, ok := normalizeType(raw.Type)
	if !ok {
		return Event{}, fmt.Errorf("%w: type %q", ErrIncompleteEvent, raw.Type)
	}
	if strings.TrimSpace(raw.TokenID) == "" || !common.IsHexAddress(raw.ContractAddress) {
		return Event{}, fmt.Errorf("%w: missing asset", ErrIncompleteEvent)
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return Event{}, err
	}

	price := new(big.Int)
	if strings.TrimSpace(raw.Price) != "" {
		if _, ok := price.SetString(strings.TrimSpace(raw.Price), 10); !ok {
			return Event{}, fmt.Errorf("activity: bad price %q", raw.Price)
		}
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = "#" + raw.TokenID
	}

	var seller common.Address
	if common.IsHexAddress(raw.Seller) {
		seller = common.HexToAddress(raw.Seller)
	}

	return Event{
		ListingID:         fmt.Sprintf("%s:%s:%s", et, raw.ID, raw.Timestamp),
		TokenID:           raw.TokenID,
		ContractAddress:   common.HexToAddress(raw.ContractAddress),
		SellerAddress:     seller,
		Chain:             normalizeChain(raw.Chain),
		Name:              name,
		Image:             raw.Image,
		Price:             price,
		Currency:          raw.Currency,
		Timestamp:         ts,
		EventType:         et,
		BlockExplorerLink: raw.BlockExplorerLink,
	}, nil
}
