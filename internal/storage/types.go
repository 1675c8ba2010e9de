package storage

import "time"

type SaleRecord struct {
	Seller   string
	Contract string
	TokenID  string
	Chain    string
	Hash     string // empty when the event had no explorer link
	Name     string
	PriceWei string // big.Int as a string
	Currency string
	SoldAt   time.Time
}

type BidRecord struct {
	Generation uint64
	Contract   string
	TokenID    string
	State      string
	Message    string
	At         time.Time
}

type SentTxRecord struct {
	Hash              string
	Contract          string
	TokenID           string
	Name              string
	FeeCapWei         *string
	MaxPriorityFeeWei *string
	SessionBlock      uint64
	Status            string
	AddedAt           time.Time
}

type EventKind string

const (
	KindSale EventKind = "sale"
	KindBid  EventKind = "bid"
	KindBuy  EventKind = "buy"
)

// ChatEvent is one journal line delivered to a chat. For buys Ref is the
// transaction hash.
type ChatEvent struct {
	Kind     EventKind
	Ref      string
	Contract string
	TokenID  string
	Detail   string
}

type HistoryItem struct {
	At   time.Time
	Kind EventKind

	Ref      string
	Contract string
	TokenID  string
	Detail   string
	// TxStatus is the latest sent-transaction status for buys.
	TxStatus *string
}
