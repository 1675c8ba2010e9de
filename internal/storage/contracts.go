package storage

import "context"

type Repository interface {
	EnsureSchema(ctx context.Context) error

	AddSale(ctx context.Context, s SaleRecord) error
	AddBidOutcome(ctx context.Context, b BidRecord) error
	UpsertSentTx(ctx context.Context, tx SentTxRecord) error
	AddChatEvent(ctx context.Context, chatID int64, ev ChatEvent) error

	ListHistory(ctx context.Context, chatID int64, limit int) ([]HistoryItem, error)
}
