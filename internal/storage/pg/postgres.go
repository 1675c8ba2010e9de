package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/pvzzle/gasrace/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sales (
  seller    TEXT NOT NULL,
  contract  TEXT NOT NULL,
  token_id  TEXT NOT NULL,
  sold_at   TIMESTAMPTZ NOT NULL,

  chain     TEXT NOT NULL,
  tx_hash   TEXT NULL,
  name      TEXT NOT NULL DEFAULT '',
  price_wei NUMERIC(78,0) NOT NULL DEFAULT 0,
  currency  TEXT NOT NULL DEFAULT '',

  recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (seller, contract, token_id, sold_at)
);

CREATE TABLE IF NOT EXISTS bid_outcomes (
  id         BIGSERIAL PRIMARY KEY,
  generation BIGINT NOT NULL,
  contract   TEXT NOT NULL,
  token_id   TEXT NOT NULL,
  state      TEXT NOT NULL, -- COMPLETED|OUTBID|SKIPPED|FAILED
  message    TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sent_txs (
  hash TEXT PRIMARY KEY,
  contract TEXT NOT NULL,
  token_id TEXT NOT NULL,
  name     TEXT NOT NULL DEFAULT '',

  fee_cap_wei          NUMERIC(78,0) NULL,
  max_priority_fee_wei NUMERIC(78,0) NULL,
  session_block        BIGINT NOT NULL,

  status TEXT NOT NULL, -- PENDING|CONFIRMED|FAILED|DENIED

  first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_events (
  chat_id  BIGINT NOT NULL,
  kind     TEXT NOT NULL, -- sale|bid|buy
  ref      TEXT NOT NULL,
  contract TEXT NOT NULL,
  token_id TEXT NOT NULL,
  detail   TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (chat_id, kind, ref)
);

CREATE INDEX IF NOT EXISTS chat_events_chat_created_idx ON chat_events(chat_id, created_at DESC);
CREATE INDEX IF NOT EXISTS bid_outcomes_item_idx ON bid_outcomes(contract, token_id);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Postgres) AddSale(ctx context.Context, s storage.SaleRecord) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	price := s.PriceWei
	if price == "" {
		price = "0"
	}

	// last write wins per seller/item/time, same as the in-memory correlator
	q := `
INSERT INTO sales(seller, contract, token_id, sold_at, chain, tx_hash, name, price_wei, currency)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9)
ON CONFLICT(seller, contract, token_id, sold_at) DO UPDATE SET
  chain     = EXCLUDED.chain,
  tx_hash   = COALESCE(EXCLUDED.tx_hash, sales.tx_hash),
  name      = EXCLUDED.name,
  price_wei = EXCLUDED.price_wei,
  currency  = EXCLUDED.currency,
  recorded_at = now()
`
	_, err := r.pool.Exec(cctx, q,
		s.Seller, s.Contract, s.TokenID, s.SoldAt,
		s.Chain, nullable(s.Hash), s.Name, price, s.Currency,
	)
	return err
}

func (r *Postgres) AddBidOutcome(ctx context.Context, b storage.BidRecord) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.pool.Exec(cctx,
		`INSERT INTO bid_outcomes(generation, contract, token_id, state, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(b.Generation), b.Contract, b.TokenID, b.State, b.Message, at,
	)
	return err
}

func (r *Postgres) UpsertSentTx(ctx context.Context, tx storage.SentTxRecord) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var (
		feeCap  any = nil
		prioFee any = nil
	)
	if tx.FeeCapWei != nil {
		feeCap = *tx.FeeCapWei
	}
	if tx.MaxPriorityFeeWei != nil {
		prioFee = *tx.MaxPriorityFeeWei
	}
	added := tx.AddedAt
	if added.IsZero() {
		added = time.Now().UTC()
	}

	q := `
INSERT INTO sent_txs(
  hash, contract, token_id, name,
  fee_cap_wei, max_priority_fee_wei, session_block,
  status, first_seen_at
) VALUES (
  $1, $2, $3, $4,
  $5::numeric, $6::numeric, $7,
  $8, $9
)
ON CONFLICT(hash) DO UPDATE SET
  contract = EXCLUDED.contract,
  token_id = EXCLUDED.token_id,
  name     = EXCLUDED.name,
  fee_cap_wei          = COALESCE(EXCLUDED.fee_cap_wei, sent_txs.fee_cap_wei),
  max_priority_fee_wei = COALESCE(EXCLUDED.max_priority_fee_wei, sent_txs.max_priority_fee_wei),
  session_block        = EXCLUDED.session_block,
  status     = EXCLUDED.status,
  updated_at = now()
`
	_, err := r.pool.Exec(cctx, q,
		tx.Hash, tx.Contract, tx.TokenID, tx.Name,
		feeCap, prioFee, int64(tx.SessionBlock),
		tx.Status, added,
	)
	return err
}

func (r *Postgres) AddChatEvent(ctx context.Context, chatID int64, ev storage.ChatEvent) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := r.pool.Exec(cctx,
		`INSERT INTO chat_events(chat_id, kind, ref, contract, token_id, detail) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT DO NOTHING`,
		chatID, string(ev.Kind), ev.Ref, ev.Contract, ev.TokenID, ev.Detail,
	)
	return err
}

func (r *Postgres) ListHistory(ctx context.Context, chatID int64, limit int) ([]storage.HistoryItem, error) {
	if limit <= 0 {
		limit = 10
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	q := `
SELECT
  c.created_at,
  c.kind,
  c.ref,
  c.contract,
  c.token_id,
  c.detail,
  s.status
FROM chat_events c
LEFT JOIN sent_txs s ON c.kind = 'buy' AND s.hash = c.ref
WHERE c.chat_id = $1
ORDER BY c.created_at DESC
LIMIT $2
`
	rows, err := r.pool.Query(cctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.HistoryItem
	for rows.Next() {
		var (
			at       time.Time
			kind     string
			ref      string
			contract string
			tokenID  string
			detail   string
			status   *string
		)

		if err := rows.Scan(&at, &kind, &ref, &contract, &tokenID, &detail, &status); err != nil {
			return nil, err
		}

		out = append(out, storage.HistoryItem{
			At: at, Kind: storage.EventKind(kind),
			Ref: ref, Contract: contract, TokenID: tokenID,
			Detail: detail, TxStatus: status,
		})
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return out, nil
}

func (r *Postgres) String() string { return fmt.Sprintf("pgrepo(%p)", r.pool) }
