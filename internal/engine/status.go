package engine

import (
	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/massbid"
)

// Status is a point-in-time summary of the session.
type Status struct {
	Feed          activity.Status  `json:"feed"`
	Failures      int              `json:"consecutiveFailures"`
	Collections   []string         `json:"collections"`
	Connected     bool             `json:"pendingConnected"`
	Idle          bool             `json:"idle"`
	SessionBlock  uint64           `json:"sessionBlock"`
	BlockSecond   int              `json:"blockSecond"`
	PendingCount  int              `json:"pending"`
	OwnPending    int              `json:"ownPending"`
	SalesObserved int              `json:"sales"`
	MassBid       massbid.Snapshot `json:"massBid"`
}

func (e *Engine) Status() Status {
	return Status{
		Feed:          e.Feed.Status(),
		Failures:      e.Feed.ConsecutiveFailures(),
		Collections:   e.Feed.Collections(),
		Connected:     e.Pending.Connected(),
		Idle:          e.Idle.Idle(),
		SessionBlock:  e.Blocks.SessionBlockNumber(),
		BlockSecond:   e.Blocks.BlockSecond(),
		PendingCount:  len(e.Pending.Snapshot()),
		OwnPending:    len(e.Sent.Pending()),
		SalesObserved: e.Sales.Len(),
		MassBid:       e.MassBid.Snapshot(),
	}
}
