package tg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pvzzle/gasrace/internal/engine"
	"github.com/pvzzle/gasrace/internal/gas"
	"github.com/pvzzle/gasrace/internal/massbid"
	"github.com/pvzzle/gasrace/internal/race"
	"github.com/pvzzle/gasrace/internal/sent"
	"github.com/pvzzle/gasrace/internal/storage"
	"github.com/pvzzle/gasrace/internal/watch"
)

var kindIcon = map[storage.EventKind]string{
	storage.KindSale: "💸",
	storage.KindBid:  "🏷",
	storage.KindBuy:  "🛒",
}

func FormatHistory(items []storage.HistoryItem) string {
	var sb strings.Builder
	sb.WriteString("🕘 History (latest 10)\n\n")

	for _, it := range items {
		status := ""
		if it.TxStatus != nil {
			switch sent.Status(*it.TxStatus) {
			case sent.StatusConfirmed:
				status = " ✅"
			case sent.StatusFailed, sent.StatusDenied:
				status = " ❌"
			default:
				status = " ⏳"
			}
		}

		sb.WriteString(fmt.Sprintf(
			"%s %s %s #%s%s\n  %s · %s\n",
			kindIcon[it.Kind], it.Kind, shortenHash(it.Contract), it.TokenID, status,
			it.At.UTC().Format("02 Jan 15:04"), it.Detail,
		))
		if it.Kind == storage.KindBuy {
			sb.WriteString(fmt.Sprintf("  tx %s\n", shortenHash(it.Ref)))
		}
	}

	return sb.String()
}

func FormatStatus(st engine.Status) string {
	var lines []string
	lines = append(lines, "📊 Status")
	feed := string(st.Feed)
	if st.Failures > 0 {
		feed = fmt.Sprintf("%s (%d failed polls)", feed, st.Failures)
	}
	lines = append(lines, "Feed: "+feed)

	sub := "disconnected"
	if st.Connected {
		sub = "connected"
	}
	if st.Idle {
		sub += ", idle"
	}
	lines = append(lines, "Pending subscription: "+sub)
	lines = append(lines, fmt.Sprintf("Block: %d (second %d/12)", st.SessionBlock, st.BlockSecond+1))
	lines = append(lines, fmt.Sprintf("Pending purchases: %d, own in flight: %d", st.PendingCount, st.OwnPending))
	lines = append(lines, fmt.Sprintf("Sales seen: %d", st.SalesObserved))

	mb := st.MassBid
	if len(mb.Tokens) == 0 {
		lines = append(lines, "Mass bid: none")
	} else {
		done := 0
		for _, s := range mb.States {
			if s != massbid.StateProcessing && s != massbid.StateRetrying {
				done++
			}
		}
		lines = append(lines, fmt.Sprintf("Mass bid: %s, %d/%d tokens at %s ETH", mb.Status, done, len(mb.Tokens), mb.Params.Price.String()))
	}
	return strings.Join(lines, "\n")
}

func FormatRaces(races []race.Race) string {
	if len(races) == 0 {
		return "No races right now."
	}
	var sb strings.Builder
	sb.WriteString("🏁 Races\n")
	for _, rc := range races {
		h := rc.Highest
		who := shortenHash(h.From.Hex())
		if h.FromSelf {
			who = "you"
		}
		sb.WriteString(fmt.Sprintf(
			"\n%s #%s: %d bids, top %s gwei by %s",
			shortenHash(rc.Contract.Hex()), rc.TokenID, len(rc.Competitors), gas.ReadableGwei(h.PriorityFee), who,
		))
		if rc.BlocksLate > 0 {
			sb.WriteString(fmt.Sprintf(", %d blocks late", rc.BlocksLate))
		}
	}
	return sb.String()
}

func FormatWatchList(w watch.ChatWatch) string {
	lines := []string{"📌 Your watch list:"}
	if len(w.Collections) == 0 && len(w.Contracts) == 0 {
		return lines[0] + "\n(empty)"
	}

	cols := append([]string(nil), w.Collections...)
	sort.Strings(cols)
	for _, c := range cols {
		lines = append(lines, "collection "+c)
	}
	for _, a := range w.Contracts {
		lines = append(lines, "contract "+a.Hex())
	}
	return strings.Join(lines, "\n")
}

func FormatSentTx(tx sent.Transaction) string {
	name := tx.Asset.Name
	if name == "" {
		name = "#" + tx.Asset.TokenID
	}
	return fmt.Sprintf("🛒 %s\nContract: %s\nStatus: %s\nBlock: %d\nFee cap: %s gwei\nTip: %s gwei",
		name, tx.Asset.Contract.Hex(), tx.Status, tx.SessionBlock,
		gas.ReadableGwei(tx.PriorityFee), gas.ReadableGwei(tx.MaxPriorityFeePerGas))
}

func shortenHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}
