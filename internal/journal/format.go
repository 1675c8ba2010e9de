package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/gas"
	"github.com/pvzzle/gasrace/internal/massbid"
	"github.com/pvzzle/gasrace/internal/sent"
)

func FormatSale(ev activity.Event) string {
	tx := ev.TxHash()
	if tx == "" {
		tx = "unknown"
	}
	return fmt.Sprintf(
		"💸 Sold\n\nItem: %s\nContract: %s\nToken: %s\nPrice: %s %s\nSeller: %s\nTx: %s\nTime: %s",
		ev.Name,
		ev.ContractAddress.Hex(),
		ev.TokenID,
		gas.WeiToEthString(ev.Price),
		currency(ev.Currency),
		ev.SellerAddress.Hex(),
		tx,
		ev.Timestamp.UTC().Format(time.RFC3339),
	)
}

var bidIcons = map[massbid.TokenState]string{
	massbid.StateCompleted: "✅",
	massbid.StateOutbid:    "📉",
	massbid.StateSkipped:   "⏭",
	massbid.StateFailed:    "❌",
}

func FormatBid(t massbid.Terminal) string {
	icon := bidIcons[t.State]
	if icon == "" {
		icon = "•"
	}
	name := t.Token.Name
	if name == "" {
		name = "#" + t.Token.TokenID
	}
	msg := fmt.Sprintf("%s Bid %s\n\nItem: %s\nContract: %s\nRun: %d",
		icon, strings.ToLower(string(t.State)), name, t.Token.Contract.Hex(), t.Generation)
	if t.Message != "" {
		msg += "\nReason: " + t.Message
	}
	return msg
}

func FormatSent(tx sent.Transaction) string {
	name := tx.Asset.Name
	if name == "" {
		name = "#" + tx.Asset.TokenID
	}
	gasLine := "wallet default"
	if tx.PriorityFee != nil {
		gasLine = fmt.Sprintf("%s / %s gwei", gas.ReadableGwei(tx.PriorityFee), gas.ReadableGwei(tx.MaxPriorityFeePerGas))
	}
	return fmt.Sprintf(
		"🛒 Buy %s\n\nItem: %s\nContract: %s\nHash: %s\nGas: %s\nSlot: #%d",
		strings.ToLower(string(tx.Status)),
		name,
		tx.Asset.Contract.Hex(),
		tx.Hash.Hex(),
		gasLine,
		tx.SessionBlock,
	)
}

func currency(c string) string {
	if c == "" {
		return "ETH"
	}
	return c
}
