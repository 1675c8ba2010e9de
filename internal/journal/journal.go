// Package journal persists sales, mass-bid outcomes and sent purchases and
// fans them out to the chats watching the item's contract.
package journal

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/bus"
	"github.com/pvzzle/gasrace/internal/massbid"
	"github.com/pvzzle/gasrace/internal/sent"
	"github.com/pvzzle/gasrace/internal/storage"
	"github.com/pvzzle/gasrace/internal/watch"

	"github.com/ethereum/go-ethereum/common"
)

type Config struct {
	Workers     int
	TasksBuffer int
	// DefaultChatID always receives bid and purchase notifications. Zero disables it.
	DefaultChatID int64
}

type Task struct {
	Kind     storage.EventKind
	Contract common.Address
	TokenID  string
	Ref      string
	Text     string

	Sale *storage.SaleRecord
	Bid  *storage.BidRecord
	Sent *storage.SentTxRecord
}

type Journal struct {
	watch    *watch.Store
	notifyCh chan<- bus.Notification

	cfg Config

	tasks chan Task
	wg    sync.WaitGroup

	repo storage.Repository
}

func New(
	watchStore *watch.Store,
	notifyCh chan<- bus.Notification,
	repo storage.Repository,
	cfg Config,
) *Journal {

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	if cfg.TasksBuffer <= 0 {
		cfg.TasksBuffer = 1024
	}

	return &Journal{
		watch:    watchStore,
		notifyCh: notifyCh,
		cfg:      cfg,
		tasks:    make(chan Task, cfg.TasksBuffer),
		repo:     repo,
	}
}

// Start runs the workers until ctx is done.
func (j *Journal) Start(ctx context.Context) error {
	j.startWorkers(ctx)
	defer j.stopWorkers()

	<-ctx.Done()
	return ctx.Err()
}

// enqueue never blocks a producer; a full queue drops the task.
func (j *Journal) enqueue(t Task) {
	select {
	case j.tasks <- t:
	default:
		log.Printf("[journal] queue full, dropping %s %s", t.Kind, t.Ref)
	}
}

func (j *Journal) RecordSale(ev activity.Event) {
	if ev.EventType != activity.EventSuccessful {
		return
	}
	rec := storage.SaleRecord{
		Seller:   ev.SellerAddress.Hex(),
		Contract: ev.ContractAddress.Hex(),
		TokenID:  ev.TokenID,
		Chain:    ev.Chain,
		Hash:     ev.TxHash(),
		Name:     ev.Name,
		Currency: ev.Currency,
		SoldAt:   ev.Timestamp,
	}
	if ev.Price != nil {
		rec.PriceWei = ev.Price.String()
	}
	j.enqueue(Task{
		Kind:     storage.KindSale,
		Contract: ev.ContractAddress,
		TokenID:  ev.TokenID,
		Ref:      fmt.Sprintf("%s:%s:%s:%d", rec.Seller, rec.Contract, rec.TokenID, ev.Timestamp.Unix()),
		Text:     FormatSale(ev),
		Sale:     &rec,
	})
}

func (j *Journal) RecordBid(t massbid.Terminal) {
	rec := storage.BidRecord{
		Generation: t.Generation,
		Contract:   t.Token.Contract.Hex(),
		TokenID:    t.Token.TokenID,
		State:      string(t.State),
		Message:    t.Message,
	}
	j.enqueue(Task{
		Kind:     storage.KindBid,
		Contract: t.Token.Contract,
		TokenID:  t.Token.TokenID,
		Ref:      fmt.Sprintf("%d:%s:%s", t.Generation, rec.Contract, rec.TokenID),
		Text:     FormatBid(t),
		Bid:      &rec,
	})
}

func (j *Journal) RecordSent(tx sent.Transaction) {
	rec := storage.SentTxRecord{
		Hash:         tx.Hash.Hex(),
		Contract:     tx.Asset.Contract.Hex(),
		TokenID:      tx.Asset.TokenID,
		Name:         tx.Asset.Name,
		SessionBlock: tx.SessionBlock,
		Status:       string(tx.Status),
		AddedAt:      tx.AddedAt,
	}
	if tx.PriorityFee != nil {
		s := tx.PriorityFee.String()
		rec.FeeCapWei = &s
	}
	if tx.MaxPriorityFeePerGas != nil {
		s := tx.MaxPriorityFeePerGas.String()
		rec.MaxPriorityFeeWei = &s
	}
	j.enqueue(Task{
		Kind:     storage.KindBuy,
		Contract: tx.Asset.Contract,
		TokenID:  tx.Asset.TokenID,
		Ref:      rec.Hash,
		Text:     FormatSent(tx),
		Sent:     &rec,
	})
}

func (j *Journal) startWorkers(ctx context.Context) {
	for i := 0; i < j.cfg.Workers; i++ {
		j.wg.Add(1)
		go func(workerID int) {
			defer j.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return

				case task, ok := <-j.tasks:
					if !ok {
						return
					}
					j.handleTask(ctx, task)
				}
			}
		}(i)
	}
}

func (j *Journal) stopWorkers() {
	close(j.tasks)
	j.wg.Wait()
}

func (j *Journal) recipients(task Task) []int64 {
	chats := j.watch.MatchContract(task.Contract)
	if task.Kind == storage.KindSale || j.cfg.DefaultChatID == 0 {
		return chats
	}
	for _, id := range chats {
		if id == j.cfg.DefaultChatID {
			return chats
		}
	}
	return append(chats, j.cfg.DefaultChatID)
}

func (j *Journal) handleTask(ctx context.Context, task Task) {
	// 1) persist the record itself
	var err error
	switch {
	case task.Sale != nil:
		err = j.repo.AddSale(ctx, *task.Sale)
	case task.Bid != nil:
		err = j.repo.AddBidOutcome(ctx, *task.Bid)
	case task.Sent != nil:
		err = j.repo.UpsertSentTx(ctx, *task.Sent)
	}
	if err != nil {
		// keep going: notifications matter more than the journal row
		log.Printf("[journal] db %s error: %v", task.Kind, err)
	}

	// 2) notify and write the history line for every interested chat
	ev := storage.ChatEvent{
		Kind:     task.Kind,
		Ref:      task.Ref,
		Contract: task.Contract.Hex(),
		TokenID:  task.TokenID,
		Detail:   task.Text,
	}
	for _, chatID := range j.recipients(task) {
		_ = j.repo.AddChatEvent(ctx, chatID, ev)

		select {
		case j.notifyCh <- bus.Notification{ChatID: chatID, Text: task.Text}:
		case <-ctx.Done():
			return
		}
	}
}
