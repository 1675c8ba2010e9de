package tg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/pvzzle/gasrace/internal/bus"
	"github.com/pvzzle/gasrace/internal/engine"
	"github.com/pvzzle/gasrace/internal/race"
	"github.com/pvzzle/gasrace/internal/storage"
	"github.com/pvzzle/gasrace/internal/watch"

	"github.com/ethereum/go-ethereum/common"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	cbWatch           = "watch"
	cbWatchCollection = "watch_collection"
	cbWatchContract   = "watch_contract"

	cbMyWatch    = "my_watch"
	cbUnwatchAll = "unwatch_all"
	cbBackToMain = "back_main"

	cbStatus = "status"
	cbRaces  = "races"
	cbOutbid = "outbid"

	cbMassBid      = "massbid"
	cbMassBidStart = "massbid_start"
	cbMassBidStop  = "massbid_stop"
	cbMassBidClear = "massbid_clear"

	cbFindTx  = "find_tx"
	cbHistory = "history"
)

type Service struct {
	bot *tgbot.Bot
	eng *engine.Engine

	watch    *watch.Store
	notifyCh <-chan bus.Notification

	state *StateStore

	repo storage.Repository
}

func NewService(
	b *tgbot.Bot,
	eng *engine.Engine,
	watchStore *watch.Store,
	notifyCh <-chan bus.Notification,
	repo storage.Repository,
) *Service {
	s := &Service{
		bot:      b,
		eng:      eng,
		watch:    watchStore,
		notifyCh: notifyCh,
		state:    NewStateStore(),
		repo:     repo,
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, s.onStart)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbWatch, tgbot.MatchTypeExact, s.onCbWatch)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbWatchCollection, tgbot.MatchTypeExact, s.onCbWatchCollection)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbWatchContract, tgbot.MatchTypeExact, s.onCbWatchContract)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMyWatch, tgbot.MatchTypeExact, s.onCbMyWatch)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbUnwatchAll, tgbot.MatchTypeExact, s.onCbUnwatchAll)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbBackToMain, tgbot.MatchTypeExact, s.onCbBackToMain)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbStatus, tgbot.MatchTypeExact, s.onCbStatus)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbRaces, tgbot.MatchTypeExact, s.onCbRaces)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbOutbid, tgbot.MatchTypeExact, s.onCbOutbid)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMassBid, tgbot.MatchTypeExact, s.onCbMassBid)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMassBidStart, tgbot.MatchTypeExact, s.onCbMassBidStart)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMassBidStop, tgbot.MatchTypeExact, s.onCbMassBidStop)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMassBidClear, tgbot.MatchTypeExact, s.onCbMassBidClear)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbFindTx, tgbot.MatchTypeExact, s.onCbFindTx)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbHistory, tgbot.MatchTypeExact, s.onCbHistory)

	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, s.onAnyText)
}

func (s *Service) StartNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notifyCh:
			_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: n.ChatID,
				Text:   n.Text,
			})
			if err != nil {
				log.Printf("[tg] send notify error: %v", err)
			}
		}
	}
}

func mainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Watch", CallbackData: cbWatch},
				{Text: "My watch list", CallbackData: cbMyWatch},
			},
			{
				{Text: "Status", CallbackData: cbStatus},
				{Text: "Races", CallbackData: cbRaces},
			},
			{
				{Text: "Mass bid", CallbackData: cbMassBid},
				{Text: "Find sent tx", CallbackData: cbFindTx},
			},
			{{Text: "History", CallbackData: cbHistory}},
		},
	}
}

func backMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Back", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) send(ctx context.Context, b *tgbot.Bot, chatID int64, text string, markup models.ReplyMarkup) {
	params := &tgbot.SendMessageParams{ChatID: chatID, Text: text}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := b.SendMessage(ctx, params); err != nil {
		log.Printf("[tg] send to %d error: %v", chatID, err)
	}
}

// callbackChat acknowledges the query and returns its chat. Any interaction
// counts as user activity for the pending subscription.
func (s *Service) callbackChat(ctx context.Context, b *tgbot.Bot, upd *models.Update) (int64, bool) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage {
		return 0, false
	}
	_ = s.answerCallback(ctx, b, cb.ID)
	s.eng.Idle.Touch()
	return cb.Message.Message.Chat.ID, true
}

func (s *Service) onStart(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	s.state.Set(chatID, StateIdle)
	s.eng.Idle.Touch()

	s.send(ctx, b, chatID, "Hi! I watch NFT listings, sales and pending purchases, and can bid or outbid for you.\n\nPick an action:", mainMenu())
}

func (s *Service) onCbWatch(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)

	s.send(ctx, b, chatID, "What to watch?", &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Collection (listings and sales)", CallbackData: cbWatchCollection}},
			{{Text: "Contract (pending purchases)", CallbackData: cbWatchContract}},
		},
	})
}

func (s *Service) onCbWatchCollection(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitCollection)
	s.send(ctx, b, chatID, "Send the collection slug, e.g. boredapeyachtclub:", nil)
}

func (s *Service) onCbWatchContract(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitContract)
	s.send(ctx, b, chatID, "Send the contract address (0x...):", nil)
}

func (s *Service) onAnyText(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	text := strings.TrimSpace(upd.Message.Text)

	if strings.HasPrefix(text, "/") {
		return
	}
	s.eng.Idle.Touch()

	switch s.state.Get(chatID) {
	case StateAwaitCollection:
		s.handleWatchCollection(ctx, b, chatID, text)

	case StateAwaitContract:
		s.handleWatchContract(ctx, b, chatID, text)

	case StateAwaitMassBid:
		s.handleMassBid(ctx, b, chatID, text)

	case StateAwaitOutbid:
		s.handleOutbid(ctx, b, chatID, text)

	case StateAwaitTxHash:
		s.state.Set(chatID, StateIdle)
		s.handleFindTx(ctx, b, chatID, text)

	default:
		s.send(ctx, b, chatID, "Use /start to open the menu.", nil)
	}
}

func (s *Service) handleWatchCollection(ctx context.Context, b *tgbot.Bot, chatID int64, slug string) {
	slug = strings.ToLower(slug)
	if !IsCollectionSlug(slug) {
		s.send(ctx, b, chatID, "That does not look like a collection slug. Use lowercase letters, digits, - and _.", nil)
		return
	}
	s.state.Set(chatID, StateIdle)

	if !s.watch.AddCollection(chatID, slug) {
		s.send(ctx, b, chatID, fmt.Sprintf("Already watching %s.", slug), backMenu())
		return
	}
	s.send(ctx, b, chatID, fmt.Sprintf("✅ Watching listings and sales of %s.", slug), backMenu())
}

func (s *Service) handleWatchContract(ctx context.Context, b *tgbot.Bot, chatID int64, addrStr string) {
	if !IsEthAddress(addrStr) {
		s.send(ctx, b, chatID, "That does not look like an address. Expected 0x + 40 hex characters.", nil)
		return
	}
	addr := common.HexToAddress(addrStr)
	s.state.Set(chatID, StateIdle)

	if !s.watch.AddContract(chatID, addr) {
		s.send(ctx, b, chatID, fmt.Sprintf("Already watching %s.", addr.Hex()), backMenu())
		return
	}
	s.send(ctx, b, chatID, fmt.Sprintf("✅ Watching pending purchases on %s.", addr.Hex()), backMenu())
}

func (s *Service) handleMassBid(ctx context.Context, b *tgbot.Bot, chatID int64, text string) {
	tokens, params, err := ParseMassBid(text)
	if err != nil {
		s.send(ctx, b, chatID, fmt.Sprintf("Could not read that: %v", err), nil)
		return
	}
	s.state.Set(chatID, StateIdle)

	if err := s.eng.MassBid.Start(tokens, params); err != nil {
		s.send(ctx, b, chatID, fmt.Sprintf("Mass bid not started: %v", err), backMenu())
		return
	}
	s.send(ctx, b, chatID, fmt.Sprintf("🏷 Bidding %s ETH on %d tokens.", params.Price.String(), len(tokens)), massBidMenu())
}

func (s *Service) handleOutbid(ctx context.Context, b *tgbot.Bot, chatID int64, text string) {
	contract, tokenID, err := ParseItem(text)
	if err != nil {
		s.send(ctx, b, chatID, fmt.Sprintf("Could not read that: %v", err), nil)
		return
	}
	s.state.Set(chatID, StateIdle)

	preset, err := s.eng.Outbid(ctx, contract, tokenID)
	if errors.Is(err, race.ErrNoCompetitors) {
		s.send(ctx, b, chatID, "Nobody is buying that item right now.", backMenu())
		return
	}
	if err != nil {
		s.send(ctx, b, chatID, fmt.Sprintf("Outbid failed: %v", err), backMenu())
		return
	}
	s.send(ctx, b, chatID, fmt.Sprintf("⚡️ Buy sent with %s / %s gwei.", preset.Fee.String(), preset.PriorityFee.String()), backMenu())
}

func (s *Service) handleFindTx(ctx context.Context, b *tgbot.Bot, chatID int64, hashStr string) {
	if !IsTxHash(hashStr) {
		s.send(ctx, b, chatID, "That does not look like a transaction hash. Expected 0x + 64 hex characters.", nil)
		return
	}

	tx, ok := s.eng.Sent.Get(common.HexToHash(hashStr))
	if !ok {
		s.send(ctx, b, chatID, "Not among recent purchases. Sent transactions are kept for two minutes, see History for older ones.", backMenu())
		return
	}
	s.send(ctx, b, chatID, FormatSentTx(tx), backMenu())
}

func (s *Service) answerCallback(ctx context.Context, b *tgbot.Bot, callbackID string) error {
	_, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	return err
}

func (s *Service) onCbMyWatch(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)
	s.sendMyWatch(ctx, b, chatID)
}

func (s *Service) onCbUnwatchAll(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.watch.ClearAll(chatID)

	s.send(ctx, b, chatID, "✅ Watch list cleared.", nil)
	s.sendMyWatch(ctx, b, chatID)
}

func (s *Service) onCbBackToMain(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)
	s.send(ctx, b, chatID, "Main menu:", mainMenu())
}

func (s *Service) sendMyWatch(ctx context.Context, b *tgbot.Bot, chatID int64) {
	w, _ := s.watch.GetCopy(chatID)

	s.send(ctx, b, chatID, FormatWatchList(w), &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Remove all", CallbackData: cbUnwatchAll}},
			{{Text: "Back", CallbackData: cbBackToMain}},
		},
	})
}

func (s *Service) onCbStatus(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.send(ctx, b, chatID, FormatStatus(s.eng.Status()), backMenu())
}

func (s *Service) onCbRaces(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.send(ctx, b, chatID, FormatRaces(s.eng.Races.Races()), &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Outbid an item", CallbackData: cbOutbid}},
			{{Text: "Back", CallbackData: cbBackToMain}},
		},
	})
}

func (s *Service) onCbOutbid(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitOutbid)
	s.send(ctx, b, chatID, "Send <contract> <tokenId> to buy 10% above the current top bid:", nil)
}

func massBidMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Start", CallbackData: cbMassBidStart},
				{Text: "Stop", CallbackData: cbMassBidStop},
				{Text: "Clear", CallbackData: cbMassBidClear},
			},
			{{Text: "Back", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) onCbMassBid(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)
	s.send(ctx, b, chatID, FormatStatus(s.eng.Status()), massBidMenu())
}

func (s *Service) onCbMassBidStart(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitMassBid)
	s.send(ctx, b, chatID, "Send <contract> <price ETH> <tokenId> [tokenId...], add \"skip\" to pass tokens that already have a higher offer:", nil)
}

func (s *Service) onCbMassBidStop(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.eng.MassBid.Stop()
	s.send(ctx, b, chatID, "⏹ Mass bid stopped.", massBidMenu())
}

func (s *Service) onCbMassBidClear(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.eng.MassBid.Clear()
	s.send(ctx, b, chatID, "Mass bid cleared.", massBidMenu())
}

func (s *Service) onCbFindTx(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitTxHash)
	s.send(ctx, b, chatID, "Send the transaction hash (0x...):", nil)
}

func (s *Service) onCbHistory(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}

	items, err := s.repo.ListHistory(ctx, chatID, 10)
	if err != nil {
		s.send(ctx, b, chatID, fmt.Sprintf("Could not read history: %v", err), nil)
		return
	}

	if len(items) == 0 {
		s.send(ctx, b, chatID, "History is empty.", backMenu())
		return
	}
	s.send(ctx, b, chatID, FormatHistory(items), backMenu())
}
