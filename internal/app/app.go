package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/bridge"
	"github.com/pvzzle/gasrace/internal/bus"
	"github.com/pvzzle/gasrace/internal/chainwatch"
	"github.com/pvzzle/gasrace/internal/engine"
	"github.com/pvzzle/gasrace/internal/gas"
	"github.com/pvzzle/gasrace/internal/httpapi"
	"github.com/pvzzle/gasrace/internal/journal"
	"github.com/pvzzle/gasrace/internal/market"
	"github.com/pvzzle/gasrace/internal/pending"
	"github.com/pvzzle/gasrace/internal/storage/pg"
	"github.com/pvzzle/gasrace/internal/tg"
	"github.com/pvzzle/gasrace/internal/watch"
	"github.com/pvzzle/gasrace/internal/wsconn"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	tgbot "github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("pgxpool new: %w", err)
	}
	defer pgPool.Close()

	repo := pg.New(pgPool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	br := bridge.NewRedis(rdb, bridge.Config{
		RequestChannel:  cfg.BridgeRequests,
		ResponseChannel: cfg.BridgeResponses,
	})

	ethCl, err := ethclient.DialContext(ctx, cfg.EthWSURL)
	if err != nil {
		return fmt.Errorf("dial eth ws: %w", err)
	}
	defer ethCl.Close()

	mkt, err := market.NewClient(market.Config{
		BaseURL: cfg.MarketAPIURL,
		APIKey:  cfg.MarketAPIKey,
		RPS:     cfg.MarketRPS,
	})
	if err != nil {
		return fmt.Errorf("market client: %w", err)
	}

	deps := engine.Deps{
		Poller:   mkt,
		Sender:   br,
		Offers:   mkt,
		Receipts: ethCl,
	}
	feedCfg := activity.Config{Mode: activity.ModePoll, PollInterval: cfg.PollInterval}
	if cfg.UseStream {
		stream := market.NewStreamClient(market.StreamConfig{
			URL:    cfg.MarketStreamURL,
			APIKey: cfg.MarketAPIKey,
		})
		defer stream.Close()
		deps.Streamer = stream
		feedCfg.Mode = activity.ModeStream
	}
	if cfg.PendingWSURL != "" {
		deps.Pending = &pending.WSSource{
			URL:   cfg.PendingWSURL,
			Token: cfg.PendingAccessToken,
			Opts:  wsconn.Options{Tag: "[pending]"},
		}
	}
	if cfg.GasPresetURL != "" {
		deps.Optimal = gas.NewOptimalClient(cfg.GasPresetURL)
	}

	eng := engine.New(deps, engine.Config{Feed: feedCfg})
	defer eng.Stop()

	br.Handle(bridge.MethodBid, eng.HandleOutcome)
	br.Handle(bridge.MethodBuy, eng.HandleOutcome)

	watchStore := watch.NewStore()
	seedWatch(watchStore, cfg)
	watchStore.OnChange(func() {
		eng.SetWatched(watchStore.Collections(), watchStore.Contracts())
	})
	eng.SetWatched(watchStore.Collections(), watchStore.Contracts())

	notifyCh := make(chan bus.Notification, cfg.NotifyBuffer)

	jr := journal.New(watchStore, notifyCh, repo, journal.Config{
		Workers:       cfg.JournalWorkers,
		TasksBuffer:   cfg.TasksBuffer,
		DefaultChatID: cfg.TelegramChatID,
	})
	eng.Feed.Subscribe(jr.RecordSale)
	eng.MassBid.OnTerminal(jr.RecordBid)
	eng.Sent.OnChange(jr.RecordSent)

	eng.OnNotice(func(n engine.Notice) {
		text := n.Text
		if n.Fatal {
			text = "⛔️ " + text
		}
		select {
		case notifyCh <- bus.Notification{ChatID: cfg.TelegramChatID, Text: text}:
		default:
			log.Printf("[app] notify buffer full, dropping %s notice", n.Source)
		}
	})

	heads := chainwatch.NewWatcher(ethCl)
	heads.OnHead(func(ctx context.Context, h *types.Header) {
		if n := eng.SettleReceipts(ctx); n > 0 {
			log.Printf("[app] settled %d receipts at head %d", n, h.Number.Uint64())
		}
	})

	b, err := tgbot.New(cfg.TelegramToken,
		tgbot.WithWorkers(4),
		tgbot.WithNotAsyncHandlers(),
	)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	tgSvc := tg.NewService(b, eng, watchStore, notifyCh, repo)

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewController(eng))

	eng.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runBridge(gctx, br) })
	g.Go(func() error { return heads.Run(gctx) })
	g.Go(func() error { return jr.Start(gctx) })
	g.Go(func() error {
		tgSvc.StartNotifyLoop(gctx)
		return nil
	})
	g.Go(func() error {
		b.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("[http] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Printf("started. collections=%d contracts=%d stream=%v", len(watchStore.Collections()), len(watchStore.Contracts()), cfg.UseStream)
	return g.Wait()
}

// seedWatch puts the configured collections and contracts on the default chat.
func seedWatch(s *watch.Store, cfg Config) {
	for _, slug := range cfg.Collections {
		if slug = strings.ToLower(strings.TrimSpace(slug)); slug != "" {
			s.AddCollection(cfg.TelegramChatID, slug)
		}
	}
	for _, addr := range cfg.WatchedContracts {
		if addr = strings.TrimSpace(addr); common.IsHexAddress(addr) {
			s.AddContract(cfg.TelegramChatID, common.HexToAddress(addr))
		} else if addr != "" {
			log.Printf("[app] skipping invalid contract %q", addr)
		}
	}
}

// runBridge resubscribes after the response channel drops.
func runBridge(ctx context.Context, br *bridge.Redis) error {
	for {
		err := br.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[bridge] stopped: %v, resubscribing", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
