// Command loadtest drives the Postgres journal with a mix of history reads
// and sale, bid and purchase writes at a target request rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/gasrace/internal/storage"
	"github.com/pvzzle/gasrace/internal/storage/pg"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type opKind int

const (
	opHistory opKind = iota
	opSale
	opBid
	opBuy
)

func (k opKind) String() string {
	return [...]string{"history", "sale", "bid", "buy"}[k]
}

type options struct {
	workers   int
	avgRPS    int
	peakRPS   int
	ramp      time.Duration
	reads     int
	histLimit int
	chats     int
}

type stats struct {
	ops    [4]atomic.Uint64
	errors atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
	collect   bool

	started  time.Time
	finished time.Time
}

func (s *stats) record(k opKind, d time.Duration, err error) {
	s.ops[k].Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if !s.collect {
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func main() {
	var (
		dsn    = flag.String("dsn", "", "Postgres DSN")
		dur    = flag.Duration("dur", 60*time.Second, "measured duration")
		warmup = flag.Duration("warmup", 5*time.Second, "warmup duration, not reported")
		o      options
	)
	flag.IntVar(&o.workers, "workers", 64, "concurrent workers")
	flag.IntVar(&o.avgRPS, "avg-rps", 300, "base request rate")
	flag.IntVar(&o.peakRPS, "peak-rps", 1500, "rate reached at the end of the ramp")
	flag.DurationVar(&o.ramp, "ramp", 10*time.Second, "linear ramp from avg to peak rate")
	flag.IntVar(&o.reads, "rw", 15, "history reads per write")
	flag.IntVar(&o.histLimit, "hist-limit", 10, "history page size")
	flag.IntVar(&o.chats, "chats", 20000, "distinct chat ids")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn required")
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("pgxpool new: %v", err)
	}
	defer pool.Close()

	repo := pg.New(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	fmt.Println("warmup:", *warmup)
	flat := o
	flat.peakRPS, flat.ramp = o.avgRPS, 0
	run(ctx, repo, flat, *warmup, false)

	fmt.Println("measured run:", *dur)
	report(run(ctx, repo, o, *dur, true))
}

// schedule repeats o.reads history reads, then one write of each kind in turn.
func schedule(reads int) func() opKind {
	writes := []opKind{opSale, opBid, opBuy}
	i, w := 0, 0
	return func() opKind {
		if i < reads {
			i++
			return opHistory
		}
		i = 0
		k := writes[w]
		w = (w + 1) % len(writes)
		return k
	}
}

func run(ctx context.Context, repo storage.Repository, o options, dur time.Duration, collect bool) *stats {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()

	st := &stats{collect: collect, started: time.Now()}
	lim := rate.NewLimiter(rate.Limit(o.avgRPS), o.avgRPS)
	jobs := make(chan opKind, 1024)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.workers; i++ {
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed))
			for k := range jobs {
				t0 := time.Now()
				err := exec(gctx, repo, k, r, o)
				st.record(k, time.Since(t0), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		next := schedule(o.reads)
		begin := time.Now()
		for {
			if err := lim.Wait(gctx); err != nil {
				return nil
			}
			if o.ramp > 0 {
				el := time.Since(begin)
				cur := float64(o.peakRPS)
				if el < o.ramp {
					cur = float64(o.avgRPS) + float64(o.peakRPS-o.avgRPS)*(float64(el)/float64(o.ramp))
				}
				lim.SetLimit(rate.Limit(cur))
			}
			jobs <- next()
		}
	})

	_ = g.Wait()
	st.finished = time.Now()
	return st
}

func exec(ctx context.Context, repo storage.Repository, k opKind, r *rand.Rand, o options) error {
	chatID := int64(1 + r.Intn(o.chats))
	contract := fmt.Sprintf("0x%040x", r.Uint64())
	token := fmt.Sprint(r.Intn(10000))
	now := time.Now().UTC()

	switch k {
	case opHistory:
		_, err := repo.ListHistory(ctx, chatID, o.histLimit)
		return err

	case opSale:
		sale := storage.SaleRecord{
			Seller:   fmt.Sprintf("0x%040x", r.Uint64()),
			Contract: contract,
			TokenID:  token,
			Chain:    "ethereum",
			Hash:     fmt.Sprintf("0x%064x", r.Uint64()),
			PriceWei: "1000000000000000000",
			Currency: "ETH",
			SoldAt:   now,
		}
		if err := repo.AddSale(ctx, sale); err != nil {
			return err
		}
		return repo.AddChatEvent(ctx, chatID, storage.ChatEvent{
			Kind: storage.KindSale, Ref: sale.Seller + ":" + token, Contract: contract, TokenID: token, Detail: "1 ETH",
		})

	case opBid:
		bid := storage.BidRecord{Generation: uint64(r.Intn(100)), Contract: contract, TokenID: token, State: "COMPLETED", At: now}
		if err := repo.AddBidOutcome(ctx, bid); err != nil {
			return err
		}
		return repo.AddChatEvent(ctx, chatID, storage.ChatEvent{
			Kind: storage.KindBid, Ref: fmt.Sprintf("%d:%s:%s", bid.Generation, contract, token), Contract: contract, TokenID: token, Detail: bid.State,
		})

	case opBuy:
		fee, tip := "110000000000", "22000000000"
		tx := storage.SentTxRecord{
			Hash:              fmt.Sprintf("0x%064x", r.Uint64()),
			Contract:          contract,
			TokenID:           token,
			FeeCapWei:         &fee,
			MaxPriorityFeeWei: &tip,
			SessionBlock:      uint64(r.Intn(1000)),
			Status:            "PENDING",
			AddedAt:           now,
		}
		if err := repo.UpsertSentTx(ctx, tx); err != nil {
			return err
		}
		return repo.AddChatEvent(ctx, chatID, storage.ChatEvent{
			Kind: storage.KindBuy, Ref: tx.Hash, Contract: contract, TokenID: token, Detail: tx.Status,
		})
	}
	return nil
}

func report(st *stats) {
	d := st.finished.Sub(st.started)
	var total uint64
	fmt.Printf("\n== REPORT ==\nduration: %s\n", d)
	for k := opHistory; k <= opBuy; k++ {
		n := st.ops[k].Load()
		total += n
		fmt.Printf("%-8s %d\n", k, n)
	}
	fmt.Printf("errors   %d\n", st.errors.Load())
	if d > 0 {
		fmt.Printf("throughput: %.2f ops/s\n", float64(total)/d.Seconds())
	}

	lat := st.latencies
	if len(lat) == 0 {
		fmt.Println("no latency samples")
		return
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	q := func(p float64) time.Duration { return lat[int(p*float64(len(lat)-1))] }
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n", q(0.50), q(0.95), q(0.99), lat[len(lat)-1])
}
