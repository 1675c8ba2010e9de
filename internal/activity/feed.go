package activity

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/clock"
)

type Status string

const (
	StatusInactive    Status = "INACTIVE"
	StatusStarting    Status = "STARTING"
	StatusActive      Status = "ACTIVE"
	StatusRateLimited Status = "RATE_LIMITED"
	StatusStreaming   Status = "STREAMING"
)

type Mode int

const (
	ModePoll Mode = iota
	ModeStream
)

const (
	initialBatch = 1
	pollBatch    = 50
)

// Poller fetches recent events for a set of collections. A nil since asks for
// the newest events without a lower bound.
type Poller interface {
	FetchEvents(ctx context.Context, slugs []string, since *time.Time, count int) ([]RawEvent, error)
}

// Streamer pushes events for one collection until the returned disposer is called.
type Streamer interface {
	Subscribe(slug string, handle func(RawEvent)) (unsubscribe func(), err error)
}

type Config struct {
	Mode         Mode
	PollInterval time.Duration
	BufferSize   int
	Rewind       time.Duration
	BackoffStep  time.Duration
	FetchTimeout time.Duration
	SeenCapacity int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 50
	}
	if c.Rewind <= 0 {
		c.Rewind = 60 * time.Second
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = 5 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = 4096
	}
	return c
}

type stream struct {
	dispose func()
}

// Feed fuses polled or streamed marketplace events into de-duplicated,
// newest-first buffers.
type Feed struct {
	cfg      Config
	clk      clock.Clock
	poller   Poller
	streamer Streamer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	status   Status
	slugs    []string
	slugsKey string
	gen      uint64
	timer    clock.Timer
	cursor   time.Time
	floor    time.Time
	failures int

	seen      map[string]struct{}
	seenOrder []string

	all     []Event
	created []Event
	sold    []Event

	streams   map[string]*stream
	listeners []func(Event)
}

func NewFeed(clk clock.Clock, poller Poller, streamer Streamer, cfg Config) *Feed {
	if clk == nil {
		clk = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		cfg:      cfg.withDefaults(),
		clk:      clk,
		poller:   poller,
		streamer: streamer,
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusInactive,
		seen:     make(map[string]struct{}),
		streams:  make(map[string]*stream),
	}
}

// Subscribe registers f to receive every unique event after it is buffered.
func (f *Feed) Subscribe(fn func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func normalizeSlugs(slugs []string) []string {
	set := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := set[s]; ok {
			continue
		}
		set[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SetCollections replaces the target collection set. An unchanged set is a no-op.
func (f *Feed) SetCollections(slugs []string) {
	slugs = normalizeSlugs(slugs)
	key := strings.Join(slugs, ",")

	f.mu.Lock()
	if key == f.slugsKey && f.status != StatusInactive {
		f.mu.Unlock()
		return
	}
	f.slugs = slugs
	f.slugsKey = key

	if f.cfg.Mode == ModeStream {
		f.syncStreamsLocked()
		return
	}

	f.gen++
	f.stopTimerLocked()
	f.failures = 0
	if len(slugs) == 0 {
		f.status = StatusInactive
		f.mu.Unlock()
		return
	}
	f.status = StatusStarting
	gen := f.gen
	f.timer = f.clk.AfterFunc(0, func() { f.poll(gen, true) })
	f.mu.Unlock()
}

func (f *Feed) Collections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.slugs...)
}

// Close tears down timers and streams. Responses still in flight are discarded.
func (f *Feed) Close() {
	f.mu.Lock()
	f.gen++
	f.stopTimerLocked()
	f.status = StatusInactive
	f.slugs = nil
	f.slugsKey = ""
	streams := f.streams
	f.streams = make(map[string]*stream)
	f.mu.Unlock()

	for _, s := range streams {
		if s.dispose != nil {
			s.dispose()
		}
	}
	f.cancel()
}

// Reset drops buffered events and the de-dup set without touching the subscription.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]struct{})
	f.seenOrder = nil
	f.all, f.created, f.sold = nil, nil, nil
}

func (f *Feed) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Feed) poll(gen uint64, initial bool) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	slugs := append([]string(nil), f.slugs...)
	count := initialBatch
	var since *time.Time
	if !initial {
		count = pollBatch
		s := f.cursor.Add(-f.cfg.Rewind)
		if s.Before(f.floor) {
			s = f.floor
		}
		since = &s
	}
	f.mu.Unlock()

	start := f.clk.Now()
	ctx, cancel := context.WithTimeout(f.ctx, f.cfg.FetchTimeout)
	raws, err := f.poller.FetchEvents(ctx, slugs, since, count)
	cancel()
	elapsed := f.clk.Now().Sub(start)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}

	if err != nil {
		f.status = StatusRateLimited
		f.failures++
		delay := f.cfg.BackoffStep * time.Duration(f.failures)
		f.timer = f.clk.AfterFunc(delay, func() { f.recoverPoll(gen, initial) })
		failures := f.failures
		f.mu.Unlock()
		log.Printf("[feed] fetch failed (consecutive=%d, retry in %s): %v", failures, delay, err)
		return
	}
	f.failures = 0

	events := make([]Event, 0, len(raws))
	var latest time.Time
	for _, raw := range raws {
		ev, nerr := Normalize(raw)
		if nerr != nil {
			continue
		}
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
		events = append(events, ev)
	}
	if latest.After(f.cursor) {
		f.cursor = latest
	}

	var added []Event
	if initial {
		if f.cursor.IsZero() {
			f.cursor = start.UTC()
		}
		f.floor = f.cursor
		for _, ev := range events {
			f.markSeenLocked(ev.ListingID)
		}
		f.status = StatusActive
	} else {
		added = f.ingestLocked(events)
	}

	delay := f.cfg.PollInterval - elapsed
	if delay < 0 {
		delay = 0
	}
	f.timer = f.clk.AfterFunc(delay, func() { f.poll(gen, false) })
	listeners := append([]func(Event){}, f.listeners...)
	f.mu.Unlock()

	notify(listeners, added)
}

func (f *Feed) recoverPoll(gen uint64, initial bool) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.status = StatusActive
	f.mu.Unlock()

	f.poll(gen, initial)
}

// syncStreamsLocked diffs active streams against the desired set. It releases f.mu.
func (f *Feed) syncStreamsLocked() {
	if len(f.slugs) == 0 {
		f.status = StatusInactive
	} else {
		f.status = StatusStreaming
	}

	desired := make(map[string]struct{}, len(f.slugs))
	for _, s := range f.slugs {
		desired[s] = struct{}{}
	}

	var removed []*stream
	for slug, s := range f.streams {
		if _, ok := desired[slug]; !ok {
			removed = append(removed, s)
			delete(f.streams, slug)
		}
	}

	added := make(map[string]*stream)
	for slug := range desired {
		if _, ok := f.streams[slug]; ok {
			continue
		}
		s := &stream{}
		f.streams[slug] = s
		added[slug] = s
	}
	f.mu.Unlock()

	for _, s := range removed {
		if s.dispose != nil {
			s.dispose()
		}
	}

	for slug, s := range added {
		slug, s := slug, s
		dispose, err := f.streamer.Subscribe(slug, func(raw RawEvent) { f.handleStreamed(slug, s, raw) })
		if err != nil {
			log.Printf("[feed] subscribe %s: %v", slug, err)
			f.mu.Lock()
			if f.streams[slug] == s {
				delete(f.streams, slug)
			}
			f.mu.Unlock()
			continue
		}

		f.mu.Lock()
		if f.streams[slug] == s {
			s.dispose = dispose
			f.mu.Unlock()
			continue
		}
		f.mu.Unlock()
		dispose()
	}
}

func (f *Feed) handleStreamed(slug string, s *stream, raw RawEvent) {
	ev, err := Normalize(raw)
	if err != nil {
		return
	}

	f.mu.Lock()
	if f.streams[slug] != s {
		f.mu.Unlock()
		return
	}
	added := f.ingestLocked([]Event{ev})
	listeners := append([]func(Event){}, f.listeners...)
	f.mu.Unlock()

	notify(listeners, added)
}

// Ingest appends events from any source through the common de-dup path.
func (f *Feed) Ingest(events ...Event) []Event {
	f.mu.Lock()
	added := f.ingestLocked(events)
	listeners := append([]func(Event){}, f.listeners...)
	f.mu.Unlock()

	notify(listeners, added)
	return added
}

func (f *Feed) markSeenLocked(id string) bool {
	if _, ok := f.seen[id]; ok {
		return false
	}
	f.seen[id] = struct{}{}
	f.seenOrder = append(f.seenOrder, id)
	if over := len(f.seenOrder) - f.cfg.SeenCapacity; over > 0 {
		for _, old := range f.seenOrder[:over] {
			delete(f.seen, old)
		}
		f.seenOrder = append([]string(nil), f.seenOrder[over:]...)
	}
	return true
}

func (f *Feed) ingestLocked(events []Event) []Event {
	var unique []Event
	for _, ev := range events {
		if !f.markSeenLocked(ev.ListingID) {
			continue
		}
		unique = append(unique, ev)
	}
	if len(unique) == 0 {
		return nil
	}

	var created, sold []Event
	for _, ev := range unique {
		if ev.EventType == EventCreated {
			created = append(created, ev)
		} else {
			sold = append(sold, ev)
		}
	}

	f.all = prepend(f.all, unique, f.cfg.BufferSize)
	f.created = prepend(f.created, created, f.cfg.BufferSize)
	f.sold = prepend(f.sold, sold, f.cfg.BufferSize)
	return unique
}

// prepend puts fresh in front of buf, skipping ids buf already holds, and caps the result.
func prepend(buf, fresh []Event, size int) []Event {
	if len(fresh) == 0 {
		return buf
	}
	have := make(map[string]struct{}, len(buf))
	for _, ev := range buf {
		have[ev.ListingID] = struct{}{}
	}

	out := make([]Event, 0, len(fresh)+len(buf))
	for _, ev := range fresh {
		if _, ok := have[ev.ListingID]; ok {
			continue
		}
		out = append(out, ev)
	}
	out = append(out, buf...)
	if len(out) > size {
		out = out[:size]
	}
	return out
}

func notify(listeners []func(Event), events []Event) {
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Feed) ConsecutiveFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

func (f *Feed) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.all...)
}

func (f *Feed) Listings() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.created...)
}

func (f *Feed) Sales() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.sold...)
}

func (f *Feed) Filtered(filter Filter) []Event {
	switch filter {
	case FilterCreated:
		return f.Listings()
	case FilterSuccessful:
		return f.Sales()
	case FilterNone:
		return nil
	default:
		return f.Events()
	}
}
