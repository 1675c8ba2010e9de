package pending

import (
	"sync"
	"time"

	"github.com/pvzzle/gasrace/internal/clock"
)

type IdleConfig struct {
	IdleAfter   time.Duration
	HiddenAfter time.Duration
}

func (c IdleConfig) withDefaults() IdleConfig {
	if c.IdleAfter <= 0 {
		c.IdleAfter = 5 * time.Minute
	}
	if c.HiddenAfter <= 0 {
		c.HiddenAfter = 10 * time.Second
	}
	return c
}

// IdleGate turns user activity and visibility signals into an idle flag:
// idle after IdleAfter without activity, or HiddenAfter of continuous hiddenness.
type IdleGate struct {
	clk clock.Clock
	cfg IdleConfig

	mu          sync.Mutex
	idle        bool
	idleTimer   clock.Timer
	hiddenTimer clock.Timer
	// bumped on every re-arm or cancel, so a timer that fires after losing
	// the race with Stop is ignored
	idleGen   uint64
	hiddenGen uint64
	listeners []func(idle bool)
}

func NewIdleGate(clk clock.Clock, cfg IdleConfig) *IdleGate {
	if clk == nil {
		clk = clock.Real{}
	}
	g := &IdleGate{clk: clk, cfg: cfg.withDefaults()}
	g.mu.Lock()
	g.armIdleLocked()
	g.mu.Unlock()
	return g
}

func (g *IdleGate) OnChange(f func(idle bool)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, f)
}

func (g *IdleGate) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idle
}

// Touch records user activity.
func (g *IdleGate) Touch() {
	g.mu.Lock()
	g.armIdleLocked()
	g.setLocked(false)
}

func (g *IdleGate) SetVisible(visible bool) {
	g.mu.Lock()
	if g.hiddenTimer != nil {
		g.hiddenTimer.Stop()
		g.hiddenTimer = nil
	}
	g.hiddenGen++
	if !visible {
		gen := g.hiddenGen
		g.hiddenTimer = g.clk.AfterFunc(g.cfg.HiddenAfter, func() { g.fire(&g.hiddenGen, gen) })
		g.mu.Unlock()
		return
	}
	g.armIdleLocked()
	g.setLocked(false)
}

func (g *IdleGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idleGen++
	g.hiddenGen++
	if g.idleTimer != nil {
		g.idleTimer.Stop()
		g.idleTimer = nil
	}
	if g.hiddenTimer != nil {
		g.hiddenTimer.Stop()
		g.hiddenTimer = nil
	}
}

func (g *IdleGate) armIdleLocked() {
	if g.idleTimer != nil {
		g.idleTimer.Stop()
	}
	g.idleGen++
	gen := g.idleGen
	g.idleTimer = g.clk.AfterFunc(g.cfg.IdleAfter, func() { g.fire(&g.idleGen, gen) })
}

// fire marks the gate idle unless *counter moved past gen since the timer
// was armed. counter is read under g.mu.
func (g *IdleGate) fire(counter *uint64, gen uint64) {
	g.mu.Lock()
	if *counter != gen {
		g.mu.Unlock()
		return
	}
	g.setLocked(true)
}

// setLocked releases g.mu before notifying listeners.
func (g *IdleGate) setLocked(idle bool) {
	if g.idle == idle {
		g.mu.Unlock()
		return
	}
	g.idle = idle
	listeners := append([]func(bool){}, g.listeners...)
	g.mu.Unlock()

	for _, f := range listeners {
		f(idle)
	}
}
