// Package poller drives catalog synchronization on startup, on a fixed
// interval and on demand.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/likevault/internal/catalog"
	"github.com/iconidentify/likevault/internal/config"
)

// State represents the current state of the poller.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Syncer runs one synchronization pass.
type Syncer interface {
	Synchronize(ctx context.Context) catalog.SyncResult
}

// TickerFunc returns a tick channel and a stop function for an interval.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Poller schedules synchronization passes.
type Poller struct {
	cfg    config.SyncConfig
	syncer Syncer
	logger *slog.Logger
	ticker TickerFunc

	mu        sync.RWMutex
	state     State
	checkNow  chan struct{}
	activity  *ActivityLog
	lastPoll  time.Time
	lastError string
	lastCount int

	// polled, when set, receives every pass result. Used by tests.
	polled chan<- catalog.SyncResult
}

// New creates a Poller. activity may be nil.
func New(cfg config.SyncConfig, syncer Syncer, activity *ActivityLog, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:      cfg,
		syncer:   syncer,
		logger:   logger,
		ticker:   realTicker,
		state:    StateIdle,
		checkNow: make(chan struct{}, 1),
		activity: activity,
	}
}

// SetTicker replaces the interval source.
func (p *Poller) SetTicker(fn TickerFunc) {
	p.ticker = fn
}

// State returns the current poller state.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastPoll returns the time of the last pass attempt.
func (p *Poller) LastPoll() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPoll
}

// LastError returns the last pass error message, if any.
func (p *Poller) LastError() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastError
}

// Activity returns the activity log.
func (p *Poller) Activity() *ActivityLog {
	return p.activity
}

// Pause stops interval passes. On-demand passes still run.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		p.state = StatePaused
		p.logger.Info("sync poller paused")
		_ = p.activity.Append(ActivityEvent{Status: "paused"})
	}
}

// Resume restarts interval passes.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		p.state = StateRunning
		p.logger.Info("sync poller resumed")
		_ = p.activity.Append(ActivityEvent{Status: "resumed"})
	}
}

// CheckNow requests an immediate pass without blocking. Requests made while
// one is already pending are coalesced.
func (p *Poller) CheckNow() {
	if p.State() == StateIdle {
		return
	}
	select {
	case p.checkNow <- struct{}{}:
		p.logger.Debug("check-now triggered")
		_ = p.activity.Append(ActivityEvent{Status: "check_now"})
	default:
		// Already pending
	}
}

// Start runs a pass immediately and then on every tick and CheckNow until
// ctx is done. It blocks.
func (p *Poller) Start(ctx context.Context) {
	if !p.cfg.Enabled {
		p.logger.Info("sync poller disabled")
		return
	}

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	p.logger.Info("starting sync poller", "poll_interval", p.cfg.PollInterval.String())

	p.pollOnce(ctx)

	ticks, stop := p.ticker(p.cfg.PollInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.state = StateIdle
			p.mu.Unlock()
			p.logger.Info("sync poller stopped")
			return
		case <-p.checkNow:
			p.pollOnce(ctx)
		case <-ticks:
			if p.State() == StatePaused {
				continue
			}
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	result := p.syncer.Synchronize(ctx)

	event := ActivityEvent{
		Pages:   result.Pages,
		Fetched: result.Fetched,
		Items:   result.Count,
		Reset:   result.Reset,
	}

	p.mu.Lock()
	changed := result.Count != p.lastCount
	switch {
	case result.Skipped:
		event.Status = "skipped"
	case result.Err != nil:
		event.Status = "failed"
		event.Error = result.Err.Error()
		p.lastPoll = time.Now()
		p.lastError = event.Error
	default:
		event.Status = "success"
		p.lastPoll = time.Now()
		p.lastError = ""
		p.lastCount = result.Count
	}
	p.mu.Unlock()

	// Successful passes are recorded only when the item count moves.
	if event.Status == "failed" || (event.Status == "success" && (changed || result.Reset)) {
		_ = p.activity.Append(event)
	}
	if p.polled != nil {
		p.polled <- result
	}
}
