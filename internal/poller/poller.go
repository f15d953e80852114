// Package poller waits out the backend's asynchronous metrics aggregation.
//
// The poller is an explicit state machine owning at most one retry timer:
//
//	Idle → Fetching → Settled          (stillComputing=false, no timer)
//	                → AwaitingRetry    (stillComputing=true, one timer)
//	                → Error            (terminal until Refresh)
//	AwaitingRetry → Fetching           (timer fired or Refresh)
//
// A retry never overlaps a fetch, and results of a superseded fetch are
// dropped so a slow old response can never overwrite a newer one.
package poller

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/log"
	"github.com/felixgeelhaar/bodega/internal/metrics"
)

// Retry interval bounds. The aggregation job has a bounded, known
// duration, so the interval is a single constant rather than a backoff.
const (
	DefaultInterval = 30 * time.Second
	MinInterval     = 5 * time.Second
	MaxInterval     = 30 * time.Second
)

// State is the poller lifecycle position
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSettled
	StateAwaitingRetry
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSettled:
		return "settled"
	case StateAwaitingRetry:
		return "awaiting_retry"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the poller stays in s until Refresh
func (s State) Terminal() bool {
	return s == StateSettled || s == StateError
}

// Update is published on every transition. Seq increases monotonically;
// observers receiving updates out of order keep the highest Seq.
type Update struct {
	Seq      uint64
	State    State
	Snapshot *api.MetricsSnapshot
	Err      error
	Fetches  int
}

// Fetcher retrieves one metrics report. *api.Client implements it.
type Fetcher interface {
	Metrics(ctx context.Context) (*api.MetricsReport, error)
}

// FetchFunc adapts a function to Fetcher
type FetchFunc func(ctx context.Context) (*api.MetricsReport, error)

// Metrics calls f
func (f FetchFunc) Metrics(ctx context.Context) (*api.MetricsReport, error) {
	return f(ctx)
}

// Timer is a pending callback
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests replace it to fire timers by hand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ErrStopped is returned by Wait once the poller has been stopped
var ErrStopped = stderrors.New("poller stopped")

// Poller polls the metrics endpoint until the aggregation settles
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	clock    Clock
	logger   *log.Logger
	metrics  *metrics.Metrics
	onUpdate func(Update)

	mu       sync.Mutex
	base     context.Context
	state    State
	snapshot *api.MetricsSnapshot
	err      error
	fetches  int
	seq      uint64
	timer    Timer
	cancel   context.CancelFunc
	stopped  bool
	changed  chan struct{}
	// gen identifies the current fetch or timer; anything carrying an
	// older gen is stale
	gen uint64
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval sets the retry interval
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithClock replaces the timer source
func WithClock(c Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l *log.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// WithMetrics records fetch outcomes on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// OnUpdate registers the transition observer. It is called outside the
// poller's lock and may call back into the poller.
func OnUpdate(fn func(Update)) Option {
	return func(p *Poller) {
		p.onUpdate = fn
	}
}

// ValidateInterval checks d against the allowed retry interval range
func ValidateInterval(d time.Duration) error {
	if d < MinInterval || d > MaxInterval {
		return errors.NewConfigInvalidError(
			fmt.Sprintf("poll interval %s is outside %s..%s", d, MinInterval, MaxInterval))
	}
	return nil
}

// New creates an idle poller
func New(fetcher Fetcher, opts ...Option) (*Poller, error) {
	p := &Poller{
		fetcher:  fetcher,
		interval: DefaultInterval,
		clock:    realClock{},
		logger:   log.Nop(),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := ValidateInterval(p.interval); err != nil {
		return nil, err
	}
	p.logger = p.logger.Component("poller")
	return p, nil
}

// Interval returns the retry interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Current returns the latest update
func (p *Poller) Current() Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateLocked()
}

func (p *Poller) updateLocked() Update {
	return Update{
		Seq:      p.seq,
		State:    p.state,
		Snapshot: p.snapshot,
		Err:      p.err,
		Fetches:  p.fetches,
	}
}

// setStateLocked moves to next and returns the update to publish once the
// lock is released
func (p *Poller) setStateLocked(next State) Update {
	p.logger.Debug("poller transition", "from", p.state.String(), "to", next.String(), "fetches", p.fetches)
	p.state = next
	p.seq++
	close(p.changed)
	p.changed = make(chan struct{})
	return p.updateLocked()
}

func (p *Poller) publish(u Update) {
	if p.onUpdate != nil {
		p.onUpdate(u)
	}
}

// Start issues the first fetch. It does nothing unless the poller is Idle.
// ctx bounds every fetch the poller makes.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped || p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	p.base = ctx
	u := p.fetchLocked()
	p.mu.Unlock()
	p.publish(u)
}

// Refresh cancels a pending retry and fetches now. It is ignored while a
// fetch is in flight, before Start and after Stop.
func (p *Poller) Refresh() {
	p.mu.Lock()
	if p.stopped || p.state == StateIdle || p.state == StateFetching {
		p.mu.Unlock()
		return
	}
	p.stopTimerLocked()
	u := p.fetchLocked()
	p.mu.Unlock()
	p.publish(u)
}

// Stop cancels the pending retry and any in-flight fetch. Results arriving
// afterwards are dropped. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.gen++
	p.stopTimerLocked()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	close(p.changed)
	p.changed = make(chan struct{})
}

// Wait blocks until the poller settles or fails, or ctx is done
func (p *Poller) Wait(ctx context.Context) (Update, error) {
	for {
		p.mu.Lock()
		u := p.updateLocked()
		stopped := p.stopped
		changed := p.changed
		p.mu.Unlock()

		if u.State.Terminal() {
			return u, nil
		}
		if stopped {
			return u, ErrStopped
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return u, ctx.Err()
		}
	}
}

func (p *Poller) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// fetchLocked starts a fetch. Callers hold p.mu and have made sure no timer
// is pending.
func (p *Poller) fetchLocked() Update {
	p.gen++
	gen := p.gen

	ctx, cancel := context.WithCancel(p.base)
	p.cancel = cancel
	p.fetches++
	u := p.setStateLocked(StateFetching)

	go p.run(ctx, cancel, gen)
	return u
}

func (p *Poller) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	report, err := p.fetcher.Metrics(ctx)
	cancel()
	if err == nil && report == nil {
		err = errors.New(errors.ErrCodeUnexpectedResponse, "metrics fetch returned no report")
	}

	p.mu.Lock()
	if p.stopped || gen != p.gen {
		p.mu.Unlock()
		p.logger.Debug("dropping superseded metrics result")
		return
	}
	p.cancel = nil

	var u Update
	switch {
	case err != nil:
		// network failures and rejected credentials are not "still
		// computing"; wait for a manual refresh
		p.err = err
		p.metrics.ObservePoll("error")
		p.logger.WithError(err).Warn("metrics fetch failed")
		u = p.setStateLocked(StateError)

	case report.StillComputing:
		p.err = nil
		p.snapshot = report.Snapshot
		p.metrics.ObservePoll("pending")
		p.timer = p.clock.AfterFunc(p.interval, func() { p.retry(gen) })
		u = p.setStateLocked(StateAwaitingRetry)

	default:
		p.err = nil
		p.snapshot = report.Snapshot
		p.metrics.ObservePoll("settled")
		u = p.setStateLocked(StateSettled)
	}
	p.mu.Unlock()
	p.publish(u)
}

func (p *Poller) retry(gen uint64) {
	p.mu.Lock()
	if p.stopped || gen != p.gen || p.state != StateAwaitingRetry {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	u := p.fetchLocked()
	p.mu.Unlock()
	p.publish(u)
}
