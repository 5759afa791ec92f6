// Package sync keeps the client caches fresh without server push.
//
// The backend offers no change feed, so freshness comes from periodic
// re-fetches. A Poller runs one refresh func per topic on a fixed interval;
// subscribers get a signal after each successful refresh. Refresh errors are
// logged and counted, never surfaced; the next tick retries naturally.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrUnknownTopic is returned when subscribing to a topic with no registered
// refresh func.
var ErrUnknownTopic = errors.New("unknown topic")

// Notifier delivers change signals per topic. Subscribe returns a channel
// that receives after the topic's data changed and a cancel func that stops
// delivery immediately; no signal arrives after cancel returns.
type Notifier interface {
	Subscribe(topic string) (<-chan struct{}, func(), error)
}

// RefreshFunc re-fetches one topic's data into its cache.
type RefreshFunc func(ctx context.Context) error

type topicState struct {
	refresh  RefreshFunc
	inFlight bool

	nextSub int
	subs    map[int]chan struct{}
}

// Poller implements Notifier by running every registered topic's refresh on
// a shared ticker. At most one refresh per topic is in flight; a tick that
// lands while the previous refresh still runs is skipped, not queued.
type Poller struct {
	interval time.Duration
	logger   *slog.Logger

	mu     gosync.Mutex
	topics map[string]*topicState
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	runs    *prometheus.CounterVec
	errs    *prometheus.CounterVec
	skipped *prometheus.CounterVec
}

// NewPoller creates a poller. Metrics are registered on reg; pass nil to
// skip registration.
func NewPoller(interval time.Duration, logger *slog.Logger, reg prometheus.Registerer) *Poller {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Poller{
		interval: interval,
		logger:   logger,
		topics:   make(map[string]*topicState),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_poller_refreshes_total",
			Help: "Refresh attempts per topic.",
		}, []string{"topic"}),
		errs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_poller_refresh_errors_total",
			Help: "Failed refreshes per topic.",
		}, []string{"topic"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitbill_poller_ticks_skipped_total",
			Help: "Ticks skipped because the previous refresh was still running.",
		}, []string{"topic"}),
	}
}

// Register adds a topic and its refresh func. Registering an existing topic
// replaces its refresh func.
func (p *Poller) Register(topic string, fn RefreshFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.topics[topic]; ok {
		existing.refresh = fn
		return
	}
	p.topics[topic] = &topicState{refresh: fn, subs: make(map[int]chan struct{})}
}

// Subscribe implements Notifier.
func (p *Poller) Subscribe(topic string) (<-chan struct{}, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.topics[topic]
	if !ok {
		return nil, nil, ErrUnknownTopic
	}
	id := state.nextSub
	state.nextSub++
	ch := make(chan struct{}, 1)
	state.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if existing, ok := state.subs[id]; ok {
			delete(state.subs, id)
			close(existing)
		}
	}
	return ch, cancel, nil
}

// Start begins ticking until ctx is cancelled or Stop is called. It returns
// immediately; refreshes run on background goroutines. Every topic is
// refreshed once right away so subscribers do not wait a full interval for
// initial data.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.refreshAll(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refreshAll(ctx)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for in-flight refreshes to finish.
// No subscriber signal is delivered after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// TriggerNow refreshes one topic outside the ticker, subject to the same
// single-in-flight rule. Used after local mutations for instant feedback.
func (p *Poller) TriggerNow(ctx context.Context, topic string) {
	p.mu.Lock()
	state, ok := p.topics[topic]
	p.mu.Unlock()
	if ok {
		p.runTopic(ctx, topic, state)
	}
}

func (p *Poller) refreshAll(ctx context.Context) {
	p.mu.Lock()
	topics := make(map[string]*topicState, len(p.topics))
	for name, state := range p.topics {
		topics[name] = state
	}
	p.mu.Unlock()

	for name, state := range topics {
		p.runTopic(ctx, name, state)
	}
}

func (p *Poller) runTopic(ctx context.Context, topic string, state *topicState) {
	p.mu.Lock()
	if state.inFlight {
		p.mu.Unlock()
		p.skipped.WithLabelValues(topic).Inc()
		return
	}
	state.inFlight = true
	refresh := state.refresh
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := refresh(ctx)

		p.mu.Lock()
		state.inFlight = false
		p.mu.Unlock()

		p.runs.WithLabelValues(topic).Inc()
		if err != nil {
			p.errs.WithLabelValues(topic).Inc()
			if ctx.Err() == nil {
				p.logger.Warn("refresh failed", "topic", topic, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.notify(state)
	}()
}

// notify signals every subscriber without blocking. A subscriber that has
// not consumed the previous signal keeps the one already queued; signals
// carry no payload, so collapsing them loses nothing.
func (p *Poller) notify(state *topicState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range state.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
