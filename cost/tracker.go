// Package cost implements the Cost & Usage Tracker (C12): async,
// non-blocking persistence of per-call UsageRecords plus day/week/month/
// total/by-model aggregates, grounded on the teacher's ai/services/stats
// Persister (queue + dedicated goroutine + drain-on-close) and exposing
// the same aggregates as Prometheus counters for /metrics.
package cost

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelai/agentcore/internal/apperror"
	"github.com/kestrelai/agentcore/model"
	"github.com/kestrelai/agentcore/store"
)

const defaultQueueSize = 256

// Tracker accepts UsageRecords off the reasoning loop's hot path and
// persists them on a dedicated goroutine, matching the teacher's
// Persister: the turn that generated the record never blocks on storage.
type Tracker struct {
	store  store.Store
	queue  chan model.UsageRecord
	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once

	costTotal   *prometheus.CounterVec
	tokensTotal *prometheus.CounterVec
	callsTotal  *prometheus.CounterVec
}

// Option configures optional bits of a Tracker.
type Option func(*Tracker)

// WithRegisterer registers the tracker's counters against reg instead of
// the default global registry. Pass a *prometheus.Registry owned by the
// server's /metrics handler to avoid double-registration in tests.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		reg.MustRegister(t.costTotal, t.tokensTotal, t.callsTotal)
	}
}

func NewTracker(s store.Store, queueSize int, opts ...Option) *Tracker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	t := &Tracker{
		store:  s,
		queue:  make(chan model.UsageRecord, queueSize),
		stopCh: make(chan struct{}),
		costTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "cost",
			Name:      "usd_total",
			Help:      "Cumulative estimated USD cost of LLM calls, by model.",
		}, []string{"model"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "cost",
			Name:      "tokens_total",
			Help:      "Cumulative LLM tokens consumed, by model and token type.",
		}, []string{"model", "token_type"}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "cost",
			Name:      "calls_total",
			Help:      "Number of LLM calls recorded, by model.",
		}, []string{"model"}),
	}
	registered := false
	for _, opt := range opts {
		opt(t)
		registered = true
	}
	if !registered {
		prometheus.MustRegister(t.costTotal, t.tokensTotal, t.callsTotal)
	}
	t.wg.Add(1)
	go t.processQueue()
	return t
}

// Record enqueues a usage record for async persistence and immediately
// updates the Prometheus counters (cheap, in-process). Returns false if
// the queue is saturated; the record is dropped rather than blocking the
// caller's reasoning-loop turn.
func (t *Tracker) Record(rec model.UsageRecord) bool {
	t.observe(rec)
	select {
	case t.queue <- rec:
		return true
	default:
		slog.Warn("cost: queue full, dropping usage record", "session", rec.SessionID, "model", rec.Model)
		return false
	}
}

func (t *Tracker) observe(rec model.UsageRecord) {
	t.costTotal.WithLabelValues(rec.Model).Add(rec.Cost)
	t.tokensTotal.WithLabelValues(rec.Model, "prompt").Add(float64(rec.PromptTokens))
	t.tokensTotal.WithLabelValues(rec.Model, "completion").Add(float64(rec.CompletionTokens))
	t.tokensTotal.WithLabelValues(rec.Model, "reasoning").Add(float64(rec.ReasoningTokens))
	t.callsTotal.WithLabelValues(rec.Model).Inc()
}

func (t *Tracker) processQueue() {
	defer t.wg.Done()
	for {
		select {
		case rec := <-t.queue:
			t.persist(rec)
		case <-t.stopCh:
			t.drain()
			return
		}
	}
}

func (t *Tracker) persist(rec model.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Append(ctx, rec); err != nil {
		slog.Error("cost: failed to persist usage record", "session", rec.SessionID, "error", err)
	}
}

func (t *Tracker) drain() {
	for {
		select {
		case rec := <-t.queue:
			t.persist(rec)
		default:
			return
		}
	}
}

// Close stops the background persister, draining whatever is still
// queued, and returns an error if draining exceeds timeout.
func (t *Tracker) Close(timeout time.Duration) error {
	t.once.Do(func() { close(t.stopCh) })

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return apperror.New(apperror.StorageError, "cost tracker shutdown timed out before queue drained")
	}
}

// Statistics is the local-accumulation view behind `GET /costs/statistics`:
// overlapping windows anchored at `now`, plus an overall total.
type Statistics struct {
	Now   time.Time
	Day   *store.UsageAggregate
	Week  *store.UsageAggregate
	Month *store.UsageAggregate
	Total *store.UsageAggregate
}

// Statistics computes the day/week/month/total aggregates for sessionID
// (empty = across all sessions).
func (t *Tracker) Statistics(ctx context.Context, sessionID string, now time.Time) (*Statistics, error) {
	day, err := t.store.Aggregate(ctx, store.UsageQuery{SessionID: sessionID, Since: now.Add(-24 * time.Hour), Until: now})
	if err != nil {
		return nil, err
	}
	week, err := t.store.Aggregate(ctx, store.UsageQuery{SessionID: sessionID, Since: now.Add(-7 * 24 * time.Hour), Until: now})
	if err != nil {
		return nil, err
	}
	month, err := t.store.Aggregate(ctx, store.UsageQuery{SessionID: sessionID, Since: now.Add(-30 * 24 * time.Hour), Until: now})
	if err != nil {
		return nil, err
	}
	total, err := t.store.Aggregate(ctx, store.UsageQuery{SessionID: sessionID, Since: time.Time{}, Until: now})
	if err != nil {
		return nil, err
	}
	return &Statistics{Now: now, Day: day, Week: week, Month: month, Total: total}, nil
}

// ProviderBalance is the authoritative remote counterpart to Statistics,
// surfaced separately so callers can never confuse a local accumulation
// with a provider-reported balance (`GET /costs/openrouter`).
type ProviderBalance struct {
	Provider   string
	BalanceUSD float64
	FetchedAt  time.Time
}

// BalanceFetcher is implemented by an optional provider-specific client
// (e.g. an OpenRouter credits endpoint). No such client exists in this
// module; wiring one in is a deployment-time choice, not a core concern.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context) (*ProviderBalance, error)
}

// ProviderBalance delegates to whatever BalanceFetcher the server layer
// wires in; a nil f means the `/costs/openrouter` endpoint is unavailable
// for this deployment.
func (t *Tracker) ProviderBalance(ctx context.Context, f BalanceFetcher) (*ProviderBalance, error) {
	if f == nil {
		return nil, apperror.New(apperror.InvalidRequest, "no provider balance source configured")
	}
	return f.FetchBalance(ctx)
}
