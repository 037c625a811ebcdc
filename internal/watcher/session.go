// Package watcher observes a host document for compose surfaces and keeps
// the AI Reply control attached to them for the lifetime of the page.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"mailreply/internal/control"
	"mailreply/internal/dom"
	"mailreply/internal/inject"
	"mailreply/internal/locator"
	"mailreply/internal/metrics"
	"mailreply/internal/recorder"
	"mailreply/internal/reply"
)

const (
	DefaultSettleDelay     = 500 * time.Millisecond
	DefaultMaxRetryElapsed = 3 * time.Second
)

var errToolbarMissing = errors.New("toolbar not found")

// Options configures a Session.
type Options struct {
	Locator   *locator.Locator
	Service   reply.Service
	Clipboard reply.Clipboard
	// SettleDelay is the wait between a qualifying batch and the first
	// injection attempt.
	SettleDelay time.Duration
	// MaxRetries bounds extra toolbar lookups after the first attempt.
	MaxRetries uint
	// MaxRetryElapsed bounds the total time spent retrying one schedule.
	MaxRetryElapsed time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Recorder        *recorder.Recorder
}

// Status is a snapshot of a session for health reporting.
type Status struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Detections int64     `json:"detections"`
	Injections int64     `json:"injections"`
	InFlight   bool      `json:"in_flight"`
	Closed     bool      `json:"closed"`
}

// Session owns every page-wide subscription for one document. It is
// created once per page load and closed when the page goes away.
type Session struct {
	id        string
	doc       dom.Document
	opts      Options
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	// mu serialises document work between suspension points.
	mu        sync.Mutex
	locator   *locator.Locator
	injector  *inject.Injector
	generator *reply.Generator

	tmu     sync.Mutex
	timers  map[*time.Timer]struct{}
	pending sync.WaitGroup

	stops      []func()
	closed     atomic.Bool
	detections atomic.Int64
	injections atomic.Int64
}

// Start subscribes to doc and returns the running session. Compose
// surfaces already present are handled as if they had just appeared.
func Start(ctx context.Context, doc dom.Document, opts Options) (*Session, error) {
	if opts.Service == nil {
		return nil, errors.New("watcher: a generation service is required")
	}
	if opts.Locator == nil {
		opts.Locator = locator.New(locator.Selectors{})
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.MaxRetryElapsed <= 0 {
		opts.MaxRetryElapsed = DefaultMaxRetryElapsed
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		id:        uuid.NewString(),
		doc:       doc,
		opts:      opts,
		startedAt: time.Now(),
		locator:   opts.Locator,
		timers:    make(map[*time.Timer]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.log = opts.Logger.With("component", "watcher", "session", s.id)

	s.generator = reply.New(reply.Options{
		Locator:   opts.Locator,
		Service:   opts.Service,
		Clipboard: opts.Clipboard,
		Lock:      &s.mu,
		Logger:    opts.Logger.With("session", s.id),
		Metrics:   opts.Metrics,
		Recorder:  opts.Recorder,
	})
	s.injector = inject.New(inject.Options{
		Locator:  opts.Locator,
		Lock:     &s.mu,
		Busy:     s.generator.InFlight,
		Logger:   opts.Logger.With("session", s.id),
		Metrics:  opts.Metrics,
		Recorder: opts.Recorder,
	})

	if err := opts.Recorder.Start(s.id); err != nil {
		s.log.Warn("trace recorder unavailable", "err", err)
	}
	opts.Recorder.Record(recorder.EventSessionStart, nil)

	stopActivate, err := doc.OnActivate(s.ctx, s.onActivate)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("subscribe to activations: %w", err)
	}
	s.stops = append(s.stops, stopActivate)

	stopObserve, err := doc.Observe(s.ctx, opts.Locator.ComposeSignature(), s.onBatch)
	if err != nil {
		stopActivate()
		s.cancel()
		return nil, fmt.Errorf("observe document: %w", err)
	}
	s.stops = append(s.stops, stopObserve)

	existing, err := doc.Query(s.ctx, opts.Locator.ComposeSignature())
	if err != nil {
		s.log.Warn("initial compose scan failed", "err", err)
	} else if existing != nil {
		s.log.Info("compose window already open")
		s.schedule()
	}

	s.log.Info("watching document for compose windows")
	return s, nil
}

// ID identifies the session in logs and traces.
func (s *Session) ID() string { return s.id }

// Qualifies reports whether a batch added a compose surface: an element
// that matches the signature itself or contains a match.
func Qualifies(b dom.Batch) bool {
	for _, n := range b.Added {
		if n.Element && (n.Matches || n.ContainsMatch) {
			return true
		}
	}
	return false
}

func (s *Session) onBatch(b dom.Batch) {
	if s.closed.Load() || !Qualifies(b) {
		return
	}
	s.detections.Add(1)
	s.opts.Metrics.Detected()
	s.opts.Recorder.Record(recorder.EventDetected, nil)
	s.log.Debug("compose window detected")
	s.schedule()
}

// schedule runs the injector after the settle delay. Every qualifying
// batch schedules independently; the injector's remove-then-create keeps
// the document correct when runs overlap.
func (s *Session) schedule() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.closed.Load() {
		return
	}

	s.pending.Add(1)
	var t *time.Timer
	t = time.AfterFunc(s.opts.SettleDelay, func() {
		s.tmu.Lock()
		delete(s.timers, t)
		s.tmu.Unlock()
		defer s.pending.Done()
		s.injectWithRetry()
	})
	s.timers[t] = struct{}{}
}

// injectWithRetry retries toolbar lookup with exponential backoff while
// the compose surface finishes rendering.
func (s *Session) injectWithRetry() {
	if s.ctx.Err() != nil {
		return
	}

	op := func() (bool, error) {
		ok, err := s.injector.Inject(s.ctx, s.doc)
		if err != nil {
			return false, backoff.Permanent(err)
		}
		if !ok {
			return false, errToolbarMissing
		}
		return true, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.SettleDelay / 2
	b.MaxInterval = s.opts.MaxRetryElapsed

	_, err := backoff.Retry(s.ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxRetries+1),
		backoff.WithMaxElapsedTime(s.opts.MaxRetryElapsed),
	)
	switch {
	case err == nil:
		s.injections.Add(1)
	case s.ctx.Err() != nil:
	case errors.Is(err, errToolbarMissing):
		s.log.Info("toolbar not found", "tries", s.opts.MaxRetries+1)
	default:
		s.log.Error("injection failed", "err", err)
		s.opts.Recorder.Failure("inject", err)
	}
}

func (s *Session) onActivate(id string) {
	if s.closed.Load() {
		return
	}
	s.log.Debug("control activated", "control", id)
	s.generator.Activate(s.ctx, s.doc)
}

// Wait blocks until scheduled injections and running generations finish.
func (s *Session) Wait() {
	s.pending.Wait()
	s.generator.Wait()
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Status returns a snapshot for health reporting.
func (s *Session) Status() Status {
	return Status{
		ID:         s.id,
		StartedAt:  s.startedAt,
		Detections: s.detections.Load(),
		Injections: s.injections.Load(),
		InFlight:   s.generator.InFlight(),
		Closed:     s.closed.Load(),
	}
}

// Close tears the session down: subscriptions stop, pending injections are
// dropped, in-flight generations are cancelled and the control is removed
// when the document is still reachable.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.tmu.Lock()
	for t := range s.timers {
		if t.Stop() {
			s.pending.Done()
		}
		delete(s.timers, t)
	}
	s.tmu.Unlock()

	for _, stop := range s.stops {
		stop()
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.mu.Lock()
	_, err := s.doc.RemoveAll(ctx, control.Selector)
	s.mu.Unlock()

	s.opts.Recorder.Record(recorder.EventSessionEnd, s.Status())
	s.log.Info("session closed")
	if err != nil {
		return fmt.Errorf("remove control: %w", err)
	}
	return nil
}
