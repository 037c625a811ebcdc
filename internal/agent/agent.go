// Package agent serves one webmail tab: it keeps a watcher session running
// for every page load and restarts it when the tab navigates.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mailreply/internal/config"
	"mailreply/internal/dom"
	"mailreply/internal/locator"
	"mailreply/internal/metrics"
	"mailreply/internal/recorder"
	"mailreply/internal/reply"
	"mailreply/internal/watcher"
)

// Tab is a page that survives reloads.
type Tab interface {
	// Document returns a view of the current page load.
	Document() dom.Document
	// Navigations reports main-frame navigations until ctx is done, then
	// closes the channel.
	Navigations(ctx context.Context) <-chan string
	WaitLoad(ctx context.Context) error
}

// Options wires an Agent.
type Options struct {
	Config    config.Config
	Service   reply.Service
	Clipboard reply.Clipboard
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Recorder  *recorder.Recorder
}

const (
	maxRestartRetries   = 3
	defaultRestartDelay = time.Second
)

// Status is reported on /healthz.
type Status struct {
	Sessions     int64           `json:"sessions"`
	FailedStarts int64           `json:"failed_starts"`
	Current      *watcher.Status `json:"current,omitempty"`
}

// Agent runs watcher sessions against a Tab.
type Agent struct {
	opts    Options
	log     *slog.Logger
	locator *locator.Locator

	restartDelay time.Duration

	mu           sync.Mutex
	current      *watcher.Session
	sessions     atomic.Int64
	failedStarts atomic.Int64
}

// New creates an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Service == nil {
		return nil, errors.New("agent: a generation service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	sel := opts.Config.Selectors
	return &Agent{
		opts:         opts,
		log:          opts.Logger.With("component", "agent"),
		restartDelay: defaultRestartDelay,
		locator: locator.New(locator.Selectors{
			BodyText:         sel.BodyText,
			Toolbar:          sel.Toolbar,
			ComposeField:     sel.ComposeField,
			ComposeSignature: sel.ComposeSignature,
		}),
	}, nil
}

// Serve blocks until ctx is cancelled or the tab's navigation stream ends.
// Each page load gets its own session; the previous one is closed first so
// its subscriptions and timers never outlive the document they watched.
// Only a failure to start the first session is returned. Later failures,
// typically a page torn down mid-reload, are retried a few times and then
// left until the next navigation.
func (a *Agent) Serve(ctx context.Context, tab Tab) error {
	navs := tab.Navigations(ctx)
	sess, err := a.startSession(ctx, tab.Document())
	if err != nil {
		return err
	}

	retries := 0
	for {
		var retry <-chan time.Time
		if sess == nil && retries < maxRestartRetries {
			retry = time.After(a.restartDelay)
		}

		select {
		case <-ctx.Done():
			a.endSession(sess)
			return nil
		case url, ok := <-navs:
			a.endSession(sess)
			sess = nil
			if !ok {
				a.log.Info("tab closed")
				return nil
			}
			a.log.Info("page navigated, restarting session", "url", url)
			retries = 0
			if err := tab.WaitLoad(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.log.Warn("page load did not complete", "err", err)
			}
		case <-retry:
			retries++
		}

		sess, err = a.startSession(ctx, tab.Document())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.failedStarts.Add(1)
			a.opts.Recorder.Failure("session_start", err)
			a.log.Warn("session start failed", "err", err, "retry", retries, "max_retries", maxRestartRetries)
			sess = nil
		}
	}
}

func (a *Agent) startSession(ctx context.Context, doc dom.Document) (*watcher.Session, error) {
	w := a.opts.Config.Watcher
	sess, err := watcher.Start(ctx, doc, watcher.Options{
		Locator:         a.locator,
		Service:         a.opts.Service,
		Clipboard:       a.opts.Clipboard,
		SettleDelay:     w.GetSettleDelay(),
		MaxRetries:      w.GetMaxRetries(),
		MaxRetryElapsed: w.GetMaxRetryElapsed(),
		Logger:          a.opts.Logger,
		Metrics:         a.opts.Metrics,
		Recorder:        a.opts.Recorder,
	})
	if err != nil {
		return nil, err
	}
	a.sessions.Add(1)
	a.mu.Lock()
	a.current = sess
	a.mu.Unlock()
	return sess, nil
}

func (a *Agent) endSession(sess *watcher.Session) {
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		a.log.Debug("session close", "session", sess.ID(), "err", err)
	}
	sess.Wait()
	a.mu.Lock()
	if a.current == sess {
		a.current = nil
	}
	a.mu.Unlock()
}

// Status snapshots the agent.
func (a *Agent) Status() Status {
	st := Status{Sessions: a.sessions.Load(), FailedStarts: a.failedStarts.Load()}
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()
	if cur != nil {
		s := cur.Status()
		st.Current = &s
	}
	return st
}
