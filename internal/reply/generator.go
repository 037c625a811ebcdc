// Package reply handles activations of the AI Reply control: it reads the
// thread, asks the generation service for a reply and writes it into the
// compose field.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mailreply/internal/control"
	"mailreply/internal/dom"
	"mailreply/internal/locator"
	"mailreply/internal/metrics"
	"mailreply/internal/recorder"
)

// Alert prefixes for the two user-visible failure kinds.
const (
	AlertPrefix        = "Failed to generate AI reply: "
	InsertFailedPrefix = "AI reply generated but not inserted: "
)

var (
	// ErrBusy is returned when a generation is already in flight.
	ErrBusy = errors.New("generation already in progress")
	// ErrComposeMissing means the reply was generated but there was no
	// compose field to insert it into.
	ErrComposeMissing = errors.New("compose box not found")
)

// Service produces a reply for the given thread text.
type Service interface {
	Generate(ctx context.Context, content string) (string, error)
}

// Clipboard receives replies that could not be inserted.
type Clipboard interface {
	WriteAll(text string) error
}

// Generator runs the Idle -> Busy -> Idle interaction. At most one
// generation is in flight per Generator.
type Generator struct {
	locator   *locator.Locator
	service   Service
	clipboard Clipboard
	lock      sync.Locker
	log       *slog.Logger
	metrics   *metrics.Metrics
	recorder  *recorder.Recorder

	// inFlight only changes while lock is held.
	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// Options wires a Generator.
type Options struct {
	Locator   *locator.Locator
	Service   Service
	Clipboard Clipboard
	// Lock serialises document work with the rest of the session. It is
	// never held across the service call.
	Lock     sync.Locker
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Recorder *recorder.Recorder
}

// New creates a Generator.
func New(opts Options) *Generator {
	g := &Generator{
		locator:   opts.Locator,
		service:   opts.Service,
		clipboard: opts.Clipboard,
		lock:      opts.Lock,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		recorder:  opts.Recorder,
	}
	if g.locator == nil {
		g.locator = locator.New(locator.Selectors{})
	}
	if g.lock == nil {
		g.lock = &sync.Mutex{}
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	g.log = g.log.With("component", "generator")
	return g
}

// InFlight reports whether a generation is running.
func (g *Generator) InFlight() bool {
	return g.inFlight.Load()
}

// Activate starts a generation in the background. It returns false when
// one is already running; the click is then dropped.
func (g *Generator) Activate(ctx context.Context, doc dom.Document) bool {
	content, err := g.begin(ctx, doc)
	if errors.Is(err, ErrBusy) {
		g.metrics.Activated(false)
		g.log.Debug("activation ignored while busy")
		return false
	}
	g.metrics.Activated(true)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		_ = g.finish(ctx, doc, content, err)
	}()
	return true
}

// Run performs one generation synchronously.
func (g *Generator) Run(ctx context.Context, doc dom.Document) error {
	content, err := g.begin(ctx, doc)
	if errors.Is(err, ErrBusy) {
		return err
	}
	return g.finish(ctx, doc, content, err)
}

// Wait blocks until background generations started by Activate finish.
func (g *Generator) Wait() {
	g.wg.Wait()
}

// begin marks the generation in flight, shows Busy and reads the thread,
// all before the first suspension point.
func (g *Generator) begin(ctx context.Context, doc dom.Document) (string, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if g.inFlight.Load() {
		return "", ErrBusy
	}
	g.inFlight.Store(true)
	g.recorder.Record(recorder.EventActivated, nil)

	if err := g.applyCurrent(ctx, doc, control.Busy); err != nil {
		g.log.Warn("could not mark control busy", "err", err)
	}

	content, err := g.locator.Text(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("read email content: %w", err)
	}
	return content, nil
}

// finish calls the service, writes the reply back and always restores the
// control to Idle.
func (g *Generator) finish(ctx context.Context, doc dom.Document, content string, readErr error) (err error) {
	start := time.Now()
	outcome := metrics.OutcomeInserted

	defer func() {
		if ctx.Err() != nil {
			// The session is gone; the page cannot show anything.
			outcome = metrics.OutcomeDiscarded
			g.log.Info("session closed during generation, result discarded", "err", err)
		} else if err != nil {
			g.log.Error("generation failed", "err", err)
			g.recorder.Failure("generate", err)
			prefix := AlertPrefix
			if errors.Is(err, ErrComposeMissing) {
				prefix = InsertFailedPrefix
			}
			if alertErr := doc.Alert(ctx, prefix+err.Error()); alertErr != nil {
				g.log.Warn("alert failed", "err", alertErr)
			}
		}
		g.metrics.Generated(outcome, time.Since(start))
		g.restore(ctx, doc)
	}()

	if readErr != nil {
		outcome = metrics.OutcomeRequestFailed
		return readErr
	}

	reply, err := g.service.Generate(ctx, content)
	if err != nil {
		outcome = metrics.OutcomeRequestFailed
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	// The document may have changed while the request was in flight.
	field, err := g.locator.ComposeField(ctx, doc)
	if err != nil {
		outcome = metrics.OutcomeRequestFailed
		return fmt.Errorf("locate compose box: %w", err)
	}
	if field == nil {
		outcome = metrics.OutcomeComposeMissing
		return g.fallback(reply)
	}
	if err := field.Focus(ctx); err != nil {
		outcome = metrics.OutcomeRequestFailed
		return fmt.Errorf("focus compose box: %w", err)
	}
	if err := field.InsertText(ctx, reply); err != nil {
		outcome = metrics.OutcomeRequestFailed
		return fmt.Errorf("insert reply: %w", err)
	}
	g.recorder.Record(recorder.EventGenerated, map[string]int{"chars": len(reply)})
	g.log.Info("reply inserted", "chars", len(reply))
	return nil
}

// fallback keeps a generated reply that had nowhere to go.
func (g *Generator) fallback(reply string) error {
	if g.clipboard == nil {
		return ErrComposeMissing
	}
	if err := g.clipboard.WriteAll(reply); err != nil {
		return fmt.Errorf("%w; copying the reply to the clipboard failed: %v", ErrComposeMissing, err)
	}
	return fmt.Errorf("%w; the reply was copied to the clipboard", ErrComposeMissing)
}

// restore clears the in-flight flag and returns whichever control is
// currently in the document to Idle.
func (g *Generator) restore(ctx context.Context, doc dom.Document) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.inFlight.Store(false)
	if err := g.applyCurrent(context.WithoutCancel(ctx), doc, control.Idle); err != nil {
		g.log.Warn("could not restore control", "err", err)
	}
}

// applyCurrent re-queries the control; handles from before a suspension
// point are never reused.
func (g *Generator) applyCurrent(ctx context.Context, doc dom.Document, s control.State) error {
	el, err := doc.Query(ctx, control.Selector)
	if err != nil || el == nil {
		return err
	}
	return control.Apply(ctx, el, s)
}
