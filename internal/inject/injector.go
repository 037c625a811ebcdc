// Package inject attaches the AI Reply control to the compose toolbar.
package inject

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"mailreply/internal/control"
	"mailreply/internal/dom"
	"mailreply/internal/locator"
	"mailreply/internal/metrics"
	"mailreply/internal/recorder"
)

// Injector keeps at most one control in the document.
type Injector struct {
	locator  *locator.Locator
	lock     sync.Locker
	busy     func() bool
	log      *slog.Logger
	metrics  *metrics.Metrics
	recorder *recorder.Recorder
	newID    func() string
}

// Options wires an Injector.
type Options struct {
	Locator *locator.Locator
	// Lock serialises document work with the rest of the session.
	Lock sync.Locker
	// Busy reports whether a generation is in flight; new controls then
	// start Busy so they cannot trigger a second request.
	Busy     func() bool
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Recorder *recorder.Recorder
}

// New creates an Injector.
func New(opts Options) *Injector {
	inj := &Injector{
		locator:  opts.Locator,
		lock:     opts.Lock,
		busy:     opts.Busy,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		newID:    uuid.NewString,
	}
	if inj.locator == nil {
		inj.locator = locator.New(locator.Selectors{})
	}
	if inj.lock == nil {
		inj.lock = &sync.Mutex{}
	}
	if inj.busy == nil {
		inj.busy = func() bool { return false }
	}
	if inj.log == nil {
		inj.log = slog.Default()
	}
	inj.log = inj.log.With("component", "injector")
	return inj
}

// Inject replaces any existing control with a fresh one as the toolbar's
// first child. It reports false without error when no toolbar is present
// yet.
func (i *Injector) Inject(ctx context.Context, doc dom.Document) (bool, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	removed, err := doc.RemoveAll(ctx, control.Selector)
	if err != nil {
		i.metrics.Injected(metrics.InjectError)
		return false, fmt.Errorf("remove stale control: %w", err)
	}

	toolbar, err := i.locator.Toolbar(ctx, doc)
	if err != nil {
		i.metrics.Injected(metrics.InjectError)
		return false, fmt.Errorf("locate toolbar: %w", err)
	}
	if toolbar == nil {
		i.log.Debug("toolbar not found", "removed", removed)
		i.metrics.Injected(metrics.InjectToolbarMissing)
		i.recorder.Record(recorder.EventToolbarMissing, nil)
		return false, nil
	}

	state := control.Idle
	if i.busy() {
		state = control.Busy
	}
	id := i.newID()
	if err := toolbar.Prepend(ctx, control.Spec(id, state)); err != nil {
		i.metrics.Injected(metrics.InjectError)
		return false, fmt.Errorf("insert control: %w", err)
	}

	i.log.Info("toolbar found, control injected", "control", id, "state", state, "replaced", removed)
	i.metrics.Injected(metrics.InjectInjected)
	i.recorder.Record(recorder.EventInjected, map[string]interface{}{"control": id, "state": state.String(), "replaced": removed})
	return true, nil
}
