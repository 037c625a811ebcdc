package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"mailreply/internal/dom"
)

const (
	mutationBinding = "__mailreplyMutation"
	activateBinding = "__mailreplyActivate"
)

// Document drives a live Chrome tab as a dom.Document.
type Document struct {
	page *rod.Page
	log  *slog.Logger
}

var _ dom.Document = (*Document)(nil)

// NewDocument wraps page.
func NewDocument(page *rod.Page, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{page: page, log: logger.With("component", "browser")}
}

// Query implements dom.Document. It never waits for the selector to appear.
func (d *Document) Query(ctx context.Context, selector string) (dom.Element, error) {
	has, el, err := d.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if !has {
		return nil, nil
	}
	return &element{el: el}, nil
}

// RemoveAll implements dom.Document.
func (d *Document) RemoveAll(ctx context.Context, selector string) (int, error) {
	res, err := d.page.Context(ctx).Evaluate(rod.Eval(removeAllJS, selector).ByUser())
	if err != nil {
		return 0, fmt.Errorf("remove %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

// Observe implements dom.Document with an in-page MutationObserver that
// reports back through a CDP binding.
func (d *Document) Observe(ctx context.Context, signature string, fn func(dom.Batch)) (func(), error) {
	page := d.page.Context(ctx)
	stopBinding, err := page.Expose(mutationBinding, func(payload gson.JSON) (interface{}, error) {
		raw, err := payload.MarshalJSON()
		if err != nil {
			return nil, err
		}
		var b dom.Batch
		if err := json.Unmarshal(raw, &b); err != nil {
			d.log.Warn("undecodable mutation batch", "err", err)
			return nil, err
		}
		// Bindings are delivered on rod's event loop; keep it free.
		go fn(b)
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("expose %s: %w", mutationBinding, err)
	}

	if _, err := page.Evaluate(rod.Eval(observeJS, mutationBinding, signature).ByUser()); err != nil {
		_ = stopBinding()
		return nil, fmt.Errorf("install observer: %w", err)
	}

	return func() {
		_, _ = d.page.Evaluate(rod.Eval(disconnectJS, mutationBinding))
		if err := stopBinding(); err != nil {
			d.log.Debug("stop mutation binding", "err", err)
		}
	}, nil
}

// OnActivate implements dom.Document.
func (d *Document) OnActivate(ctx context.Context, fn func(string)) (func(), error) {
	stop, err := d.page.Context(ctx).Expose(activateBinding, func(payload gson.JSON) (interface{}, error) {
		go fn(payload.Str())
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("expose %s: %w", activateBinding, err)
	}
	return func() {
		if err := stop(); err != nil {
			d.log.Debug("stop activation binding", "err", err)
		}
	}, nil
}

// Alert implements dom.Document.
func (d *Document) Alert(ctx context.Context, message string) error {
	if _, err := d.page.Context(ctx).Evaluate(rod.Eval(alertJS, message)); err != nil {
		return fmt.Errorf("alert: %w", err)
	}
	return nil
}

type element struct {
	el *rod.Element
}

func (e *element) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	return e.el.Context(ctx).Evaluate(rod.Eval(js, args...).ByUser())
}

func (e *element) InnerText(ctx context.Context) (string, error) {
	res, err := e.eval(ctx, innerTextJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *element) Prepend(ctx context.Context, spec dom.ElementSpec) error {
	_, err := e.eval(ctx, prependJS, spec, activateBinding, dom.DisabledAttr)
	return err
}

func (e *element) SetText(ctx context.Context, text string) error {
	_, err := e.eval(ctx, setTextJS, text)
	return err
}

func (e *element) SetAttr(ctx context.Context, name, value string) error {
	_, err := e.eval(ctx, setAttrJS, name, value)
	return err
}

func (e *element) SetStyle(ctx context.Context, property, value string) error {
	_, err := e.eval(ctx, setStyleJS, property, value)
	return err
}

func (e *element) Focus(ctx context.Context) error {
	_, err := e.eval(ctx, focusJS)
	return err
}

// InsertText types at the caret the way a paste would, so the host page's
// editor sees a normal input event and existing content stays.
func (e *element) InsertText(ctx context.Context, text string) error {
	return proto.InputInsertText{Text: text}.Call(e.el.Page().Context(ctx))
}
