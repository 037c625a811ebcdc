// Package locator holds every structural selector the agent relies on.
//
// The host page's markup is a fragile, versioned contract. Keeping the
// selectors here means a host-page change touches this package only.
package locator

import (
	"context"
	"fmt"
	"strings"

	"mailreply/internal/dom"
)

// Default selector lists, most specific first.
var (
	DefaultBodyText = []string{
		".h7",
		".a3s.aiL",
		".gmail_quote",
		`[role="presentation"]`,
	}
	DefaultToolbar = []string{
		".btC",
		".aDh",
		`[role="toolbar"]`,
		".gU.Up",
	}
	DefaultComposeField = []string{
		`[role=textbox][g_editable="true"]`,
	}
	// DefaultComposeSignature identifies a newly rendered compose surface.
	DefaultComposeSignature = `.aDh, .btC, [role="dialog"]`
)

// Selectors configures a Locator. Empty fields fall back to the defaults.
type Selectors struct {
	BodyText         []string
	Toolbar          []string
	ComposeField     []string
	ComposeSignature string
}

// Locator finds content and anchors in a document using ordered fallbacks.
type Locator struct {
	bodyText     []string
	toolbar      []string
	composeField []string
	signature    string
}

// New builds a Locator, filling unset selector lists with defaults.
func New(s Selectors) *Locator {
	l := &Locator{
		bodyText:     s.BodyText,
		toolbar:      s.Toolbar,
		composeField: s.ComposeField,
		signature:    s.ComposeSignature,
	}
	if len(l.bodyText) == 0 {
		l.bodyText = DefaultBodyText
	}
	if len(l.toolbar) == 0 {
		l.toolbar = DefaultToolbar
	}
	if len(l.composeField) == 0 {
		l.composeField = DefaultComposeField
	}
	if l.signature == "" {
		l.signature = DefaultComposeSignature
	}
	return l
}

// Text returns the trimmed inner text of the first body-text candidate that
// matches. No match yields "" and a nil error.
func (l *Locator) Text(ctx context.Context, doc dom.Document) (string, error) {
	el, _, err := first(ctx, doc, l.bodyText)
	if err != nil || el == nil {
		return "", err
	}
	text, err := el.InnerText(ctx)
	if err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Toolbar returns the first toolbar candidate that matches, or nil.
func (l *Locator) Toolbar(ctx context.Context, doc dom.Document) (dom.Element, error) {
	el, _, err := first(ctx, doc, l.toolbar)
	return el, err
}

// ComposeField returns the editable compose element, or nil.
func (l *Locator) ComposeField(ctx context.Context, doc dom.Document) (dom.Element, error) {
	el, _, err := first(ctx, doc, l.composeField)
	return el, err
}

// ComposeSignature is the selector group that marks a compose surface.
func (l *Locator) ComposeSignature() string {
	return l.signature
}

// Match describes which candidate of a list won.
type Match struct {
	Selector string
	Index    int
}

// Explain reports the winning candidate for each lookup, for diagnostics.
// Index is -1 when no candidate matched.
func (l *Locator) Explain(ctx context.Context, doc dom.Document) (map[string]Match, error) {
	out := make(map[string]Match, 3)
	for name, list := range map[string][]string{
		"body_text":     l.bodyText,
		"toolbar":       l.toolbar,
		"compose_field": l.composeField,
	} {
		_, idx, err := first(ctx, doc, list)
		if err != nil {
			return nil, err
		}
		m := Match{Index: idx}
		if idx >= 0 {
			m.Selector = list[idx]
		}
		out[name] = m
	}
	return out, nil
}

func first(ctx context.Context, doc dom.Document, selectors []string) (dom.Element, int, error) {
	for i, sel := range selectors {
		el, err := doc.Query(ctx, sel)
		if err != nil {
			return nil, -1, fmt.Errorf("query %q: %w", sel, err)
		}
		if el != nil {
			return el, i, nil
		}
	}
	return nil, -1, nil
}
