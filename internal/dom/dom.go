// Package dom describes the host document as seen by the reply agent.
//
// The host page belongs to a third party and mutates at any time. Handles
// returned by a Document are only trustworthy until the caller next yields
// (network I/O, timers); anything needed afterwards must be queried again.
package dom

import "context"

// DisabledAttr marks an element as disabled. Activation and hover feedback
// are suppressed while it is "true".
const DisabledAttr = "aria-disabled"

// Document is a live, externally owned DOM tree.
type Document interface {
	// Query returns the first element matching selector, or nil when nothing
	// matches. A nil element with a nil error is a normal outcome.
	Query(ctx context.Context, selector string) (Element, error)
	// RemoveAll detaches every element matching selector.
	RemoveAll(ctx context.Context, selector string) (int, error)
	// Observe subscribes to childList mutations across the whole document.
	// Each delivered Batch describes the added nodes of one notification,
	// with match flags computed against signature.
	Observe(ctx context.Context, signature string, fn func(Batch)) (stop func(), err error)
	// OnActivate subscribes to activations of elements created with an
	// Activation spec. fn receives the activation ID.
	OnActivate(ctx context.Context, fn func(id string)) (stop func(), err error)
	// Alert shows a blocking notification to the user.
	Alert(ctx context.Context, message string) error
}

// Element is a handle on one node of a Document.
type Element interface {
	// InnerText returns the rendered text of the element.
	InnerText(ctx context.Context) (string, error)
	// Prepend creates a new element from spec and inserts it as the first child.
	Prepend(ctx context.Context, spec ElementSpec) error
	SetText(ctx context.Context, text string) error
	SetAttr(ctx context.Context, name, value string) error
	// SetStyle sets one inline CSS property, leaving the others in place.
	SetStyle(ctx context.Context, property, value string) error
	// Focus gives the element input focus.
	Focus(ctx context.Context) error
	// InsertText inserts text at the caret of the focused element, leaving
	// existing content in place.
	InsertText(ctx context.Context, text string) error
}

// ElementSpec is the markup for an element created by Prepend.
type ElementSpec struct {
	Tag     string            `json:"tag"`
	Classes []string          `json:"classes"`
	Attrs   map[string]string `json:"attrs"`
	// Style holds inline CSS properties in kebab-case.
	Style map[string]string `json:"style"`
	Text  string            `json:"text"`
	// Hover overrides Style while the pointer is over the element and the
	// element is not disabled.
	Hover    map[string]string `json:"hover,omitempty"`
	Activate *Activation       `json:"activate,omitempty"`
}

// Activation makes an element report clicks through Document.OnActivate.
// Text and Attrs are applied by the page synchronously on click, before the
// activation is reported, so a second click already sees the element
// disabled.
type Activation struct {
	ID    string            `json:"id"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs"`
}

// AddedNode summarises one node added by a mutation.
type AddedNode struct {
	Element       bool `json:"element"`
	Matches       bool `json:"matches"`
	ContainsMatch bool `json:"contains"`
}

// Batch is the set of added nodes delivered in one mutation notification.
// Removed nodes are never reported.
type Batch struct {
	Added []AddedNode `json:"added"`
}
