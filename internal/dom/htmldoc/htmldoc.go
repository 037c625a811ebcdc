// Package htmldoc is an in-memory dom.Document backed by goquery.
//
// It parses saved pages for offline selector checks and stands in for the
// browser in tests: mutations made through Append or Prepend are delivered
// to observers, clicks honour the disabled flag, and a caret model backs
// text insertion.
package htmldoc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"mailreply/internal/dom"
)

var errNoFocus = errors.New("no focused element")

type observer struct {
	signature string
	fn        func(dom.Batch)
}

type created struct {
	spec dom.ElementSpec
}

// Document implements dom.Document over a parsed HTML tree.
type Document struct {
	mu        sync.Mutex
	doc       *goquery.Document
	observers map[int]observer
	activates map[int]func(string)
	created   map[*html.Node]*created
	alerts    []string
	focused   *html.Node
	caret     int
	nextSub   int
}

var _ dom.Document = (*Document)(nil)

// New parses markup into a Document.
func New(markup string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{
		doc:       doc,
		observers: make(map[int]observer),
		activates: make(map[int]func(string)),
		created:   make(map[*html.Node]*created),
	}, nil
}

// Query implements dom.Document.
func (d *Document) Query(_ context.Context, selector string) (dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return nil, nil
	}
	return &element{d: d, n: sel.Nodes[0]}, nil
}

// RemoveAll implements dom.Document.
func (d *Document) RemoveAll(_ context.Context, selector string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(selector)
	for _, n := range sel.Nodes {
		delete(d.created, n)
	}
	count := sel.Length()
	sel.Remove()
	return count, nil
}

// Observe implements dom.Document.
func (d *Document) Observe(_ context.Context, signature string, fn func(dom.Batch)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.observers[id] = observer{signature: signature, fn: fn}
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}, nil
}

// OnActivate implements dom.Document.
func (d *Document) OnActivate(_ context.Context, fn func(string)) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.activates[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.activates, id)
	}, nil
}

// Alert implements dom.Document by recording the message.
func (d *Document) Alert(_ context.Context, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, message)
	return nil
}

// Alerts returns every message passed to Alert so far.
func (d *Document) Alerts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.alerts...)
}

// Append parses markup and appends it to the first element matching
// parentSelector, then notifies observers as the page would.
func (d *Document) Append(parentSelector, markup string) error {
	d.mu.Lock()
	parent := d.doc.Find(parentSelector)
	if parent.Length() == 0 {
		d.mu.Unlock()
		return fmt.Errorf("no element matches %q", parentSelector)
	}
	p := parent.Nodes[0]
	nodes, err := html.ParseFragment(strings.NewReader(markup), p)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		p.AppendChild(n)
	}
	deliveries := d.batchesLocked(nodes)
	d.mu.Unlock()

	deliver(deliveries)
	return nil
}

// Click simulates a user click on the first element matching selector. It
// reports whether an activation was delivered; disabled elements and
// elements without an Activation spec ignore the click.
func (d *Document) Click(selector string) bool {
	d.mu.Lock()
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		d.mu.Unlock()
		return false
	}
	n := sel.Nodes[0]
	c, ok := d.created[n]
	if !ok || c.spec.Activate == nil || attr(n, dom.DisabledAttr) == "true" {
		d.mu.Unlock()
		return false
	}
	act := c.spec.Activate
	if act.Text != "" {
		setText(n, act.Text)
	}
	for k, v := range act.Attrs {
		setAttr(n, k, v)
	}
	fns := make([]func(string), 0, len(d.activates))
	for _, fn := range d.activates {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(act.ID)
	}
	return true
}

// Hover moves the pointer onto (over=true) or off the first element
// matching selector. Style changes only while the element is enabled.
func (d *Document) Hover(selector string, over bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return
	}
	n := sel.Nodes[0]
	c, ok := d.created[n]
	if !ok || attr(n, dom.DisabledAttr) == "true" {
		return
	}
	style := c.spec.Style
	if over && len(c.spec.Hover) > 0 {
		style = mergeStyle(c.spec.Style, c.spec.Hover)
	}
	setAttr(n, "style", formatStyle(style))
}

// SetCaret focuses the first element matching selector and places the
// caret offset bytes into its text content.
func (d *Document) SetCaret(selector string, offset int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel := d.doc.Find(selector)
	if sel.Length() == 0 {
		return fmt.Errorf("no element matches %q", selector)
	}
	n := sel.Nodes[0]
	if offset < 0 || offset > len(textContent(n)) {
		return fmt.Errorf("caret offset %d out of range", offset)
	}
	d.focused = n
	d.caret = offset
	return nil
}

// Count returns the number of elements matching selector.
func (d *Document) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find(selector).Length()
}

// Text returns the text content of the first element matching selector.
func (d *Document) Text(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find(selector).First().Text()
}

// Attr returns an attribute of the first element matching selector.
func (d *Document) Attr(selector, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, _ := d.doc.Find(selector).First().Attr(name)
	return v
}

// Index returns the position of the first element matching selector among
// its parent's element children, or -1.
func (d *Document) Index(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find(selector).First().Index()
}

type delivery struct {
	fn    func(dom.Batch)
	batch dom.Batch
}

func (d *Document) batchesLocked(nodes []*html.Node) []delivery {
	out := make([]delivery, 0, len(d.observers))
	for _, o := range d.observers {
		var b dom.Batch
		for _, n := range nodes {
			b.Added = append(b.Added, summarize(n, o.signature))
		}
		out = append(out, delivery{fn: o.fn, batch: b})
	}
	return out
}

func deliver(ds []delivery) {
	for _, d := range ds {
		d.fn(d.batch)
	}
}

func summarize(n *html.Node, signature string) dom.AddedNode {
	if n.Type != html.ElementNode {
		return dom.AddedNode{}
	}
	sel := goquery.NewDocumentFromNode(n).Selection
	return dom.AddedNode{
		Element:       true,
		Matches:       sel.Is(signature),
		ContainsMatch: sel.Find(signature).Length() > 0,
	}
}

type element struct {
	d *Document
	n *html.Node
}

func (e *element) InnerText(context.Context) (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return textContent(e.n), nil
}

func (e *element) Prepend(_ context.Context, spec dom.ElementSpec) error {
	e.d.mu.Lock()
	n := build(spec)
	e.n.InsertBefore(n, e.n.FirstChild)
	e.d.created[n] = &created{spec: spec}
	deliveries := e.d.batchesLocked([]*html.Node{n})
	e.d.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (e *element) SetText(_ context.Context, text string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	setText(e.n, text)
	return nil
}

func (e *element) SetAttr(_ context.Context, name, value string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	setAttr(e.n, name, value)
	return nil
}

func (e *element) SetStyle(_ context.Context, property, value string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	style := parseStyle(attr(e.n, "style"))
	style[property] = value
	setAttr(e.n, "style", formatStyle(style))
	return nil
}

func (e *element) Focus(context.Context) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if e.d.focused != e.n {
		e.d.focused = e.n
		e.d.caret = len(textContent(e.n))
	}
	return nil
}

func (e *element) InsertText(_ context.Context, text string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if e.d.focused != e.n {
		return errNoFocus
	}
	insertAt(e.n, e.d.caret, text)
	e.d.caret += len(text)
	return nil
}

func build(spec dom.ElementSpec) *html.Node {
	tag := spec.Tag
	if tag == "" {
		tag = "div"
	}
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if len(spec.Classes) > 0 {
		setAttr(n, "class", strings.Join(spec.Classes, " "))
	}
	keys := make([]string, 0, len(spec.Attrs))
	for k := range spec.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setAttr(n, k, spec.Attrs[k])
	}
	if len(spec.Style) > 0 {
		setAttr(n, "style", formatStyle(spec.Style))
	}
	if spec.Text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: spec.Text})
	}
	return n
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walkText(n, func(t *html.Node) bool {
		b.WriteString(t.Data)
		return true
	})
	return b.String()
}

// insertAt splices text into the text node holding offset so surrounding
// markup is preserved.
func insertAt(n *html.Node, offset int, text string) {
	pos := 0
	done := false
	walkText(n, func(t *html.Node) bool {
		if offset <= pos+len(t.Data) {
			at := offset - pos
			t.Data = t.Data[:at] + text + t.Data[at:]
			done = true
			return false
		}
		pos += len(t.Data)
		return true
	})
	if !done {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func walkText(n *html.Node, fn func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if !fn(c) {
				return false
			}
			continue
		}
		if !walkText(c, fn) {
			return false
		}
	}
	return true
}

func mergeStyle(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func parseStyle(s string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func formatStyle(style map[string]string) string {
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+style[k])
	}
	return strings.Join(parts, "; ")
}
