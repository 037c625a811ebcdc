package htmldoc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/dom"
)

func newDoc(t *testing.T, markup string) *Document {
	t.Helper()
	d, err := New(markup)
	require.NoError(t, err)
	return d
}

func TestQueryNoMatchIsNil(t *testing.T) {
	d := newDoc(t, `<html><body><p class="x">hi</p></body></html>`)
	el, err := d.Query(context.Background(), ".missing")
	require.NoError(t, err)
	assert.Nil(t, el)

	el, err = d.Query(context.Background(), ".x")
	require.NoError(t, err)
	require.NotNil(t, el)
	text, err := el.InnerText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestObserveDeliversSummaries(t *testing.T) {
	d := newDoc(t, `<html><body><div id="root"></div></body></html>`)
	var got []dom.Batch
	stop, err := d.Observe(context.Background(), `[role="dialog"]`, func(b dom.Batch) { got = append(got, b) })
	require.NoError(t, err)

	require.NoError(t, d.Append("#root", `<div role="dialog"></div>`))
	require.NoError(t, d.Append("#root", `<section><div role="dialog"></div></section>`))
	require.NoError(t, d.Append("#root", `<span>plain</span>`))

	require.Len(t, got, 3)
	assert.Equal(t, dom.AddedNode{Element: true, Matches: true}, got[0].Added[0])
	assert.Equal(t, dom.AddedNode{Element: true, ContainsMatch: true}, got[1].Added[0])
	assert.Equal(t, dom.AddedNode{Element: true}, got[2].Added[0])

	stop()
	require.NoError(t, d.Append("#root", `<div role="dialog"></div>`))
	assert.Len(t, got, 3)
}

func TestRemoveAllDoesNotNotify(t *testing.T) {
	d := newDoc(t, `<html><body><i class="a"></i><i class="a"></i></body></html>`)
	calls := 0
	_, err := d.Observe(context.Background(), ".a", func(dom.Batch) { calls++ })
	require.NoError(t, err)

	n, err := d.RemoveAll(context.Background(), ".a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, d.Count(".a"))
	assert.Equal(t, 0, calls)
}

func TestClickHonoursDisabled(t *testing.T) {
	d := newDoc(t, `<html><body><div id="bar"></div></body></html>`)
	var ids []string
	_, err := d.OnActivate(context.Background(), func(id string) { ids = append(ids, id) })
	require.NoError(t, err)

	bar, err := d.Query(context.Background(), "#bar")
	require.NoError(t, err)
	require.NoError(t, bar.Prepend(context.Background(), dom.ElementSpec{
		Classes: []string{"btn"},
		Attrs:   map[string]string{dom.DisabledAttr: "false"},
		Text:    "Go",
		Activate: &dom.Activation{
			ID:    "b1",
			Text:  "Working",
			Attrs: map[string]string{dom.DisabledAttr: "true"},
		},
	}))

	assert.True(t, d.Click(".btn"))
	assert.Equal(t, "Working", d.Text(".btn"))
	assert.False(t, d.Click(".btn"))
	assert.Equal(t, []string{"b1"}, ids)

	assert.False(t, d.Click("#bar"), "elements without an activation ignore clicks")
}

func TestInsertTextAtCaret(t *testing.T) {
	d := newDoc(t, `<html><body><div id="field">Hello world</div></body></html>`)
	field, err := d.Query(context.Background(), "#field")
	require.NoError(t, err)

	require.Error(t, field.InsertText(context.Background(), "x"), "insertion needs focus")

	require.NoError(t, d.SetCaret("#field", len("Hello")))
	require.NoError(t, field.Focus(context.Background()))
	require.NoError(t, field.InsertText(context.Background(), ","))
	assert.Equal(t, "Hello, world", d.Text("#field"))

	require.Error(t, d.SetCaret("#field", 100))
}

func TestAlertsAreRecorded(t *testing.T) {
	d := newDoc(t, `<html><body></body></html>`)
	require.NoError(t, d.Alert(context.Background(), "one"))
	require.NoError(t, d.Alert(context.Background(), "two"))
	assert.Equal(t, []string{"one", "two"}, d.Alerts())
}

func TestSetStyleKeepsOtherProperties(t *testing.T) {
	d := newDoc(t, `<html><body><div id="b" style="color: red; margin: 0"></div></body></html>`)
	el, err := d.Query(context.Background(), "#b")
	require.NoError(t, err)
	require.NoError(t, el.SetStyle(context.Background(), "color", "blue"))
	require.NoError(t, el.SetStyle(context.Background(), "padding", "2px"))
	assert.Equal(t, "color: blue; margin: 0; padding: 2px", d.Attr("#b", "style"))
}
