package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/control"
	"mailreply/internal/dom"
	"mailreply/internal/dom/htmldoc"
)

const emptyPage = `<html><body><div id="root"></div></body></html>`

type serviceFunc func(ctx context.Context, content string) (string, error)

func (f serviceFunc) Generate(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

func echo(reply string) serviceFunc {
	return func(context.Context, string) (string, error) { return reply, nil }
}

func start(t *testing.T, markup string, opts Options) (*htmldoc.Document, *Session) {
	t.Helper()
	doc, err := htmldoc.New(markup)
	require.NoError(t, err)
	if opts.Service == nil {
		opts.Service = echo("reply")
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 5 * time.Millisecond
	}
	s, err := Start(context.Background(), doc, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return doc, s
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		name  string
		batch dom.Batch
		want  bool
	}{
		{"empty", dom.Batch{}, false},
		{"text node", dom.Batch{Added: []dom.AddedNode{{}}}, false},
		{"unrelated element", dom.Batch{Added: []dom.AddedNode{{Element: true}}}, false},
		{"element matches", dom.Batch{Added: []dom.AddedNode{{Element: true, Matches: true}}}, true},
		{"descendant matches", dom.Batch{Added: []dom.AddedNode{{Element: true}, {Element: true, ContainsMatch: true}}}, true},
		{"non-element flags ignored", dom.Batch{Added: []dom.AddedNode{{Matches: true}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Qualifies(tt.batch))
		})
	}
}

func TestStartRequiresService(t *testing.T) {
	doc, err := htmldoc.New(emptyPage)
	require.NoError(t, err)
	_, err = Start(context.Background(), doc, Options{})
	require.Error(t, err)
}

func TestRepeatedDetectionsLeaveOneControl(t *testing.T) {
	doc, s := start(t, emptyPage, Options{})

	require.NoError(t, doc.Append("#root", `<div role="dialog"><div class="btC"><div class="send"></div></div></div>`))
	for i := 0; i < 4; i++ {
		require.NoError(t, doc.Append("#root", `<div class="aDh"></div>`))
	}
	s.Wait()

	assert.Equal(t, 1, doc.Count(control.Selector))
	assert.Equal(t, 0, doc.Index(control.Selector))
	assert.Equal(t, int64(5), s.Status().Detections)
	assert.Equal(t, int64(5), s.Status().Injections)
}

func TestUnrelatedMutationsIgnored(t *testing.T) {
	doc, s := start(t, `<html><body><div id="root"><div class="btC"></div></div></body></html>`, Options{})
	s.Wait()
	require.Equal(t, 1, doc.Count(control.Selector))
	before := s.Status().Injections

	require.NoError(t, doc.Append("#root", `<span>new message</span>`))
	s.Wait()
	assert.Equal(t, before, s.Status().Injections)
	assert.Equal(t, int64(0), s.Status().Detections)
}

func TestAlreadyOpenComposeIsHandled(t *testing.T) {
	doc, s := start(t, `<html><body><div role="dialog"><div class="aDh"></div></div></body></html>`, Options{})
	s.Wait()
	assert.Equal(t, 1, doc.Count(control.Selector))
}

func TestToolbarMissingWithoutRetries(t *testing.T) {
	doc, s := start(t, emptyPage, Options{})

	require.NoError(t, doc.Append("#root", `<div role="dialog" id="compose"></div>`))
	s.Wait()
	assert.Equal(t, 0, doc.Count(control.Selector))
	assert.Equal(t, int64(1), s.Status().Detections)
	assert.Equal(t, int64(0), s.Status().Injections)
}

func TestLateToolbarFoundByRetry(t *testing.T) {
	doc, s := start(t, emptyPage, Options{MaxRetries: 50, MaxRetryElapsed: 3 * time.Second})

	require.NoError(t, doc.Append("#root", `<div role="dialog" id="compose"></div>`))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, doc.Append("#compose", `<div role="toolbar"></div>`))
	s.Wait()

	assert.Equal(t, 1, doc.Count(control.Selector))
	assert.Equal(t, int64(1), s.Status().Injections)
}

func TestActivationInsertsReply(t *testing.T) {
	doc, s := start(t, emptyPage, Options{Service: echo("Thanks, sounds good.")})

	require.NoError(t, doc.Append("#root", `<div role="dialog"><div class="btC"></div><div role="textbox" g_editable="true" id="field"></div></div>`))
	s.Wait()
	require.True(t, doc.Click(control.Selector))
	s.Wait()

	assert.Equal(t, "Thanks, sounds good.", doc.Text("#field"))
	assert.Equal(t, control.IdleText, doc.Text(control.Selector))
	assert.Equal(t, "false", doc.Attr(control.Selector, dom.DisabledAttr))
}

func TestReinjectionDuringGenerationStaysBusy(t *testing.T) {
	release := make(chan struct{})
	var calls int
	doc, s := start(t, emptyPage, Options{Service: serviceFunc(func(context.Context, string) (string, error) {
		calls++
		<-release
		return "done", nil
	})})

	require.NoError(t, doc.Append("#root", `<div role="dialog"><div class="btC"></div><div role="textbox" g_editable="true" id="field"></div></div>`))
	require.Eventually(t, func() bool { return s.Status().Injections == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, doc.Click(control.Selector))

	require.NoError(t, doc.Append("#root", `<div role="dialog"></div>`))
	require.Eventually(t, func() bool { return s.Status().Injections == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, doc.Count(control.Selector))
	assert.Equal(t, control.BusyText, doc.Text(control.Selector))
	assert.False(t, doc.Click(control.Selector))

	close(release)
	s.Wait()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "done", doc.Text("#field"))
	assert.Equal(t, control.IdleText, doc.Text(control.Selector))
}

func TestCloseStopsWatching(t *testing.T) {
	doc, s := start(t, emptyPage, Options{SettleDelay: time.Hour})

	require.NoError(t, doc.Append("#root", `<div class="btC"></div>`))
	require.NoError(t, s.Close())
	s.Wait()

	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	assert.True(t, s.Status().Closed)
	assert.Equal(t, 0, doc.Count(control.Selector))

	require.NoError(t, doc.Append("#root", `<div class="aDh"></div>`))
	assert.Equal(t, int64(1), s.Status().Detections)
	assert.False(t, doc.Click(control.Selector))
	require.NoError(t, s.Close())
}

func TestCloseRemovesControl(t *testing.T) {
	doc, s := start(t, `<html><body><div class="btC"></div></body></html>`, Options{})
	s.Wait()
	require.Equal(t, 1, doc.Count(control.Selector))

	require.NoError(t, s.Close())
	assert.Equal(t, 0, doc.Count(control.Selector))
}
