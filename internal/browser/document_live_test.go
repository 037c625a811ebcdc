package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/config"
	"mailreply/internal/control"
	"mailreply/internal/dom"
)

const livePage = `<!doctype html><html><body>
<div class="h7">Can we meet Thursday?</div>
<div id="root"></div>
</body></html>`

// TestLiveDocument drives a real headless Chrome through the dom.Document
// implementation. It needs a local Chrome install.
func TestLiveDocument(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping live browser tests (SKIP_LIVE_TESTS set)")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("Skipping live browser tests (no Chrome found)")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, livePage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	headless := true
	conn := NewConnector(config.BrowserConfig{Headless: &headless, PageURL: srv.URL + "/"}, nil)
	require.NoError(t, conn.Start(ctx))
	defer func() { _ = conn.Shutdown() }()
	assert.NotEmpty(t, conn.ControlURL())

	page, err := conn.MailPage(ctx)
	require.NoError(t, err)
	doc := NewDocument(page, nil)

	t.Run("Query", func(t *testing.T) {
		el, err := doc.Query(ctx, ".h7")
		require.NoError(t, err)
		require.NotNil(t, el)
		text, err := el.InnerText(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Can we meet Thursday?", text)

		missing, err := doc.Query(ctx, ".does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("ObserveAndActivate", func(t *testing.T) {
		batches := make(chan dom.Batch, 4)
		stop, err := doc.Observe(ctx, `[role="dialog"]`, func(b dom.Batch) { batches <- b })
		require.NoError(t, err)
		defer stop()

		activated := make(chan string, 1)
		stopAct, err := doc.OnActivate(ctx, func(id string) { activated <- id })
		require.NoError(t, err)
		defer stopAct()

		page.MustEval(`() => {
			const d = document.createElement('div');
			d.setAttribute('role', 'dialog');
			d.innerHTML = '<div class="btC"></div>';
			document.getElementById('root').appendChild(d);
		}`)

		select {
		case b := <-batches:
			require.NotEmpty(t, b.Added)
			assert.True(t, b.Added[0].Element)
			assert.True(t, b.Added[0].Matches)
		case <-time.After(10 * time.Second):
			t.Fatal("no mutation batch delivered")
		}

		toolbar, err := doc.Query(ctx, ".btC")
		require.NoError(t, err)
		require.NotNil(t, toolbar)
		require.NoError(t, toolbar.Prepend(ctx, control.Spec("live-1", control.Idle)))

		btn := page.MustElement(control.Selector)
		require.NoError(t, btn.Click(proto.InputMouseButtonLeft, 1))

		select {
		case id := <-activated:
			assert.Equal(t, "live-1", id)
		case <-time.After(10 * time.Second):
			t.Fatal("no activation delivered")
		}
		assert.Equal(t, control.BusyText, btn.MustText())

		n, err := doc.RemoveAll(ctx, control.Selector)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
