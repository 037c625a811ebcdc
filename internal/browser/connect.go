package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"mailreply/internal/config"
	"mailreply/internal/dom"
)

// Connector owns the connection to Chrome and finds the webmail tab.
type Connector struct {
	cfg config.BrowserConfig
	log *slog.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	launched   *launcher.Launcher
	connCancel context.CancelFunc
	controlURL string
}

// NewConnector prepares a connector; nothing is dialled until Start.
func NewConnector(cfg config.BrowserConfig, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{cfg: cfg, log: logger.With("component", "browser")}
}

// Start connects to an existing Chrome or launches one using Rod's launcher.
// Attaching to debugger_url leaves the browser running on Shutdown; a
// launched browser is killed. Launching and dialling each give up after the
// attach timeout; the connection itself lives until ctx is done or Shutdown.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		c.log.Warn("stale browser connection detected, reconnecting")
		c.closeLocked()
	}

	timeout := c.cfg.AttachTimeout()
	controlURL := c.cfg.DebuggerURL
	if controlURL == "" {
		l, err := c.launcher()
		if err != nil {
			return err
		}
		url, err := within(ctx, timeout, l.Context(ctx).Launch)
		if err != nil {
			l.Kill()
			return fmt.Errorf("launch chrome: %w", err)
		}
		c.launched = l
		controlURL = url
	}

	connCtx, connCancel := context.WithCancel(ctx)
	browser := rod.New().ControlURL(controlURL).Context(connCtx)
	_, err := within(ctx, timeout, func() (struct{}, error) {
		return struct{}{}, browser.Connect()
	})
	if err != nil {
		connCancel()
		if c.launched != nil {
			c.launched.Kill()
			c.launched = nil
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}

	c.browser = browser
	c.connCancel = connCancel
	c.controlURL = controlURL
	c.log.Info("browser connected", "control_url", controlURL, "launched", c.launched != nil)
	return nil
}

// within returns fn's result, or a deadline error once d has passed or ctx
// is done. On timeout fn keeps running; the caller has to make it stop.
func within[T any](ctx context.Context, d time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	var zero T
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("gave up after %s: %w", d, context.DeadlineExceeded)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Connector) launcher() (*launcher.Launcher, error) {
	if c.cfg.UserMode {
		return launcher.NewUserMode(), nil
	}
	l := launcher.New().Headless(c.cfg.IsHeadless())
	if len(c.cfg.Launch) == 0 {
		return l, nil
	}
	if c.cfg.Launch[0] == "" {
		return nil, errors.New("browser.launch: empty binary")
	}
	l = l.Bin(c.cfg.Launch[0])
	for _, f := range parseLaunchFlags(c.cfg.Launch[1:]) {
		l = l.Set(f.name, f.values...)
	}
	return l, nil
}

type launchFlag struct {
	name   flags.Flag
	values []string
}

// parseLaunchFlags turns "--name=value" style arguments into launcher flags.
func parseLaunchFlags(args []string) []launchFlag {
	out := make([]launchFlag, 0, len(args))
	for _, raw := range args {
		flagStr := strings.TrimLeft(raw, "-")
		if flagStr == "" {
			continue
		}
		name, val, hasVal := strings.Cut(flagStr, "=")
		f := launchFlag{name: flags.Flag(name)}
		if hasVal {
			f.values = []string{val}
		}
		out = append(out, f)
	}
	return out
}

// ControlURL returns the WebSocket debugger URL of the connected browser.
func (c *Connector) ControlURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlURL
}

// IsConnected reports whether Start succeeded and Shutdown has not run.
func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.browser != nil
}

// MailPage returns the first tab whose URL starts with page_url, opening
// one if none exists.
func (c *Connector) MailPage(ctx context.Context) (*rod.Page, error) {
	c.mu.Lock()
	browser := c.browser
	c.mu.Unlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}
	// ctx bounds the lookup only; the page lives as long as the connection.
	base := browser.GetContext()
	browser = browser.Context(ctx)

	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if matchesPageURL(info.URL, c.cfg.PageURL) {
			c.log.Info("attached to webmail tab", "url", info.URL, "target", p.TargetID)
			return p.Context(base), nil
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: c.cfg.PageURL})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.cfg.PageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		c.log.Warn("webmail tab did not finish loading", "err", err)
	}
	c.log.Info("opened webmail tab", "url", c.cfg.PageURL, "target", page.TargetID)
	return page.Context(base), nil
}

func matchesPageURL(url, prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(url, prefix) || strings.HasPrefix(url+"/", prefix)
}

// WatchNavigation reports the URL of every main-frame navigation of page
// until ctx is cancelled. In-document navigations, which single page apps
// use for routing, are not reported.
func WatchNavigation(ctx context.Context, page *rod.Page) <-chan string {
	ch := make(chan string, 1)
	wait := page.Context(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		select {
		case ch <- e.Frame.URL:
		default:
		}
	})
	go func() {
		defer close(ch)
		wait()
	}()
	return ch
}

// Shutdown disconnects from Chrome, killing it only if it was launched here.
func (c *Connector) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.closeLocked()
	c.log.Info("browser shutdown complete")
	return err
}

func (c *Connector) closeLocked() error {
	var err error
	if c.launched != nil {
		if c.browser != nil {
			err = c.browser.Close()
		}
		c.launched.Kill()
		c.launched = nil
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.browser = nil
	c.controlURL = ""
	return err
}

// Tab is the webmail page the agent serves across reloads.
type Tab struct {
	page *rod.Page
	log  *slog.Logger
}

// NewTab wraps page.
func NewTab(page *rod.Page, logger *slog.Logger) *Tab {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tab{page: page, log: logger}
}

// Document returns a fresh document view of the current page load.
func (t *Tab) Document() dom.Document { return NewDocument(t.page, t.log) }

// Navigations reports main-frame navigations until ctx is done.
func (t *Tab) Navigations(ctx context.Context) <-chan string { return WatchNavigation(ctx, t.page) }

// WaitLoad waits for the current load to finish.
func (t *Tab) WaitLoad(ctx context.Context) error { return t.page.Context(ctx).WaitLoad() }
