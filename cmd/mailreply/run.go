package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mailreply/internal/agent"
	"mailreply/internal/browser"
	"mailreply/internal/config"
	"mailreply/internal/genclient"
	"mailreply/internal/logging"
	"mailreply/internal/metrics"
	"mailreply/internal/recorder"
	"mailreply/internal/reply"
)

var (
	runDebuggerURL   string
	runEndpoint      string
	runMetricsListen string
	runHeadless      bool
	runUserMode      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to the webmail tab and serve the AI Reply control",
	Long: `Connect to Chrome (attaching to --debugger-url, launching the user's
profile with --user-mode, or launching a managed browser), find or open the
webmail tab, and keep the AI Reply control on every compose toolbar until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ws, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd, &cfg); err != nil {
			return err
		}

		logger, closer, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer closer.Close()
		if ws != "" {
			logger.Info("using workspace", "dir", ws)
		}
		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	runCmd.Flags().StringVar(&runDebuggerURL, "debugger-url", "", "Attach to an existing Chrome at this DevTools URL")
	runCmd.Flags().StringVar(&runEndpoint, "endpoint", "", "Reply generation service base URL")
	runCmd.Flags().StringVar(&runMetricsListen, "metrics-listen", "", "Serve /metrics and /healthz on this address")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run a launched Chrome headless")
	runCmd.Flags().BoolVar(&runUserMode, "user-mode", false, "Launch Chrome with the user's own profile")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays explicitly set flags on cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("debugger-url") {
		cfg.Browser.DebuggerURL = runDebuggerURL
	}
	if flags.Changed("endpoint") {
		cfg.Service.Endpoint = runEndpoint
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = runMetricsListen
	}
	if flags.Changed("headless") {
		h := runHeadless
		cfg.Browser.Headless = &h
	}
	if flags.Changed("user-mode") {
		cfg.Browser.UserMode = runUserMode
	}
	return cfg.Validate()
}

// health is the /healthz document.
type health struct {
	agent.Status
	BrowserConnected bool `json:"browser_connected"`
}

func healthFunc(ag *agent.Agent, conn *browser.Connector) func() any {
	return func() any {
		return health{Status: ag.Status(), BrowserConnected: conn.IsConnected()}
	}
}

func run(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m := metrics.New()

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		r, err := recorder.NewRecorder(cfg.Recorder.Dir)
		if err != nil {
			logger.Warn("trace recorder disabled", "dir", cfg.Recorder.Dir, "err", err)
		} else {
			rec = r
			defer rec.Close()
		}
	}

	conn := browser.NewConnector(cfg.Browser, logger)
	if err := conn.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := conn.Shutdown(); err != nil {
			logger.Warn("browser shutdown", "err", err)
		}
	}()

	attachCtx, attachCancel := context.WithTimeout(ctx, cfg.Browser.AttachTimeout())
	page, err := conn.MailPage(attachCtx)
	attachCancel()
	if err != nil {
		return err
	}

	ag, err := agent.New(agent.Options{
		Config: cfg,
		Service: genclient.New(genclient.Options{
			Endpoint: cfg.Service.Endpoint,
			Tone:     cfg.Service.Tone,
			Timeout:  cfg.Service.RequestTimeout(),
		}),
		Clipboard: reply.SystemClipboard{},
		Logger:    logger,
		Metrics:   m,
		Recorder:  rec,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return ag.Serve(gctx, browser.NewTab(page, logger))
	})
	if cfg.Metrics.Listen != "" {
		logger.Info("serving metrics", "addr", cfg.Metrics.Listen)
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.Metrics.Listen, m.Handler(healthFunc(ag, conn))); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	logger.Info("mailreply running", "endpoint", cfg.Service.Endpoint, "page", cfg.Browser.PageURL)
	return g.Wait()
}
