package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailreply/internal/config"
)

var (
	configPath   string
	noWorkspace  bool
	workspaceDir string
	version      = "dev"
	commit       = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mailreply",
	Short: "Add an AI Reply button to webmail compose windows",
	Long: `mailreply attaches to a Chrome tab running webmail and adds an
"AI Reply" control to every compose toolbar. Activating it sends the open
thread to a reply generation service and inserts the answer at the caret.

Configuration is merged from defaults, .mailreply/config.yaml in the
current directory or a parent, and --config.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file applied over the workspace config")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Skip .mailreply/ workspace discovery")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "Use this directory as the workspace root")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func loadConfig() (config.Config, string, error) {
	cfg, ws, err := config.LoadWithWorkspace(configPath, config.WorkspaceOptions{
		Disable:     noWorkspace,
		ExplicitDir: workspaceDir,
	})
	if err != nil {
		return cfg, ws, fmt.Errorf("load config: %w", err)
	}
	return cfg, ws, nil
}
