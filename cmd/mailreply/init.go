package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mailreply/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a .mailreply/ workspace with a template config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return err
		}
		if err := config.InitWorkspace(abs); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), foundStyle.Render("created"), filepath.Join(abs, config.WorkspaceDirName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
