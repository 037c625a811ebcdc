package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"mailreply/internal/dom/htmldoc"
	"mailreply/internal/locator"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)

	foundStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

const previewLen = 120

var locateCmd = &cobra.Command{
	Use:   "locate <saved-page.html|->",
	Short: "Check which selectors match a saved webmail page",
	Long: `Run the configured selector fallbacks against a saved copy of the
webmail page and report which candidate matched for the thread text, the
compose toolbar and the compose field. Use "-" to read from stdin.

This is the first thing to run when the control stops appearing after a
webmail update.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		raw, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read page: %w", err)
		}

		doc, err := htmldoc.New(string(raw))
		if err != nil {
			return fmt.Errorf("parse page: %w", err)
		}
		loc := locator.New(locator.Selectors{
			BodyText:         cfg.Selectors.BodyText,
			Toolbar:          cfg.Selectors.Toolbar,
			ComposeField:     cfg.Selectors.ComposeField,
			ComposeSignature: cfg.Selectors.ComposeSignature,
		})

		matches, err := loc.Explain(cmd.Context(), doc)
		if err != nil {
			return err
		}
		text, err := loc.Text(cmd.Context(), doc)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Selector report"))
		for _, name := range []string{"body_text", "toolbar", "compose_field"} {
			m := matches[name]
			if m.Index < 0 {
				fmt.Fprintf(out, "  %-14s %s\n", name, missingStyle.Render("no match"))
				continue
			}
			fmt.Fprintf(out, "  %-14s %s %s\n", name, foundStyle.Render(m.Selector), dimStyle.Render(fmt.Sprintf("(candidate %d)", m.Index+1)))
		}
		compose, err := doc.Query(cmd.Context(), loc.ComposeSignature())
		if err != nil {
			return err
		}
		status := missingStyle.Render("no")
		if compose != nil {
			status = foundStyle.Render("yes")
		}
		fmt.Fprintf(out, "  %-14s %s\n", "compose open", status)
		fmt.Fprintln(out)
		fmt.Fprintln(out, headerStyle.Render("Thread text"))
		fmt.Fprintf(out, "  %s\n", dimStyle.Render(preview(text)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locateCmd)
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "(empty)"
	}
	r := []rune(s)
	if len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return s
}
