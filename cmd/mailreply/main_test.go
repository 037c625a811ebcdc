package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/agent"
	"mailreply/internal/browser"
	"mailreply/internal/config"
)

type staticService string

func (s staticService) Generate(context.Context, string) (string, error) { return string(s), nil }

const savedPage = `<html><body>
<div class="h7">Are you free for lunch on Friday?</div>
<div role="dialog">
  <div class="aDh"><div class="send">Send</div></div>
  <div role="textbox" g_editable="true"></div>
</div>
</body></html>`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	t.Cleanup(func() {
		configPath, noWorkspace, workspaceDir = "", false, ""
		_ = rootCmd.Flags().Set("help", "false")
		_ = rootCmd.Flags().Set("version", "false")
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "", "--help")
	require.NoError(t, err)
	for _, name := range []string{"run", "locate", "init"} {
		assert.Contains(t, out, name)
	}
}

func TestLocateReportsMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.html")
	require.NoError(t, os.WriteFile(path, []byte(savedPage), 0644))

	out, err := execute(t, "", "locate", "--no-workspace", path)
	require.NoError(t, err)
	assert.Contains(t, out, ".h7")
	assert.Contains(t, out, ".aDh")
	assert.Contains(t, out, "(candidate 2)")
	assert.Contains(t, out, `[role=textbox][g_editable="true"]`)
	assert.Contains(t, out, "Are you free for lunch on Friday?")
}

func TestLocateFromStdinWithMissingToolbar(t *testing.T) {
	out, err := execute(t, `<html><body><p>nothing here</p></body></html>`, "locate", "--no-workspace", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "no match")
	assert.Contains(t, out, "(empty)")
}

func TestLocateMissingFile(t *testing.T) {
	_, err := execute(t, "", "locate", "--no-workspace", filepath.Join(t.TempDir(), "nope.html"))
	require.Error(t, err)
}

func TestInitCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "", "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, config.WorkspaceDirName)
	assert.FileExists(t, filepath.Join(dir, config.WorkspaceDirName, config.WorkspaceConfigFile))

	_, err = execute(t, "", "init", dir)
	require.Error(t, err)
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, runCmd.Flags().Set("endpoint", "http://127.0.0.1:9000"))
	require.NoError(t, runCmd.Flags().Set("headless", "true"))
	t.Cleanup(func() {
		for _, name := range []string{"endpoint", "headless"} {
			runCmd.Flags().Lookup(name).Changed = false
		}
		runEndpoint, runHeadless = "", false
	})

	require.NoError(t, applyRunFlags(runCmd, &cfg))
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Service.Endpoint)
	assert.True(t, cfg.Browser.IsHeadless())
	assert.Empty(t, cfg.Browser.DebuggerURL)
}

func TestApplyRunFlagsValidates(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, runCmd.Flags().Set("endpoint", "not a url"))
	t.Cleanup(func() {
		runCmd.Flags().Lookup("endpoint").Changed = false
		runEndpoint = ""
	})
	require.Error(t, applyRunFlags(runCmd, &cfg))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "(empty)", preview("  \n "))
	assert.Equal(t, "a b", preview("a\n\n  b"))
	long := strings.Repeat("x", previewLen+10)
	assert.Equal(t, strings.Repeat("x", previewLen)+"...", preview(long))
}

func TestHealthReportsBrowserConnection(t *testing.T) {
	cfg := config.DefaultConfig()
	ag, err := agent.New(agent.Options{Config: cfg, Service: staticService("ok")})
	require.NoError(t, err)
	conn := browser.NewConnector(cfg.Browser, nil)

	raw, err := json.Marshal(healthFunc(ag, conn)())
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, false, got["browser_connected"])
	assert.Equal(t, float64(0), got["sessions"])
	assert.Equal(t, float64(0), got["failed_starts"])
	assert.NotContains(t, got, "current")
}
