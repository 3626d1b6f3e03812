// cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/observability"
	"github.com/xkilldash9x/librus-sync/internal/portal"
)

// resetForTest restores package state and silences the global logger.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})

	rootCmd = newRootCmd()

	t.Cleanup(func() {
		cfgFile = ""
		observability.ResetForTest()
	})
}

// executeCommand runs a fresh command tree with args and captures its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetForTest(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// stubBrowser replaces the Chrome opener for the duration of the test.
func stubBrowser(t *testing.T, open func(config.Interface, *zap.Logger) portal.Opener) {
	t.Helper()
	orig := openBrowser
	openBrowser = open
	t.Cleanup(func() { openBrowser = orig })
}

// newTestRoot returns an unattached command whose context carries cfg.
func newTestRoot(cfg *config.Config) *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(context.WithValue(context.Background(), configKey, cfg))
	return c
}
