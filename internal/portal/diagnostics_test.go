// internal/portal/diagnostics_test.go
package portal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFileDiagnostics(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "diag")
	d := NewFileDiagnostics(dir, "0123456789abcdef", zap.NewNop())
	p := newFakePage()

	first, err := d.Capture(context.Background(), p, "login failed!")
	require.NoError(t, err)
	second, err := d.Capture(context.Background(), p, "home_page")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "01234567-01-login-failed.png"), first)
	assert.Equal(t, filepath.Join(dir, "01234567-02-home_page.png"), second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data)
}

type brokenScreens struct{ *fakePage }

func (brokenScreens) Screenshot(context.Context) ([]byte, error) { return nil, assert.AnError }

func TestCaptureIsBestEffort(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d := NewFileDiagnostics(t.TempDir(), "run", zap.NewNop())

	path := capture(context.Background(), d, brokenScreens{newFakePage()}, "x", zap.New(core))
	assert.Empty(t, path)
	assert.Equal(t, 1, logs.FilterMessage("Diagnostic snapshot failed.").Len())

	assert.Empty(t, capture(context.Background(), nil, newFakePage(), "x", zap.NewNop()))
	assert.Empty(t, capture(context.Background(), NopDiagnostics{}, newFakePage(), "x", zap.NewNop()))
}
