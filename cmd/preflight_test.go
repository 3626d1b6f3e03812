// cmd/preflight_test.go
package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreflight(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer blocked.Close()

	t.Run("all reachable", func(t *testing.T) {
		out, err := executeCommand(t, "preflight", "--url", up.URL)
		require.NoError(t, err)
		assert.Contains(t, out, up.URL)
		assert.Contains(t, out, "OK")
		assert.NotContains(t, out, "FAIL")
	})

	t.Run("blocked host", func(t *testing.T) {
		out, err := executeCommand(t, "preflight", "--url", up.URL, "--url", blocked.URL)
		require.ErrorIs(t, err, ErrUnreachable)
		assert.Contains(t, err.Error(), "1 of 2")
		assert.Contains(t, out, blocked.URL)
		assert.Contains(t, out, "FAIL")
		assert.Contains(t, out, "403")
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("LIBRUS_PROBES_REACHABILITY", up.URL)

		out, err := executeCommand(t, "preflight")
		require.NoError(t, err)
		assert.Contains(t, out, up.URL)
	})
}
