// internal/browser/navigation_test.go
package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseSettle(t *testing.T) {
	for in, want := range map[string]Settle{
		"":            SettleNetworkIdle,
		"networkidle": SettleNetworkIdle,
		"domready":    SettleDOMReady,
	} {
		got, err := ParseSettle(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSettle("load")
	assert.Error(t, err)
}

func TestNavError(t *testing.T) {
	s := &Session{logger: zaptest.NewLogger(t)}

	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-expired.Done()

	err := s.navError(context.Background(), expired, "https://portal.example/", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrNavigationTimeout)
	assert.Contains(t, err.Error(), "https://portal.example/")

	parent, cancelParent := context.WithCancel(context.Background())
	cancelParent()
	assert.ErrorIs(t, s.navError(parent, expired, "", errors.New("boom")), context.Canceled)

	other := errors.New("net::ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, other, s.navError(context.Background(), context.Background(), "", other))
}
