package opcua

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"

	"github.com/ghalamif/uabridge/internal/ports"
)

func TestClassifySessionError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"access denied", ua.StatusBadUserAccessDenied, true},
		{"wrapped token rejected", fmt.Errorf("activate session: %w", ua.StatusBadIdentityTokenRejected), true},
		{"too many sessions", ua.StatusBadTooManySessions, true},
		{"timeout status", ua.StatusBadTimeout, false},
		{"network timeout", errors.New("opcua: read tcp 10.0.0.5:53530: i/o timeout"), false},
		{"connection reset", errors.New("opcua: connection reset by peer"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifySessionError(tc.err)
			assert.Equal(t, tc.permanent, errors.Is(got, ports.ErrPermanent))
			assert.ErrorIs(t, got, tc.err)
		})
	}
}
