package hyperliquid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/opensqt/perpcore/pkg/errors"
	"github.com/opensqt/perpcore/internal/core"
)

func TestClassifyClientError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Insufficient margin for order", apperrors.ErrInsufficientFunds},
		{"Order rejected by risk engine", apperrors.ErrOrderRejected},
		{"order not found", apperrors.ErrOrderNotFound},
		{"duplicate client order id", apperrors.ErrDuplicateOrder},
		{"authentication failed", apperrors.ErrAuthenticationFailed},
		{"invalid symbol BTC-PERP", apperrors.ErrInvalidSymbol},
		{"timestamp out of bounds", apperrors.ErrTimestampOutOfBounds},
		{"exchange under maintenance", apperrors.ErrExchangeMaintenance},
		{"some other venue message", apperrors.ErrInvalidOrderParameter},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.ErrorIs(t, classifyClientError(tt.msg), tt.want)
		})
	}
}

func TestIsTransientConnectErr(t *testing.T) {
	assert.True(t, isTransientConnectErr(errors.New("dial tcp: connection refused")))
	assert.True(t, isTransientConnectErr(core.NewKindError(core.KindTransientNetwork, "timeout", nil)))
	assert.True(t, isTransientConnectErr(core.NewKindError(core.KindRateLimited, "too many requests", nil)))
	assert.False(t, isTransientConnectErr(core.NewKindError(core.KindInvalidRequest, "bad payload", nil)))
}
