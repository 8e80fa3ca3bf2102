package billing

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membergate/internal/types"
)

func TestPreconditionError_AppError(t *testing.T) {
	tests := []struct {
		reason     Reason
		wantCode   types.ErrorCode
		wantStatus int
	}{
		{ReasonSubscriptionRequired, types.ErrCodeSubscriptionRequired, http.StatusPaymentRequired},
		{ReasonKycRequired, types.ErrCodeKycRequired, http.StatusForbidden},
		{ReasonAlreadySubscribed, types.ErrCodeConflictAlreadySubscribed, http.StatusConflict},
		{ReasonAlreadyVerified, types.ErrCodeConflictAlreadyVerified, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			pe := &PreconditionError{Reason: tt.reason}
			appErr := pe.AppError()

			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantStatus, appErr.HTTPStatus())
			assert.Equal(t, string(tt.reason), appErr.Details["reason"])
			assert.True(t, errors.Is(appErr, pe))
			assert.NotEmpty(t, pe.Error())
		})
	}
}

func TestReasonOf(t *testing.T) {
	wrapped := fmt.Errorf("checkout: %w", &PreconditionError{Reason: ReasonKycRequired})

	reason, ok := ReasonOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ReasonKycRequired, reason)

	_, ok = ReasonOf(errors.New("boom"))
	assert.False(t, ok)

	_, ok = ReasonOf(nil)
	assert.False(t, ok)
}
