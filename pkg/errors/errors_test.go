package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "validation with message",
			err:        ErrValidation.WithMessage("Missing required fields: sessionId"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
			wantMsg:    "Missing required fields: sessionId",
		},
		{
			name:       "upstream with vendor status",
			err:        ErrUpstream.WithStatus(http.StatusUnauthorized).WithCause(stderrors.New("401")),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UPSTREAM_ERROR",
			wantMsg:    "vendor API request failed",
		},
		{
			name:       "plain error",
			err:        stderrors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
			wantMsg:    "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, ToHTTPStatus(tt.err))
			resp := ToErrorResponse(tt.err)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, tt.wantCode, resp["error_code"])
			assert.Equal(t, tt.wantMsg, resp["error"])
		})
	}
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrValidation.WithMessage("changed")
	assert.Empty(t, ErrValidation.Details)
}

func TestIsMatchesDerivedErrors(t *testing.T) {
	err := ErrValidation.WithMessage("bad input")
	assert.True(t, IsValidation(err))
	assert.False(t, stderrors.Is(err, ErrNotFound))
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	err := RecoverPanic("kaboom")
	require.Error(t, err)

	var appErr *Error
	require.True(t, stderrors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, true, appErr.Details["panic"])
	assert.Contains(t, err.Error(), "kaboom")
}
