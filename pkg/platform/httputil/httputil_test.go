package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "leadgate/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDesc   string
	}{
		{"throttled", dErrors.New(dErrors.CodeThrottled, "try again later"), http.StatusTooManyRequests, "throttled", "try again later"},
		{"token invalid", dErrors.New(dErrors.CodeTokenInvalid, "CSRF validation failed"), http.StatusForbidden, "token_invalid", "CSRF validation failed"},
		{"session expired", dErrors.New(dErrors.CodeSessionExpired, "please log in"), http.StatusUnauthorized, "session_expired", "please log in"},
		{"storage message hidden", dErrors.New(dErrors.CodeStorageUnavailable, "dial tcp 10.0.0.5:5432"), http.StatusServiceUnavailable, "storage_unavailable", ""},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
			assert.Equal(t, tt.wantDesc, body.ErrorDescription)
		})
	}
}

type loginBody struct {
	Subject string `json:"subject"`
}

func (b *loginBody) Normalize() { b.Subject = strings.TrimSpace(b.Subject) }

func (b *loginBody) Validate() error {
	if b.Subject == "" {
		return errors.New("subject is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("normalizes and validates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"subject":"  alice  "}`))
		rec := httptest.NewRecorder()

		body, ok := DecodeAndPrepare[loginBody](req.Context(), rec, req, logger)
		require.True(t, ok)
		assert.Equal(t, "alice", body.Subject)
	})

	t.Run("validation failure writes 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"subject":"   "}`))
		rec := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[loginBody](req.Context(), rec, req, logger)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed JSON writes 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{`))
		rec := httptest.NewRecorder()

		_, ok := DecodeJSON[loginBody](req.Context(), rec, req, logger)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	rejections := []struct {
		name string
		body io.Reader
		want string
	}{
		{"empty body", strings.NewReader(""), "request body is empty"},
		{"trailing data", strings.NewReader(`{"subject":"a"} {"subject":"b"}`), "request body must contain a single JSON object"},
		{"oversized body", nil, "request body too large"},
	}
	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/login", tc.body)
			if tc.body == nil {
				req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"subject":"`+strings.Repeat("a", 64)+`"}`))
				req.Body = http.MaxBytesReader(rec, req.Body, 16)
			}

			_, ok := DecodeJSON[loginBody](req.Context(), rec, req, logger)
			assert.False(t, ok)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}
