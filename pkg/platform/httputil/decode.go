package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "leadgate/pkg/domain-errors"
	"leadgate/pkg/requestcontext"
)

// Validatable is implemented by request bodies with rules beyond struct tags.
type Validatable interface {
	Validate() error
}

// Normalizable bodies trim or canonicalize themselves before validation.
type Normalizable interface {
	Normalize()
}

// DecodeJSON decodes exactly one JSON value from the body into a new T.
// Oversized, empty and trailing-garbage bodies are rejected with a 400.
func DecodeJSON[T any](ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	var req T
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(&req)
	if err == nil && dec.More() {
		err = errTrailingData
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, decodeMessage(err)))
		return nil, false
	}
	return &req, true
}

var errTrailingData = errors.New("unexpected data after JSON body")

func decodeMessage(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return "request body too large"
	case errors.Is(err, io.EOF):
		return "request body is empty"
	case errors.Is(err, errTrailingData):
		return "request body must contain a single JSON object"
	default:
		return "invalid request body"
	}
}

// DecodeAndPrepare decodes the body, then calls Normalize() and Validate()
// when the target type implements them.
func DecodeAndPrepare[T any](ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	req, ok := DecodeJSON[T](ctx, w, r, logger)
	if !ok {
		return nil, false
	}
	if n, ok := any(req).(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := any(req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			logger.WarnContext(ctx, "invalid request",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			var domainErr *dErrors.Error
			if errors.As(err, &domainErr) {
				WriteError(w, err)
			} else {
				WriteError(w, dErrors.New(dErrors.CodeValidation, err.Error()))
			}
			return nil, false
		}
	}
	return req, true
}
