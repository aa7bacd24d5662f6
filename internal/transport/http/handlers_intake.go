package httptransport

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"leadgate/internal/csrf"
	"leadgate/internal/guard"
	"leadgate/internal/identity"
	rlmiddleware "leadgate/internal/ratelimit/middleware"
	rlmodels "leadgate/internal/ratelimit/models"
	dErrors "leadgate/pkg/domain-errors"
	"leadgate/pkg/platform/httputil"
	"leadgate/pkg/platform/validation"
	"leadgate/pkg/requestcontext"
	s "leadgate/pkg/string"
	v "leadgate/pkg/validation"
)

type submissionRequest struct {
	Fields map[string]string `json:"fields" validate:"required,min=1,dive,keys,fieldname,endkeys,max=4096"`
}

func (r *submissionRequest) Normalize() {
	r.Fields = s.TrimMap(r.Fields)
}

func (r *submissionRequest) Validate() error {
	if err := v.Validate(r); err != nil {
		return err
	}
	return validation.CheckMapCount("fields", len(r.Fields), validation.MaxFormFields)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=new contacted qualified won lost"`
}

func (r *statusRequest) Normalize() {
	s.TrimStrings(&r.Status)
}

func (r *statusRequest) Validate() error {
	return v.Validate(r)
}

type acceptedResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
}

// HandleSubmitForm implements POST /forms/{form}/submissions. Anonymous
// sessions may submit; limits apply per client address and form.
func (h *Handler) HandleSubmitForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	form := chi.URLParam(r, "form")
	action, ok := h.forms[form]
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown form"))
		return
	}

	state, _ := sessionFrom(r)
	if !h.admit(w, r, guard.Request{
		State:      state,
		Identifier: identity.ForIP(requestcontext.ClientIP(ctx)),
		Action:     action,
		CSRFToken:  r.Header.Get(csrf.HeaderName),
	}) {
		return
	}

	req, ok := httputil.DecodeAndPrepare[submissionRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}
	reference, err := h.intake.SubmitForm(ctx, form, req.Fields)
	if err != nil {
		h.logger.ErrorContext(ctx, "form submission failed",
			"form", form,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Reference: reference})
}

// HandleLeadStatus implements POST /admin/leads/{leadID}/status. It needs an
// authenticated session that has not idled out.
func (h *Handler) HandleLeadStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := chi.URLParam(r, "leadID")
	if err := validation.CheckStringLength("lead_id", leadID, validation.MaxLeadIDLength); err != nil {
		httputil.WriteError(w, err)
		return
	}

	state, _ := sessionFrom(r)
	if !h.admit(w, r, guard.Request{
		State:       state,
		Identifier:  identity.Derive(requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx)),
		Action:      rlmodels.ActionAdminWrite,
		CSRFToken:   r.Header.Get(csrf.HeaderName),
		RequireAuth: true,
	}) {
		return
	}

	req, ok := httputil.DecodeAndPrepare[statusRequest](ctx, w, r, h.logger)
	if !ok {
		return
	}
	if err := h.intake.UpdateLeadStatus(ctx, leadID, req.Status, state.SubjectID); err != nil {
		h.logger.ErrorContext(ctx, "lead status update failed",
			"lead_id", leadID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// HandleWebhook implements POST /webhooks/{source}. Rate limiting happens in
// the route middleware.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := chi.URLParam(r, "source")
	if err := validation.CheckStringLength("source", source, validation.MaxSourceLength); err != nil {
		httputil.WriteError(w, err)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "payload too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable payload"))
		return
	}
	if err := h.intake.ReceiveWebhook(ctx, source, payload); err != nil {
		h.logger.ErrorContext(ctx, "webhook intake failed",
			"source", source,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// admit runs the guard and writes the rejection when it denies. Rejections
// carry Retry-After when the limiter denied.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, req guard.Request) bool {
	out := h.guard.Protect(r.Context(), req)
	rlmiddleware.WriteHeaders(w, out.Decision)
	if out.Allowed() {
		return true
	}
	if out.Decision != nil && !out.Decision.Allowed {
		rlmiddleware.WriteExceeded(w, out.Decision)
		return false
	}
	httputil.WriteError(w, out.Err)
	return false
}
