package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycgate/internal/verification/models"
	"kycgate/pkg/platform/httputil"
	"kycgate/pkg/requestcontext"
)

// Service is the verification pipeline as seen by the HTTP layer.
type Service interface {
	Initiate(ctx context.Context) models.Result
	ExchangeCode(ctx context.Context, req models.ExchangeRequest) models.Result
	FetchProfile(ctx context.Context, req models.ProfileRequest) models.Result
	Verify(ctx context.Context, req models.CallbackRequest) models.Result
	TestFlow(ctx context.Context, req models.CallbackRequest) models.Result
}

const (
	msgMethodNotAllowed = "Method not allowed"
	msgInvalidBody      = "Invalid request body"
	msgInvalidSimulate  = "Invalid simulateFailure"
)

// Handler translates HTTP requests into pipeline calls and renders the staged
// result. It holds no business logic.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the verification routes. Every route accepts a single verb;
// anything else gets a stage-tagged 405.
func (h *Handler) Register(r chi.Router) {
	r.HandleFunc("/kyc/initiate", method(http.MethodGet, models.StageToken, h.handleInitiate))
	r.HandleFunc("/kyc/token", method(http.MethodPost, models.StageToken, h.handleExchange))
	r.HandleFunc("/kyc/profile", method(http.MethodPost, models.StageProfile, h.handleProfile))
	r.HandleFunc("/kyc/callback", method(http.MethodPost, models.StageToken, h.handleCallback))
	r.HandleFunc("/kyc/test-flow", method(http.MethodPost, models.StageToken, h.handleTestFlow))
}

func method(verb string, stage models.Stage, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != verb {
			w.Header().Set("Allow", verb)
			render(w, models.Result{
				Stage:   stage,
				Message: msgMethodNotAllowed,
				Data:    map[string]string{"error": "expected " + verb},
				Status:  http.StatusMethodNotAllowed,
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	render(w, h.service.Initiate(r.Context()))
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	var body exchangeBody
	if !h.decode(w, r, &body, models.StageToken) {
		return
	}
	simulate, ok := h.parseSimulate(w, r, body.SimulateFailure, models.StageToken)
	if !ok {
		return
	}
	render(w, h.service.ExchangeCode(r.Context(), models.ExchangeRequest{
		Code:            body.Code,
		SimulateFailure: simulate,
	}))
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	var body profileBody
	if !h.decode(w, r, &body, models.StageProfile) {
		return
	}
	simulate, ok := h.parseSimulate(w, r, body.SimulateFailure, models.StageProfile)
	if !ok {
		return
	}
	render(w, h.service.FetchProfile(r.Context(), models.ProfileRequest{
		AccessToken:     body.AccessToken,
		TenantID:        body.TenantID,
		SimulateFailure: simulate,
	}))
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	req, ok := h.callbackRequest(w, r)
	if !ok {
		return
	}
	render(w, h.service.Verify(r.Context(), req))
}

func (h *Handler) handleTestFlow(w http.ResponseWriter, r *http.Request) {
	req, ok := h.callbackRequest(w, r)
	if !ok {
		return
	}
	render(w, h.service.TestFlow(r.Context(), req))
}

func (h *Handler) callbackRequest(w http.ResponseWriter, r *http.Request) (models.CallbackRequest, bool) {
	var body callbackBody
	if !h.decode(w, r, &body, models.StageToken) {
		return models.CallbackRequest{}, false
	}
	simulate, ok := h.parseSimulate(w, r, body.SimulateFailure, models.StageToken)
	if !ok {
		return models.CallbackRequest{}, false
	}
	return body.toRequest(simulate), true
}

// decode reads a JSON body into dst. An empty body decodes to the zero value
// and the pipeline reports whichever field is missing.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, stage models.Stage) bool {
	err := httputil.DecodeJSON(r, dst)
	if err == nil || errors.Is(err, httputil.ErrEmptyBody) {
		return true
	}
	h.logger.WarnContext(r.Context(), "invalid verification request body",
		"path", r.URL.Path,
		"error", err,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	render(w, models.Failed(models.BadRequest(stage, msgInvalidBody), stage))
	return false
}

func (h *Handler) parseSimulate(w http.ResponseWriter, r *http.Request, raw string, stage models.Stage) (models.SimulatedFailure, bool) {
	simulate, ok := models.ParseSimulatedFailure(raw)
	if ok {
		return simulate, true
	}
	h.logger.WarnContext(r.Context(), "unknown simulateFailure selector",
		"path", r.URL.Path,
		"simulate_failure", raw,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	render(w, models.Failed(models.BadRequest(stage, msgInvalidSimulate+": "+raw), stage))
	return "", false
}

func render(w http.ResponseWriter, res models.Result) {
	status := res.Status
	if status == 0 {
		status = http.StatusInternalServerError
		if res.Success {
			status = http.StatusOK
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, status, res)
}
