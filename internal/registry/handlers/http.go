// Package handlers exposes the review pipeline over a JSON HTTP API
// and bridges transport concerns (auth, status codes) to the
// controller.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ledgerline/regsync/internal/registry/auth"
	"github.com/ledgerline/regsync/internal/registry/controller"
	e "github.com/ledgerline/regsync/internal/registry/errors"
	"github.com/ledgerline/regsync/internal/registry/extract"
	"github.com/ledgerline/regsync/internal/registry/models"
)

// ReviewController is the business-logic interface the HTTP layer
// invokes.
type ReviewController interface {
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	Preview(ctx context.Context, companyID uuid.UUID, doc extract.Document, actor string) (*controller.PreviewResult, error)
	Apply(ctx context.Context, req *controller.ApplyRequest) (*controller.ApplyResult, error)
}

// ReviewHandler serves the /v1 review API.
type ReviewHandler struct {
	service ReviewController
	logger  *zap.Logger
}

func NewReviewHandler(service ReviewController, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: service,
		logger:  logger.Named("http_handler"),
	}
}

// Router builds the chi router. Preview and apply mutate or stage
// mutations, so they sit behind the JWT middleware.
func (h *ReviewHandler) Router(jwtSecret string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/companies/{id}", func(r chi.Router) {
		r.Get("/", h.getCompany)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(jwtSecret))
			r.Post("/extract/preview", h.preview)
			r.Post("/extract/apply", h.apply)
		})
	})
	return r
}

func (h *ReviewHandler) getCompany(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid company ID", e.ErrInvalidInput))
		return
	}

	company, err := h.service.GetCompany(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, company)
}

func (h *ReviewHandler) preview(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid company ID", e.ErrInvalidInput))
		return
	}

	var doc extract.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed request body", e.ErrInvalidInput))
		return
	}
	if len(doc.Content) == 0 {
		h.writeError(w, fmt.Errorf("%w: document content required", e.ErrInvalidInput))
		return
	}

	result, err := h.service.Preview(r.Context(), id, doc, auth.Subject(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// applyRequest is the wire shape of an apply call.
type applyRequest struct {
	AsOfVersion        int64                                 `json:"as_of_version"`
	ApprovedFields     []string                              `json:"approved_fields,omitempty"`
	OfficerActions     map[uuid.UUID]controller.RosterAction `json:"officer_actions,omitempty"`
	ShareholderActions map[uuid.UUID]controller.RosterAction `json:"shareholder_actions,omitempty"`
	CessationDate      *time.Time                            `json:"cessation_date,omitempty"`
}

func (h *ReviewHandler) apply(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid company ID", e.ErrInvalidInput))
		return
	}

	var body applyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed request body", e.ErrInvalidInput))
		return
	}

	result, err := h.service.Apply(r.Context(), &controller.ApplyRequest{
		CompanyID:          id,
		AsOfVersion:        body.AsOfVersion,
		Actor:              auth.Subject(r.Context()),
		ApprovedFields:     body.ApprovedFields,
		OfficerActions:     body.OfficerActions,
		ShareholderActions: body.ShareholderActions,
		CessationDate:      body.CessationDate,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *ReviewHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps domain errors to HTTP status codes.
func (h *ReviewHandler) writeError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, e.ErrPreviewExpired):
		code = http.StatusGone
	case errors.Is(err, e.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, e.ErrNotFound):
		code = http.StatusNotFound
	default:
		h.logger.Error("Internal server error", zap.Error(err))
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Server wraps the HTTP server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(port int, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
