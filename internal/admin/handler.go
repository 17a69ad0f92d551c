// Package admin exposes the operator HTTP surface: health, metrics and
// JWT-protected participant operations.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"zodiac/internal/audit"
	profile "zodiac/internal/profile/models"
	id "zodiac/pkg/domain"
	dErrors "zodiac/pkg/domain-errors"
	"zodiac/pkg/platform/httputil"
	adminmw "zodiac/pkg/platform/middleware/admin"
	"zodiac/pkg/platform/middleware/request"
	"zodiac/pkg/platform/middleware/requesttime"
	"zodiac/pkg/platform/sentinel"
	"zodiac/pkg/requestcontext"
)

type ProfileReader interface {
	FindByID(ctx context.Context, pid id.ParticipantID) (profile.Profile, error)
}

type AuditLog interface {
	ListByParticipant(ctx context.Context, pid id.ParticipantID) ([]audit.Event, error)
}

type Deliverer interface {
	DeliverToday(ctx context.Context, pid id.ParticipantID) error
}

type Watchers interface {
	Start(ctx context.Context, pid id.ParticipantID) error
	Active() []id.ParticipantID
}

type AuditPublisher interface {
	Emit(ctx context.Context, e audit.Event)
}

// HealthCheck reports a backend's health; nil means healthy.
type HealthCheck func(ctx context.Context) error

// Handler serves the admin API.
type Handler struct {
	logger    *slog.Logger
	profiles  ProfileReader
	auditLog  AuditLog
	audit     AuditPublisher
	deliverer Deliverer
	watchers  Watchers
	validator adminmw.TokenValidator
	metrics   http.Handler
	checks    map[string]HealthCheck
}

type Deps struct {
	Profiles  ProfileReader
	AuditLog  AuditLog
	Audit     AuditPublisher
	Deliverer Deliverer
	Watchers  Watchers
	Validator adminmw.TokenValidator
	Metrics   http.Handler
	Checks    map[string]HealthCheck
}

func New(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		profiles:  deps.Profiles,
		auditLog:  deps.AuditLog,
		audit:     deps.Audit,
		deliverer: deps.Deliverer,
		watchers:  deps.Watchers,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		checks:    deps.Checks,
	}
}

// Router builds the chi router for the admin server.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(h.logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(h.logger))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminmw.RequireAdmin(h.validator, h.logger))
		r.Get("/watchers", h.handleListWatchers)
		r.Get("/participants/{id}", h.handleGetParticipant)
		r.Get("/participants/{id}/audit", h.handleListAudit)
		r.Post("/participants/{id}/deliveries", h.handleDeliverNow)
		r.Post("/participants/{id}/watcher", h.handleRestartWatcher)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	result := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			result[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": result})
}

func (h *Handler) handleListWatchers(w http.ResponseWriter, _ *http.Request) {
	ids := h.watchers.Active()
	httputil.WriteJSON(w, http.StatusOK, WatchersResponse{ParticipantIDs: ids, Total: len(ids)})
}

func (h *Handler) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, ok := h.participantID(w, r)
	if !ok {
		return
	}
	p, err := h.profiles.FindByID(ctx, pid)
	if err != nil {
		h.writeLookupError(ctx, w, pid, err)
		return
	}
	active := slices.Contains(h.watchers.Active(), pid)
	httputil.WriteJSON(w, http.StatusOK, toParticipantResponse(p, active))
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, ok := h.participantID(w, r)
	if !ok {
		return
	}
	events, err := h.auditLog.ListByParticipant(ctx, pid)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"participant_id", pid,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, AuditListResponse{Events: events, Total: len(events)})
}

// handleDeliverNow triggers today's delivery outside the schedule.
func (h *Handler) handleDeliverNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, ok := h.participantID(w, r)
	if !ok {
		return
	}
	if _, err := h.profiles.FindByID(ctx, pid); err != nil {
		h.writeLookupError(ctx, w, pid, err)
		return
	}

	ctx = requestcontext.WithParticipantID(ctx, pid)
	ctx = requestcontext.WithRequestID(ctx, request.GetRequestID(ctx))
	if err := h.deliverer.DeliverToday(ctx, pid); err != nil {
		h.logger.ErrorContext(ctx, "admin delivery failed",
			"participant_id", pid,
			"operator", adminmw.GetOperator(ctx),
			"error", err,
		)
		h.emit(ctx, audit.Event{Type: audit.EventDeliveryFailed, ParticipantID: pid, Detail: "admin"})
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "delivery failed"))
		return
	}
	h.logger.InfoContext(ctx, "admin delivery triggered",
		"participant_id", pid,
		"operator", adminmw.GetOperator(ctx),
	)
	h.emit(ctx, audit.Event{Type: audit.EventDeliveryTriggered, ParticipantID: pid, Detail: "admin"})
	httputil.WriteJSON(w, http.StatusAccepted, ActionResponse{ParticipantID: pid, Status: "delivered"})
}

func (h *Handler) handleRestartWatcher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, ok := h.participantID(w, r)
	if !ok {
		return
	}
	if err := h.watchers.Start(ctx, pid); err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to restart watcher",
				"participant_id", pid,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "watcher restarted by operator",
		"participant_id", pid,
		"operator", adminmw.GetOperator(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, ActionResponse{ParticipantID: pid, Status: "watching"})
}

func (h *Handler) participantID(w http.ResponseWriter, r *http.Request) (id.ParticipantID, bool) {
	pid, err := id.ParseParticipantID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid participant id"))
		return 0, false
	}
	return pid, true
}

func (h *Handler) writeLookupError(ctx context.Context, w http.ResponseWriter, pid id.ParticipantID, err error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "participant not found"))
		return
	}
	h.logger.ErrorContext(ctx, "failed to load participant",
		"participant_id", pid,
		"error", err,
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to load participant"))
}

func (h *Handler) emit(ctx context.Context, e audit.Event) {
	if h.audit != nil {
		h.audit.Emit(ctx, e)
	}
}
