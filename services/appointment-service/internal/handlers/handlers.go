// Package handlers is the HTTP API of the appointment service.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Serryudy/EAD-sub001/libs/auth"
	"github.com/Serryudy/EAD-sub001/libs/httpx"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/assignment"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/capacity"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/execution"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/lifecycle"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/push"
)

type Deps struct {
	Manager   *lifecycle.Manager
	Validator *capacity.Validator
	Engine    *assignment.Engine
	Timer     *execution.Timer
	Inbox     *notify.Inbox
	// Live is optional; without it the stream endpoint answers 503.
	Live   push.Subscriber
	Logger *zap.Logger
}

type Options struct {
	// Auth authenticates every /api route.
	Auth httpx.Middleware
	// BookingLimit guards appointment creation, keyed by caller.
	BookingLimit httpx.Middleware
	// RequestTimeout bounds every route except the live stream.
	RequestTimeout time.Duration
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

type Handler struct {
	manager   *lifecycle.Manager
	validator *capacity.Validator
	engine    *assignment.Engine
	timer     *execution.Timer
	inbox     *notify.Inbox
	live      push.Subscriber
	logger    *zap.Logger
	heartbeat time.Duration
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		manager:   d.Manager,
		validator: d.Validator,
		engine:    d.Engine,
		timer:     d.Timer,
		inbox:     d.Inbox,
		live:      d.Live,
		logger:    d.Logger,
		heartbeat: 25 * time.Second,
	}
}

var staffRoles = []string{auth.RoleEmployee, auth.RoleTechnician, auth.RoleAdmin}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux, opts Options) {
	if opts.Heartbeat > 0 {
		h.heartbeat = opts.Heartbeat
	}
	var timeout httpx.Middleware
	if opts.RequestTimeout > 0 {
		timeout = httpx.WithTimeout(opts.RequestTimeout)
	}
	route := func(path string, fn http.HandlerFunc, extra ...httpx.Middleware) {
		m := append([]httpx.Middleware{timeout, opts.Auth}, extra...)
		mux.Handle(path, httpx.Chain(fn, m...))
	}
	staff := httpx.RequireRole(staffRoles...)
	admin := httpx.RequireRole(auth.RoleAdmin)

	route("/api/v1/availability", h.Availability)
	route("/api/v1/appointments", h.Appointments, opts.BookingLimit)
	route("/api/v1/appointments/get", h.GetAppointment)
	route("/api/v1/appointments/transition", h.Transition)
	route("/api/v1/appointments/reschedule", h.Reschedule)
	route("/api/v1/appointments/assign", h.Assign, admin)

	route("/api/v1/service-records/get", h.GetRecord)
	route("/api/v1/service-records/timer/start", h.StartTimer, staff)
	route("/api/v1/service-records/timer/stop", h.StopTimer, staff)
	route("/api/v1/service-records/updates", h.AddLiveUpdate, staff)
	route("/api/v1/service-records/status", h.SetRecordStatus, staff)

	route("/api/v1/notifications", h.ListNotifications)
	route("/api/v1/notifications/read", h.MarkRead)
	// Long-lived; no request timeout.
	mux.Handle("/api/v1/notifications/stream", httpx.Chain(http.HandlerFunc(h.Stream), opts.Auth))
}

type errorResponse struct {
	Error  string             `json:"error"`
	Errors []model.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *model.ValidationError
		inErr *model.InvalidInputError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Errors: verr.Errors})
	case errors.As(err, &inErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: inErr.Error()})
	case errors.Is(err, model.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "the resource was modified concurrently; retry"})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, model.ErrDuplicate):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already exists"})
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", httpx.RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// retryOnConflict runs fn again once if it lost an optimistic race.
func retryOnConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, model.ErrConcurrencyConflict) {
		err = fn()
	}
	return err
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func principal(r *http.Request) httpx.Principal {
	p, _ := httpx.PrincipalFromContext(r.Context())
	return p
}

func isStaff(role string) bool {
	for _, s := range staffRoles {
		if role == s {
			return true
		}
	}
	return false
}

// canView hides other customers' appointments behind a 404.
func canView(p httpx.Principal, customerID string) bool {
	return isStaff(p.Role) || p.UserID == customerID
}
