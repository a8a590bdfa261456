package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/lifecycle"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

type availabilityResponse struct {
	Date            string           `json:"date"`
	DurationMinutes int              `json:"duration_minutes"`
	VehicleCount    int              `json:"vehicle_count"`
	Slots           []model.TimeSlot `json:"slots"`
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	duration, err := strconv.Atoi(q.Get("duration_minutes"))
	if err != nil {
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}
	vehicles := 1
	if raw := q.Get("vehicle_count"); raw != "" {
		vehicles, err = strconv.Atoi(raw)
		if err != nil || vehicles < 1 {
			http.Error(w, "invalid vehicle_count", http.StatusBadRequest)
			return
		}
	}
	slots, err := h.validator.Availability(r.Context(), date, duration, vehicles)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Date: date, DurationMinutes: duration, VehicleCount: vehicles, Slots: slots})
}

type createAppointmentRequest struct {
	CustomerID      string   `json:"customer_id"`
	VehicleIDs      []string `json:"vehicle_ids"`
	ServiceIDs      []string `json:"service_ids"`
	Date            string   `json:"appointment_date"`
	Time            string   `json:"appointment_time"`
	DurationMinutes int      `json:"duration_minutes"`
	BookingFee      int64    `json:"booking_fee"`
}

type createAppointmentResponse struct {
	Appointments []model.Appointment `json:"appointments"`
	Replayed     bool                `json:"replayed,omitempty"`
}

// Appointments serves GET (list a day) and POST (book).
func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAppointments(w, r)
	case http.MethodPost:
		h.createAppointment(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	p := principal(r)
	customerID := strings.TrimSpace(req.CustomerID)
	// Customers always book for themselves; staff may book on a customer's behalf.
	if !isStaff(p.Role) || customerID == "" {
		customerID = p.UserID
	}

	var res lifecycle.CreateResult
	err := retryOnConflict(func() error {
		var err error
		res, err = h.manager.Create(r.Context(), lifecycle.CreateRequest{
			CustomerID:      customerID,
			VehicleIDs:      req.VehicleIDs,
			ServiceIDs:      req.ServiceIDs,
			Date:            strings.TrimSpace(req.Date),
			Time:            strings.TrimSpace(req.Time),
			DurationMinutes: req.DurationMinutes,
			BookingFee:      req.BookingFee,
			IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
			Actor:           p.UserID,
		})
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, createAppointmentResponse{Appointments: res.Appointments, Replayed: res.Replayed})
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		http.Error(w, "missing date", http.StatusBadRequest)
		return
	}
	list, err := h.manager.List(r.Context(), date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p := principal(r)
	out := make([]model.Appointment, 0, len(list))
	for _, a := range list {
		if canView(p, a.CustomerID) {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	appt, err := h.manager.Get(r.Context(), id)
	if err == nil && !canView(principal(r), appt.CustomerID) {
		err = model.ErrNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type transitionRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.Status == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	p := principal(r)
	to := model.AppointmentStatus(strings.TrimSpace(req.Status))
	if !isStaff(p.Role) {
		// Customers may only cancel their own appointments.
		appt, err := h.manager.Get(r.Context(), req.ID)
		if err == nil && appt.CustomerID != p.UserID {
			err = model.ErrNotFound
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if to != model.StatusCancelled {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var appt model.Appointment
	err := retryOnConflict(func() error {
		var err error
		appt, err = h.manager.Transition(r.Context(), req.ID, to, p.UserID, strings.TrimSpace(req.Note))
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type rescheduleRequest struct {
	ID      string `json:"id"`
	NewDate string `json:"new_date"`
	NewTime string `json:"new_time"`
	Reason  string `json:"reason"`
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || req.NewDate == "" || req.NewTime == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	p := principal(r)
	if !isStaff(p.Role) {
		appt, err := h.manager.Get(r.Context(), req.ID)
		if err == nil && appt.CustomerID != p.UserID {
			err = model.ErrNotFound
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	var appt model.Appointment
	err := retryOnConflict(func() error {
		var err error
		appt, err = h.manager.Reschedule(r.Context(), req.ID, strings.TrimSpace(req.NewDate), strings.TrimSpace(req.NewTime), strings.TrimSpace(req.Reason), p.UserID)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type assignRequest struct {
	ID           string `json:"id"`
	TechnicianID string `json:"technician_id"`
}

type assignResponse struct {
	Assigned    bool              `json:"assigned"`
	Appointment model.Appointment `json:"appointment"`
}

// Assign assigns the given technician, or auto-assigns when none is named.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	actor := principal(r).UserID

	var resp assignResponse
	err := retryOnConflict(func() error {
		if tech := strings.TrimSpace(req.TechnicianID); tech != "" {
			appt, err := h.engine.AssignTo(r.Context(), req.ID, tech, actor)
			resp = assignResponse{Assigned: err == nil, Appointment: appt}
			return err
		}
		out, err := h.engine.Assign(r.Context(), req.ID, actor)
		resp = assignResponse{Assigned: out.Assigned, Appointment: out.Appointment}
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
