package handlers

import (
	"net/http"
	"strings"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/execution"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

type recordRequest struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

// GetRecord looks a record up by id or by appointment_id.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	var (
		v   execution.View
		err error
	)
	switch {
	case q.Get("id") != "":
		v, err = h.timer.Get(r.Context(), q.Get("id"))
	case q.Get("appointment_id") != "":
		v, err = h.timer.GetByAppointment(r.Context(), q.Get("appointment_id"))
	default:
		http.Error(w, "missing id or appointment_id", http.StatusBadRequest)
		return
	}
	if err == nil && !canView(principal(r), v.CustomerID) {
		err = model.ErrNotFound
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) recordAction(w http.ResponseWriter, r *http.Request, act func(req recordRequest, actor string) (execution.View, error)) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req recordRequest
	if !decode(w, r, &req) {
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	actor := principal(r).UserID
	var v execution.View
	err := retryOnConflict(func() error {
		var err error
		v, err = act(req, actor)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) StartTimer(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, func(req recordRequest, _ string) (execution.View, error) {
		return h.timer.Start(r.Context(), req.ID)
	})
}

func (h *Handler) StopTimer(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, func(req recordRequest, _ string) (execution.View, error) {
		return h.timer.Stop(r.Context(), req.ID)
	})
}

func (h *Handler) AddLiveUpdate(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, func(req recordRequest, actor string) (execution.View, error) {
		return h.timer.AddLiveUpdate(r.Context(), req.ID, req.Message, actor)
	})
}

func (h *Handler) SetRecordStatus(w http.ResponseWriter, r *http.Request) {
	h.recordAction(w, r, func(req recordRequest, actor string) (execution.View, error) {
		return h.timer.SetStatus(r.Context(), req.ID, model.RecordStatus(strings.TrimSpace(req.Status)), actor)
	})
}
