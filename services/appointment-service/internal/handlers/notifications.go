package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

type listNotificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	unreadOnly := q.Get("unread") == "true" || q.Get("unread") == "1"
	limit, _ := strconv.Atoi(q.Get("limit"))
	userID := principal(r).UserID

	list, err := h.inbox.List(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	count, err := h.inbox.UnreadCount(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, listNotificationsResponse{Notifications: list, UnreadCount: count})
}

type markReadRequest struct {
	ID string `json:"id"`
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req markReadRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	n, err := h.inbox.MarkRead(r.Context(), principal(r).UserID, strings.TrimSpace(req.ID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Stream is the caller's live channel as server-sent events. It starts with
// the current unread count, then relays pushes until the client leaves.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.live == nil {
		http.Error(w, "live updates unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	userID := principal(r).UserID

	events, cancel, err := h.live.Subscribe(ctx, userID)
	if err != nil {
		h.logger.Warn("live subscribe failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "live updates unavailable", http.StatusServiceUnavailable)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if count, err := h.inbox.UnreadCount(ctx, userID); err == nil {
		raw, _ := json.Marshal(map[string]int{"count": count})
		writeEvent(w, "unread_count", raw)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, msg.Event, msg.Data)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data []byte) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
