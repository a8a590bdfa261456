package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Serryudy/EAD-sub001/libs/auth"
	"github.com/Serryudy/EAD-sub001/libs/httpx"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/assignment"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/availability"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/capacity"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/directory"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/execution"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/lifecycle"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/notify/push"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/storage/memory"
)

var fixedNow = time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

type testAPI struct {
	handler http.Handler
	hub     *push.LocalHub
	store   *memory.Store
}

func newAPI(t *testing.T) *testAPI {
	t.Helper()
	now := func() time.Time { return fixedNow }
	cal, err := availability.New(availability.DefaultConfig())
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	store := memory.New()
	dir := directory.NewStatic()
	dir.PutUser(model.User{ID: "c-1", Role: auth.RoleCustomer, Email: "c1@example.com"})
	dir.PutUser(model.User{ID: "c-2", Role: auth.RoleCustomer})
	dir.PutUser(model.User{ID: "t-1", Role: auth.RoleTechnician})
	dir.PutTechnician(model.Technician{UserID: "t-1", EmployeeID: "E001", Name: "Ann", Active: true})
	hub := push.NewLocalHub()

	disp := notify.NewDispatcher(notify.Deps{Users: dir, Vehicles: dir, Store: store, Pusher: hub, Now: now}, notify.DefaultConfig())
	engine := assignment.NewEngine(store, dir, disp, assignment.DefaultConfig(), nil, now)
	timer := execution.NewTimer(store, store, disp, nil, now)
	mgr := lifecycle.NewManager(lifecycle.Deps{
		Store: store, Calendar: cal, Assigner: engine, Records: timer, Users: dir, Notifier: disp, Now: now,
	}, lifecycle.DefaultConfig())
	timer.SetCompleter(mgr)

	h := New(Deps{
		Manager:   mgr,
		Validator: capacity.NewValidator(cal, store, now),
		Engine:    engine,
		Timer:     timer,
		Inbox:     notify.NewInbox(store, hub, now),
		Live:      hub,
	})
	mux := http.NewServeMux()
	h.Register(mux, Options{Auth: httpx.TrustHeaders(), RequestTimeout: 5 * time.Second, Heartbeat: 50 * time.Millisecond})
	return &testAPI{handler: mux, hub: hub, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, user, role string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(httpx.UserIDHeader, user)
		req.Header.Set(httpx.RoleHeader, role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func booking(at string) map[string]any {
	return map[string]any{
		"vehicle_ids":      []string{"v-1"},
		"appointment_date": "2025-10-22",
		"appointment_time": at,
		"duration_minutes": 60,
		"booking_fee":      5000,
	}
}

func (a *testAPI) create(t *testing.T, customer, at string) model.Appointment {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/appointments", customer, auth.RoleCustomer, booking(at))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var resp createAppointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Appointments[0]
}

func TestRequiresIdentity(t *testing.T) {
	a := newAPI(t)
	if rec := a.do(t, http.MethodGet, "/api/v1/availability?date=2025-10-22&duration_minutes=60", "", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAvailability(t *testing.T) {
	a := newAPI(t)
	a.create(t, "c-1", "10:00")

	rec := a.do(t, http.MethodGet, "/api/v1/availability?date=2025-10-22&duration_minutes=60&vehicle_count=1", "c-1", auth.RoleCustomer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", rec.Code, rec.Body.String())
	}
	var resp availabilityResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Slots) != 10 {
		t.Fatalf("expected 10 hourly slots, got %d", len(resp.Slots))
	}
	for _, s := range resp.Slots {
		if s.StartTime == "10:00" && s.CapacityUsed != 1 {
			t.Fatalf("10:00 slot used = %d", s.CapacityUsed)
		}
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/availability?date=2025-10-22&duration_minutes=x", "c-1", auth.RoleCustomer, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad duration, got %d", rec.Code)
	}
}

func TestCreateCapacityAndIdempotency(t *testing.T) {
	a := newAPI(t)
	first := a.create(t, "c-1", "10:00")
	if first.CustomerID != "c-1" || first.Status != model.StatusConfirmed {
		t.Fatalf("unexpected appointment %+v", first)
	}
	a.create(t, "c-2", "10:00")
	a.create(t, "c-2", "10:00")

	rec := a.do(t, http.MethodPost, "/api/v1/appointments", "c-1", auth.RoleCustomer, booking("10:30"))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", rec.Code, rec.Body.String())
	}
	var body errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Errors) != 1 || body.Errors[0].Code != model.CodeCapacityExceeded {
		t.Fatalf("unexpected error body %+v", body)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/appointments", "c-1", auth.RoleCustomer, booking("14:00"), "Idempotency-Key", "k-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("keyed create: %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/api/v1/appointments", "c-1", auth.RoleCustomer, booking("14:00"), "Idempotency-Key", "k-1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"replayed":true`) {
		t.Fatalf("replay: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCustomerAccessRules(t *testing.T) {
	a := newAPI(t)
	appt := a.create(t, "c-1", "10:00")

	if rec := a.do(t, http.MethodGet, "/api/v1/appointments/get?id="+appt.ID, "c-2", auth.RoleCustomer, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("other customer must not see appointment, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/appointments/get?id="+appt.ID, "t-1", auth.RoleTechnician, nil); rec.Code != http.StatusOK {
		t.Fatalf("staff read: %d", rec.Code)
	}
	rec := a.do(t, http.MethodPost, "/api/v1/appointments/transition", "c-1", auth.RoleCustomer, map[string]string{"id": appt.ID, "status": "in-service"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("customer starting service: %d", rec.Code)
	}
	rec = a.do(t, http.MethodGet, "/api/v1/appointments?date=2025-10-22", "c-2", auth.RoleCustomer, nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("list for other customer: %d %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, http.MethodPost, "/api/v1/appointments/assign", "t-1", auth.RoleTechnician, map[string]string{"id": appt.ID})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("assign by technician: %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/api/v1/appointments/transition", "c-1", auth.RoleCustomer, map[string]string{"id": appt.ID, "status": "cancelled", "note": "sick"})
	if rec.Code != http.StatusOK {
		t.Fatalf("customer cancel: %d %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, http.MethodPost, "/api/v1/appointments/transition", "t-1", auth.RoleTechnician, map[string]string{"id": appt.ID, "status": "confirmed"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("transition out of cancelled: %d", rec.Code)
	}
}

func TestReschedule(t *testing.T) {
	a := newAPI(t)
	appt := a.create(t, "c-1", "09:00")
	rec := a.do(t, http.MethodPost, "/api/v1/appointments/reschedule", "c-1", auth.RoleCustomer, map[string]string{
		"id": appt.ID, "new_date": "2025-10-23", "new_time": "09:00", "reason": "travel",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: %d %s", rec.Code, rec.Body.String())
	}
	var moved model.Appointment
	_ = json.Unmarshal(rec.Body.Bytes(), &moved)
	if moved.ModificationCount != 1 || moved.AppointmentDate != "2025-10-23" {
		t.Fatalf("unexpected appointment %+v", moved)
	}
	rec = a.do(t, http.MethodPost, "/api/v1/appointments/reschedule", "c-1", auth.RoleCustomer, map[string]string{
		"id": appt.ID, "new_date": "2025-10-23", "new_time": "07:00",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("before opening: %d", rec.Code)
	}
}

func TestServiceExecutionFlow(t *testing.T) {
	a := newAPI(t)
	appt := a.create(t, "c-1", "10:00")

	rec := a.do(t, http.MethodPost, "/api/v1/appointments/transition", "t-1", auth.RoleTechnician, map[string]string{"id": appt.ID, "status": "in-service"})
	if rec.Code != http.StatusOK {
		t.Fatalf("in-service: %d %s", rec.Code, rec.Body.String())
	}
	rec = a.do(t, http.MethodGet, "/api/v1/service-records/get?appointment_id="+appt.ID, "c-1", auth.RoleCustomer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get record: %d %s", rec.Code, rec.Body.String())
	}
	var v execution.View
	_ = json.Unmarshal(rec.Body.Bytes(), &v)
	if v.ID == "" || v.Status != model.RecordReceived {
		t.Fatalf("unexpected record %+v", v)
	}

	if rec := a.do(t, http.MethodPost, "/api/v1/service-records/timer/start", "c-1", auth.RoleCustomer, map[string]string{"id": v.ID}); rec.Code != http.StatusForbidden {
		t.Fatalf("customer starting timer: %d", rec.Code)
	}
	steps := []struct {
		path string
		body map[string]string
	}{
		{"/api/v1/service-records/timer/start", map[string]string{"id": v.ID}},
		{"/api/v1/service-records/updates", map[string]string{"id": v.ID, "message": "Oil drained"}},
		{"/api/v1/service-records/status", map[string]string{"id": v.ID, "status": "quality-check"}},
		{"/api/v1/service-records/status", map[string]string{"id": v.ID, "status": "completed"}},
	}
	for _, s := range steps {
		if rec := a.do(t, http.MethodPost, s.path, "t-1", auth.RoleTechnician, s.body); rec.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", s.path, rec.Code, rec.Body.String())
		}
	}
	rec = a.do(t, http.MethodGet, "/api/v1/appointments/get?id="+appt.ID, "c-1", auth.RoleCustomer, nil)
	var done model.Appointment
	_ = json.Unmarshal(rec.Body.Bytes(), &done)
	if done.Status != model.StatusCompleted {
		t.Fatalf("appointment status after record completion = %q", done.Status)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/notifications?unread=true", "c-1", auth.RoleCustomer, nil)
	var inbox listNotificationsResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &inbox)
	types := map[model.NotificationType]bool{}
	for _, n := range inbox.Notifications {
		types[n.Type] = true
	}
	for _, want := range []model.NotificationType{model.NotifyBookingReceived, model.NotifyServiceStarted, model.NotifyServiceUpdate, model.NotifyServiceCompleted} {
		if !types[want] {
			t.Fatalf("missing %s in %v", want, types)
		}
	}
	if inbox.UnreadCount != len(inbox.Notifications) {
		t.Fatalf("unread_count %d != %d", inbox.UnreadCount, len(inbox.Notifications))
	}

	rec = a.do(t, http.MethodPost, "/api/v1/notifications/read", "c-1", auth.RoleCustomer, map[string]string{"id": inbox.Notifications[0].ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: %d", rec.Code)
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/notifications/read", "c-2", auth.RoleCustomer, map[string]string{"id": inbox.Notifications[1].ID}); rec.Code != http.StatusNotFound {
		t.Fatalf("marking someone else's notification: %d", rec.Code)
	}
}

func TestStream(t *testing.T) {
	a := newAPI(t)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/notifications/stream", nil)
	req.Header.Set(httpx.UserIDHeader, "c-1")
	req.Header.Set(httpx.RoleHeader, auth.RoleCustomer)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}
	if got := next("event:"); got != "event: unread_count" {
		t.Fatalf("first event %q", got)
	}
	if err := a.hub.Push(ctx, "c-1", "notification", map[string]string{"title": "hi"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := next("event:"); got != "event: notification" {
		t.Fatalf("second event %q", got)
	}
	if got := next("data:"); !strings.Contains(got, `"title":"hi"`) {
		t.Fatalf("data line %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	a := newAPI(t)
	if rec := a.do(t, http.MethodDelete, "/api/v1/appointments", "c-1", auth.RoleCustomer, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := a.do(t, http.MethodGet, "/api/v1/appointments/transition", "c-1", auth.RoleCustomer, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
