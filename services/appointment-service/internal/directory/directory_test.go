package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/users/u-1":
			_ = json.NewEncoder(w).Encode(model.User{ID: "u-1", Role: "customer", Email: "u1@example.com"})
		case "/users":
			_ = json.NewEncoder(w).Encode([]model.User{{ID: "admin-1", Role: r.URL.Query().Get("role")}})
		case "/technicians":
			_ = json.NewEncoder(w).Encode([]model.Technician{{UserID: "t-1", EmployeeID: "E001", Name: "Ann", Active: true}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "svc-token")
	ctx := context.Background()

	u, err := c.GetUser(ctx, "u-1")
	if err != nil || u.Email != "u1@example.com" {
		t.Fatalf("GetUser: %+v %v", u, err)
	}
	admins, err := c.ListByRole(ctx, "admin")
	if err != nil || len(admins) != 1 || admins[0].Role != "admin" {
		t.Fatalf("ListByRole: %+v %v", admins, err)
	}
	techs, err := c.ListTechnicians(ctx)
	if err != nil || len(techs) != 1 || techs[0].EmployeeID != "E001" {
		t.Fatalf("ListTechnicians: %+v %v", techs, err)
	}
	if _, err := c.GetVehicle(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	raw := `{
		"users": [{"id": "c-1", "role": "customer", "email": "c1@example.com"}],
		"technicians": [{"user_id": "t-2", "employee_id": "E002", "active": true}, {"user_id": "t-1", "employee_id": "E001", "active": true}],
		"vehicles": [{"id": "v-1", "make": "Toyota", "model": "Corolla"}]
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	d, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic: %v", err)
	}
	techs, _ := d.ListTechnicians(context.Background())
	if len(techs) != 2 || techs[0].EmployeeID != "E001" {
		t.Fatalf("technicians must be ordered by employee id: %+v", techs)
	}
	if v, err := d.GetVehicle(context.Background(), "v-1"); err != nil || v.Make != "Toyota" {
		t.Fatalf("GetVehicle: %+v %v", v, err)
	}
}
