package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{pgx.ErrNoRows, model.ErrNotFound},
		{fmt.Errorf("wrapped: %w", pgx.ErrNoRows), model.ErrNotFound},
		{&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}, model.ErrConcurrencyConflict},
		{&pgconn.PgError{Code: "40001"}, model.ErrConcurrencyConflict},
		{&pgconn.PgError{Code: "23505", ConstraintName: "service_records_appointment_id_key"}, model.ErrDuplicate},
	}
	for _, tc := range cases {
		if got := translate(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("translate(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	other := errors.New("boom")
	if translate(other) != other {
		t.Fatal("unknown errors must pass through")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 migrations, got %v", files)
	}
	for _, f := range files {
		raw, _ := fs.ReadFile(migrationsFS, f)
		if !strings.Contains(string(raw), "-- +goose Up") || !strings.Contains(string(raw), "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", f)
		}
	}
}

func TestValidID(t *testing.T) {
	if validID("not-a-uuid") || !validID("3f1c1d4e-8a4b-4a55-9a3e-2b7d7b1c9f10") {
		t.Fatal("validID misclassified input")
	}
}
