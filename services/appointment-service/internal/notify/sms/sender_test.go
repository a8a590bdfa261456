package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGatewaySender(t *testing.T) {
	var got gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewGatewaySender(srv.URL, "tok")
	msg := Message{RecipientID: "c-1", To: " +15550100 ", Body: "Your car is ready"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := gatewayRequest{To: "+15550100", Body: "Your car is ready", Reference: "c-1"}
	if got != want {
		t.Fatalf("payload = %+v, want %+v", got, want)
	}
}

func TestGatewaySenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cases := []struct {
		name    string
		url     string
		msg     Message
		wantErr error
	}{
		{name: "gateway 502", url: srv.URL, msg: Message{To: "+1", Body: "x"}},
		{name: "no url", url: "", msg: Message{To: "+1", Body: "x"}, wantErr: ErrNotConfigured},
		{name: "blank phone", url: srv.URL, msg: Message{To: " ", Body: "x"}, wantErr: ErrNoPhone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewGatewaySender(tc.url, "").Send(context.Background(), tc.msg)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
