package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrNotConfigured = errors.New("sms gateway url not configured")
	ErrNoPhone       = errors.New("sms recipient has no phone number")
)

// Message is one text bound for a single handset. RecipientID is the
// directory user id and travels to the gateway as a correlation reference.
type Message struct {
	RecipientID string
	To          string
	Body        string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoPhone
	}
	return nil
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	ProviderID() string
}

type gatewayRequest struct {
	To        string `json:"to"`
	Body      string `json:"body"`
	Reference string `json:"reference,omitempty"`
}

// GatewaySender posts each message as JSON to an HTTP SMS gateway.
type GatewaySender struct {
	url    string
	token  string
	client *http.Client
}

func NewGatewaySender(url string, token string) *GatewaySender {
	return &GatewaySender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *GatewaySender) ProviderID() string {
	return "sms-gateway"
}

func (s *GatewaySender) Send(ctx context.Context, msg Message) error {
	if s.url == "" {
		return ErrNotConfigured
	}
	if err := msg.validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(gatewayRequest{To: strings.TrimSpace(msg.To), Body: msg.Body, Reference: msg.RecipientID})
	if err != nil {
		return fmt.Errorf("encode sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned %d for recipient %s", resp.StatusCode, msg.RecipientID)
	}
	return nil
}

// NoopSender drops every message. Used when no gateway is configured.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSender) Send(context.Context, Message) error {
	return nil
}
