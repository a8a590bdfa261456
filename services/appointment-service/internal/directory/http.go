package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Serryudy/EAD-sub001/libs/httpx"
	"github.com/Serryudy/EAD-sub001/services/appointment-service/internal/model"
)

// HTTPClient reads the directory from the platform's user and vehicle APIs.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(httpx.RequestIDHeader, id)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("directory %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := c.get(ctx, "/users/"+url.PathEscape(id), &u)
	return u, err
}

func (c *HTTPClient) ListByRole(ctx context.Context, role string) ([]model.User, error) {
	var users []model.User
	err := c.get(ctx, "/users?role="+url.QueryEscape(role), &users)
	return users, err
}

func (c *HTTPClient) ListTechnicians(ctx context.Context) ([]model.Technician, error) {
	var techs []model.Technician
	err := c.get(ctx, "/technicians", &techs)
	return techs, err
}

func (c *HTTPClient) GetVehicle(ctx context.Context, id string) (model.VehicleSnapshot, error) {
	var v model.VehicleSnapshot
	err := c.get(ctx, "/vehicles/"+url.PathEscape(id), &v)
	return v, err
}
