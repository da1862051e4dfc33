// Package identity is the HTTP client for the identity exchange, viewer and user directory endpoints.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/domain"
)

// maxBodySize caps how much of a response body is read. Credentials and user lists are small.
const maxBodySize = 1 << 20

type Client struct {
	baseURL   string
	http      *http.Client
	transport *breakerTransport
}

var (
	_ domain.IdentityExchange = (*Client)(nil)
	_ domain.ViewerService    = (*Client)(nil)
	_ domain.UserDirectory    = (*Client)(nil)
)

// NewClient creates a client for the service rooted at baseURL. m may be nil.
func NewClient(baseURL string, timeout time.Duration, m *metrics.CircuitBreakerMetrics) *Client {
	transport := newBreakerTransport(http.DefaultTransport, m)
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout, Transport: transport},
		transport: transport,
	}
}

func (c *Client) BreakerState() circuitbreaker.State {
	return c.transport.State()
}

func (c *Client) SignIn(ctx context.Context, email, password string) (domain.Credential, error) {
	body := map[string]string{"email": email, "password": password}
	resp, err := c.do(ctx, http.MethodPost, "/session", "", body)
	if err != nil {
		return "", err
	}
	return readCredential(resp)
}

func (c *Client) Impersonate(ctx context.Context, admin domain.Credential, targetUserID string) (domain.Credential, error) {
	body := map[string]string{"userId": targetUserID}
	resp, err := c.do(ctx, http.MethodPost, "/impersonate", admin, body)
	if err != nil {
		return "", err
	}
	return readCredential(resp)
}

func (c *Client) Unimpersonate(ctx context.Context, impersonated domain.Credential) (domain.Credential, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/unimpersonate", impersonated, nil)
	if err != nil {
		return "", err
	}
	return readCredential(resp)
}

func (c *Client) FetchViewer(ctx context.Context, cred domain.Credential) (*domain.Viewer, error) {
	resp, err := c.do(ctx, http.MethodGet, "/viewer", cred, nil)
	if err != nil {
		return nil, err
	}

	var viewer domain.Viewer
	if err := readJSON(resp, &viewer); err != nil {
		return nil, err
	}
	return &viewer, nil
}

func (c *Client) ListUsers(ctx context.Context, cred domain.Credential) ([]domain.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/users", cred, nil)
	if err != nil {
		return nil, err
	}

	var users []domain.User
	if err := readJSON(resp, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) SuspendUser(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error) {
	return c.userAction(ctx, cred, userID, "suspend")
}

func (c *Client) ActivateUser(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error) {
	return c.userAction(ctx, cred, userID, "activate")
}

func (c *Client) userAction(ctx context.Context, cred domain.Credential, userID, action string) (*domain.User, error) {
	path := "/users/" + url.PathEscape(userID) + "/" + action
	resp, err := c.do(ctx, http.MethodPost, path, cred, nil)
	if err != nil {
		return nil, err
	}

	var user domain.User
	if err := readJSON(resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// do sends the request and converts every non-200 answer into a domain error.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, path string, cred domain.Credential, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !cred.IsZero() {
		req.Header.Set("Authorization", "Bearer "+string(cred))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Cause: err}
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &domain.AuthenticationError{Message: strings.TrimSpace(string(raw))}
	case http.StatusBadRequest:
		return validationError(raw)
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrUserNotFound
	default:
		return &domain.TransportError{Status: resp.StatusCode, Cause: errors.New(http.StatusText(resp.StatusCode))}
	}
}

// validationError decodes {"errors":[{"message":...}]}. A body of another shape becomes one failure.
func validationError(raw []byte) error {
	var payload struct {
		Errors []domain.FieldFailure `json:"errors"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Errors) == 0 {
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(http.StatusBadRequest)
		}
		return &domain.ValidationError{Failures: []domain.FieldFailure{{Message: message}}}
	}
	return &domain.ValidationError{Failures: payload.Errors}
}

func readCredential(resp *http.Response) (domain.Credential, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", &domain.TransportError{Status: resp.StatusCode, Cause: err}
	}
	cred := domain.Credential(strings.TrimSpace(string(raw)))
	if cred.IsZero() {
		return "", &domain.TransportError{Status: resp.StatusCode, Cause: errors.New("empty credential")}
	}
	return cred, nil
}

func readJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(v); err != nil {
		return &domain.TransportError{Status: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
