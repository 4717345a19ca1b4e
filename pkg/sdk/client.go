// Package sdk provides the client-side library for the form portal backend.
// It supports both a remote REST backend and the local embedded store.
package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/schema"
	"go.uber.org/zap"
)

// DefaultMessage is used when a failed response carries no message.
const DefaultMessage = "Something went wrong"

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
	defaultTimeout  = 30 * time.Second
)

// ErrBadResponse is returned when a 2xx response does not carry the
// expected payload.
var ErrBadResponse = errors.New("malformed backend response")

// APIError is a non-2xx response other than 401.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// Client is a remote client for the portal backend. It keeps the session
// cookie set by Login and implements Backend.
type Client struct {
	base     *url.URL
	http     *http.Client
	logger   *zap.Logger
	attempts int
	backoff  time.Duration

	mu sync.RWMutex
	me *schema.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Jar is replaced when nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetry sets the attempt count and the base backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// WithInsecureTLS accepts self-signed certificates, as served by the
// export daemon.
func WithInsecureTLS() Option {
	return func(c *Client) {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		c.http.Transport = tr
	}
}

// Connect prepares a client for the backend rooted at baseURL, for example
// "https://portal.example.com/api". No request is made.
func Connect(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		base:     u,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   zap.NewNop(),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

// Login opens a session for role and returns the signed-in user.
func (c *Client) Login(ctx context.Context, role Role, userName, password string) (*schema.Client, error) {
	body := map[string]string{"userName": userName, "password": password}
	raw, err := c.do(ctx, http.MethodPost, "/auth/"+string(role)+"/login", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		User *schema.Client `json:"user"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode login response: %w", err)
		}
	}
	if out.User == nil {
		return nil, errors.New("login failed: no user data received")
	}
	c.mu.Lock()
	c.me = out.User
	c.mu.Unlock()
	return out.User, nil
}

// Logout ends the session. The local session is dropped even when the
// request fails.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.me = nil
	c.mu.Unlock()
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil)
	return err
}

func (c *Client) Me(ctx context.Context) (*schema.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.me == nil {
		return nil, ErrUnauthorized
	}
	me := *c.me
	return &me, nil
}

func (c *Client) Submissions(ctx context.Context, clientID string) ([]schema.Submission, error) {
	endpoint := "/admin/submissions"
	if clientID != "" {
		endpoint = "/admin/submissions/client/" + url.PathEscape(clientID)
	}
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return DecodeSubmissions(raw)
}

func (c *Client) MySubmissions(ctx context.Context) ([]schema.Submission, error) {
	raw, err := c.do(ctx, http.MethodGet, "/forms/my-submissions", nil)
	if err != nil {
		return nil, err
	}
	return DecodeSubmissions(raw)
}

// Clients returns the client list. A response that is not an array yields
// an empty list.
func (c *Client) Clients(ctx context.Context) ([]schema.Client, error) {
	raw, err := c.do(ctx, http.MethodGet, "/admin/clients", nil)
	if err != nil {
		return nil, err
	}
	if firstByte(raw) != '[' {
		return []schema.Client{}, nil
	}
	var out []schema.Client
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode clients: %w", err)
	}
	return out, nil
}

func (c *Client) SubmitForm(ctx context.Context, clientID string, data schema.Payload) (*schema.Submission, error) {
	if data == nil {
		data = schema.Payload{}
	}
	raw, err := c.do(ctx, http.MethodPost, "/forms/submit/"+url.PathEscape(clientID), data)
	if err != nil {
		return nil, err
	}
	subs, err := DecodeSubmissions(raw)
	if err != nil {
		return nil, fmt.Errorf("submit form: %w: %v", ErrBadResponse, err)
	}
	if len(subs) != 1 || subs[0].ID == "" {
		return nil, fmt.Errorf("submit form: %w: no submission returned", ErrBadResponse)
	}
	return &subs[0], nil
}

// Submission returns the submission with id. The portal has no
// single-record route, so the admin listing is searched.
func (c *Client) Submission(ctx context.Context, id string) (*schema.Submission, error) {
	subs, err := c.Submissions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range subs {
		if subs[i].ID == id {
			return &subs[i], nil
		}
	}
	return nil, ErrSubmissionNotFound
}

func (c *Client) DeleteSubmission(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/admin/submissions/"+url.PathEscape(id), nil)
	return err
}

// DecodeSubmissions accepts either an array of submissions or an object
// wrapping a single one under "formSubmission". Anything else is empty.
func DecodeSubmissions(raw []byte) ([]schema.Submission, error) {
	switch firstByte(raw) {
	case '[':
		var out []schema.Submission
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode submissions: %w", err)
		}
		return out, nil
	case '{':
		var wrapped struct {
			FormSubmission *schema.Submission `json:"formSubmission"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode submission: %w", err)
		}
		if wrapped.FormSubmission != nil {
			return []schema.Submission{*wrapped.FormSubmission}, nil
		}
	}
	return []schema.Submission{}, nil
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

// do sends one JSON request. Idempotent methods are retried on transport
// failures and 5xx responses with linear backoff; POST is sent once. It
// returns the body of a JSON 2xx response, or nil when the response is not
// JSON.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	target := c.base.String() + endpoint

	attempts := c.attempts
	if !idempotent(method) {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.backoff):
			}
		}

		raw, retry, err := c.once(ctx, method, target, payload)
		if err == nil {
			return raw, nil
		}
		if !retry || attempts == 1 || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("backend request failed, retrying",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", i+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func (c *Client) once(ctx context.Context, method, target string, payload []byte) (raw []byte, retry bool, err error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, false, ErrUnauthorized
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	isJSON := false
	if mt, _, perr := mime.ParseMediaType(resp.Header.Get("Content-Type")); perr == nil {
		isJSON = mt == "application/json"
	}
	if !isJSON {
		data = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: DefaultMessage}
		var msg struct {
			Message string `json:"message"`
		}
		if data != nil && json.Unmarshal(data, &msg) == nil && msg.Message != "" {
			apiErr.Message = msg.Message
		}
		return nil, resp.StatusCode >= 500, apiErr
	}
	return data, false, nil
}
