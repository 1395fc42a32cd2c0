package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// maxResponseBodySize caps how much of an agent response is read (4MB).
const maxResponseBodySize = 4 << 20

// RequestIDHeader carries a per-call id to the agent service.
const RequestIDHeader = "X-Request-ID"

// Client talks to the remote agent service over HTTP.
type Client struct {
	baseURL string
	appName string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an agent client. A nil httpClient gets a default client
// with cfg.RequestTimeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse agent base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("agent base url %q: scheme must be http or https", cfg.BaseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		appName: cfg.AppName,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// AppName returns the application identifier sent with every request.
func (c *Client) AppName() string { return c.appName }

// InitializeSession creates the (userID, sessionID) session on the remote
// service. The status code is not inspected and the JSON body is discarded.
func (c *Client) InitializeSession(ctx context.Context, userID, sessionID string) error {
	endpoint := fmt.Sprintf("%s/apps/%s/users/%s/sessions/%s",
		c.baseURL,
		url.PathEscape(c.appName),
		url.PathEscape(userID),
		url.PathEscape(sessionID),
	)

	body, status, err := c.post(ctx, "create session", endpoint, struct{}{})
	if err != nil {
		return err
	}
	if !json.Valid(body) {
		return fmt.Errorf("create session: %w", ErrUndecodable)
	}

	c.logger.Debug("Agent session created",
		"user_id", userID,
		"session_id", sessionID,
		"status", status,
	)
	return nil
}

// SendTurn posts text to /run and returns the first reply text. A reply
// without text is not an error: FallbackReply is returned instead.
func (c *Client) SendTurn(ctx context.Context, userID, sessionID, text string) (string, error) {
	payload := NewRunRequest(c.appName, userID, sessionID, text)

	body, status, err := c.post(ctx, "run", c.baseURL+"/run", payload)
	if err != nil {
		return "", err
	}

	reply, err := ExtractReply(body)
	switch {
	case errors.Is(err, ErrShapeMismatch):
		c.logger.Warn("Agent reply missing text, using fallback",
			"user_id", userID,
			"session_id", sessionID,
			"status", status,
		)
		return FallbackReply, nil
	case err != nil:
		return "", fmt.Errorf("run: %w", err)
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, op, endpoint string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close agent response body", "op", op, "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Op: op, URL: endpoint, Err: err}
	}
	return body, resp.StatusCode, nil
}
