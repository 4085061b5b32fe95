// ABOUTME: HTTP client for the external conversational agent service
// ABOUTME: Session mirror lifecycle plus synchronous turn execution with a bounded timeout

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
	"time"
)

// Cause classifies agent transport failures. The three values map onto the
// three fabricated error turns the relay emits into a room.
type Cause int

const (
	// CauseRemoteStatus: the service responded with a non-2xx status.
	CauseRemoteStatus Cause = iota
	// CauseNoResponse: the request went out but no response arrived
	// (timeout, dropped connection mid-flight).
	CauseNoResponse
	// CauseConnect: the request could not be sent at all.
	CauseConnect
)

// String returns a short label for the cause.
func (c Cause) String() string {
	switch c {
	case CauseRemoteStatus:
		return "remote_error"
	case CauseNoResponse:
		return "no_response"
	case CauseConnect:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// TransportError is returned for any failed call to the agent service.
type TransportError struct {
	Cause  Cause
	Status int // HTTP status for CauseRemoteStatus, zero otherwise
	Err    error
}

func (e *TransportError) Error() string {
	switch e.Cause {
	case CauseRemoteStatus:
		return fmt.Sprintf("agent responded with status %d", e.Status)
	case CauseNoResponse:
		return fmt.Sprintf("agent did not respond: %v", e.Err)
	default:
		return fmt.Sprintf("sending request to agent: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config holds agent service connection settings.
type Config struct {
	BaseURL   string
	AppName   string        // application identifier sent on every turn
	AgentName string        // author tag expected on reply items
	Timeout   time.Duration // per-call bound; zero means 30s
}

// Gateway is a stateless client for the agent service's REST surface.
type Gateway struct {
	baseURL   string
	appName   string
	agentName string
	client    *http.Client
	logger    *slog.Logger
}

// NewGateway creates an agent gateway. Pass nil logger for default.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		appName:   cfg.AppName,
		agentName: cfg.AgentName,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("component", "agent"),
	}
}

// AgentName returns the author tag expected on reply items.
func (g *Gateway) AgentName() string { return g.agentName }

type sessionState struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name,omitempty"`
}

type createSessionRequest struct {
	State sessionState `json:"state"`
}

// CreateSession initializes the agent-side mirror for a session, keyed by
// (identity id, session id). The display name seeds the agent's state.
func (g *Gateway) CreateSession(ctx context.Context, userID, sessionID, displayName string) error {
	body := createSessionRequest{
		State: sessionState{
			UserID:    userID,
			SessionID: sessionID,
			UserName:  displayName,
		},
	}

	resp, err := g.do(ctx, http.MethodPost, g.sessionURL(userID, sessionID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Cause: CauseRemoteStatus, Status: resp.StatusCode}
	}

	g.logger.Debug("agent session created", "user_id", userID, "session_id", sessionID)
	return nil
}

// DeleteSession removes the agent-side mirror for a session. A 404 from the
// service counts as success: the mirror is gone either way.
func (g *Gateway) DeleteSession(ctx context.Context, userID, sessionID string) error {
	resp, err := g.do(ctx, http.MethodDelete, g.sessionURL(userID, sessionID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		g.logger.Debug("agent session already absent", "user_id", userID, "session_id", sessionID)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Cause: CauseRemoteStatus, Status: resp.StatusCode}
	}

	g.logger.Debug("agent session deleted", "user_id", userID, "session_id", sessionID)
	return nil
}

type runRequest struct {
	AppName    string  `json:"app_name"`
	UserID     string  `json:"user_id"`
	SessionID  string  `json:"session_id"`
	NewMessage Content `json:"new_message"`
}

// Run executes one user turn against the agent service and returns the raw
// ordered response items. Reply extraction is the caller's concern (see
// ExtractReply).
func (g *Gateway) Run(ctx context.Context, userID, sessionID, text string) ([]ResponseItem, error) {
	body := runRequest{
		AppName:   g.appName,
		UserID:    userID,
		SessionID: sessionID,
		NewMessage: Content{
			Role:  RoleUser,
			Parts: []Part{{Text: text}},
		},
	}

	resp, err := g.do(ctx, http.MethodPost, g.baseURL+"/run", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{Cause: CauseRemoteStatus, Status: resp.StatusCode}
	}

	var items []ResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, &TransportError{Cause: CauseNoResponse, Err: fmt.Errorf("decoding response: %w", err)}
	}

	g.logger.Debug("agent turn completed",
		"user_id", userID,
		"session_id", sessionID,
		"items", len(items))
	return items, nil
}

func (g *Gateway) sessionURL(userID, sessionID string) string {
	return fmt.Sprintf("%s/apps/%s/users/%s/sessions/%s",
		g.baseURL, url.PathEscape(g.appName), url.PathEscape(userID), url.PathEscape(sessionID))
}

// do builds and executes a request, classifying failures into the transport
// taxonomy. Marshal and request-construction errors are CauseConnect: the
// request never left the process.
func (g *Gateway) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Cause: CauseConnect, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &TransportError{Cause: CauseConnect, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyDoError(err)
	}
	return resp, nil
}

func classifyDoError(err error) *TransportError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Cause: CauseNoResponse, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &TransportError{Cause: CauseNoResponse, Err: err}
	}
	return &TransportError{Cause: CauseConnect, Err: err}
}
