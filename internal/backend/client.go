// Package backend is the HTTP client for the remote chat service.
package backend

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

	"leetpanel/internal/logging"
	"leetpanel/internal/session"

	"github.com/go-playground/validator/v10"
)

// Auth header names.
const (
	HeaderSessionID = "X-Session-Id"
	HeaderAuthToken = "X-Auth-Token"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to the chat service. The zero value is not usable; use NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

// NewClient creates a client for baseURL (e.g. "http://localhost:8000").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		validate: validator.New(),
	}
}

type createSessionResponse struct {
	SessionID string `json:"session_id" validate:"required"`
	Username  string `json:"username"`
	AuthToken string `json:"auth_token" validate:"required"`
}

// CreateSession starts a new chat session for username.
func (c *Client) CreateSession(ctx context.Context, username string) (*session.Session, error) {
	const op = "create session"
	var out createSessionResponse
	if err := c.do(ctx, op, http.MethodPost, "/create_session/"+url.PathEscape(username), nil, nil, &out); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(out); err != nil {
		return nil, &RejectionError{Op: op, Status: http.StatusOK, Message: "The chat service did not return a usable session."}
	}
	if out.Username == "" {
		out.Username = username
	}
	logging.Backend("Created session %s for %s", out.SessionID, out.Username)
	return &session.Session{SessionID: out.SessionID, Username: out.Username, AuthToken: out.AuthToken}, nil
}

type registerRequest struct {
	QuestionNumber int    `json:"question_number"`
	QuestionTitle  string `json:"question_title"`
}

type successResponse struct {
	Success *bool  `json:"success" validate:"required"`
	Message string `json:"message"`
}

// RegisterQuestion tells the backend which question the session is about.
func (c *Client) RegisterQuestion(ctx context.Context, s *session.Session, number int, title string) error {
	const op = "register question"
	if !s.Valid() {
		return ErrAuthMissing
	}
	var out successResponse
	body := registerRequest{QuestionNumber: number, QuestionTitle: title}
	if err := c.do(ctx, op, http.MethodPost, "/questions", s, body, &out); err != nil {
		return err
	}
	if err := c.validate.Struct(out); err != nil || !*out.Success {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("The chat service refused question %d.", number)
		}
		return &RejectionError{Op: op, Status: http.StatusOK, Message: msg}
	}
	logging.Backend("Registered question %d under session %s", number, s.SessionID)
	return nil
}

// Message is one transcript turn as the backend reports it.
type Message struct {
	Role    string          `json:"role"`
	Content string          `json:"content"`
	TS      json.RawMessage `json:"ts,omitempty"`
}

type whoamiResponse struct {
	Messages []Message `json:"messages"`
}

// Transcript fetches the authoritative transcript for s.
func (c *Client) Transcript(ctx context.Context, s *session.Session) ([]Message, error) {
	if !s.Valid() {
		return nil, ErrAuthMissing
	}
	var out whoamiResponse
	if err := c.do(ctx, "fetch transcript", http.MethodGet, "/whoami", s, nil, &out); err != nil {
		return nil, err
	}
	logging.BackendDebug("Fetched %d messages", len(out.Messages))
	return out.Messages, nil
}

type chatRequest struct {
	Text string `json:"text"`
}

// Chat sends one user turn. The reply is read with Transcript.
func (c *Client) Chat(ctx context.Context, s *session.Session, text string) error {
	if !s.Valid() {
		return ErrAuthMissing
	}
	return c.do(ctx, "send message", http.MethodPost, "/chat", s, chatRequest{Text: text}, nil)
}

// DeleteSession asks the backend to drop s.
func (c *Client) DeleteSession(ctx context.Context, s *session.Session) error {
	if !s.Valid() {
		return ErrAuthMissing
	}
	return c.do(ctx, "delete session", http.MethodPost, "/delete_session", s, nil, nil)
}

// do sends one JSON request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, op, method, path string, s *session.Session, in, out interface{}) error {
	timer := logging.StartTimer(logging.CategoryBackend, op)
	defer timer.StopWithThreshold(5 * time.Second)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		req.Header.Set(HeaderSessionID, s.SessionID)
		req.Header.Set(HeaderAuthToken, s.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.BackendWarn("%s %s failed: %v", method, path, err)
		return &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := rejectionMessage(resp.StatusCode, raw)
		logging.BackendWarn("%s %s returned %d: %s", method, path, resp.StatusCode, msg)
		return &RejectionError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// rejectionMessage pulls the human-readable text out of an error body:
// {"message": ...}, {"detail": ...}, plain text, or the status text.
func rejectionMessage(status int, raw []byte) string {
	var m struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		var detail string
		if json.Unmarshal(m.Detail, &detail) == nil && detail != "" {
			return detail
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
