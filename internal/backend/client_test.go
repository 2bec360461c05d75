package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"leetpanel/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSession = &session.Session{SessionID: "sid-1", Username: "ada", AuthToken: "tok-1"}

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second)
}

func TestCreateSession(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/create_session/ada lovelace", r.URL.Path)
		assert.Empty(t, r.Header.Get(HeaderAuthToken))
		_, _ = io.WriteString(w, `{"session_id":"s1","username":"ada lovelace","auth_token":"t1"}`)
	})

	s, err := c.CreateSession(context.Background(), "ada lovelace")
	require.NoError(t, err)
	assert.Equal(t, &session.Session{SessionID: "s1", Username: "ada lovelace", AuthToken: "t1"}, s)
}

func TestCreateSession_MissingTokenIsRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"session_id":"s1","username":"ada"}`)
	})

	_, err := c.CreateSession(context.Background(), "ada")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
}

func TestRegisterQuestion(t *testing.T) {
	var got registerRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/questions", r.URL.Path)
		assert.Equal(t, "sid-1", r.Header.Get(HeaderSessionID))
		assert.Equal(t, "tok-1", r.Header.Get(HeaderAuthToken))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	require.NoError(t, c.RegisterQuestion(context.Background(), testSession, 42, "Trapping Rain Water"))
	assert.Equal(t, registerRequest{QuestionNumber: 42, QuestionTitle: "Trapping Rain Water"}, got)
}

func TestRegisterQuestion_NotSuccessCarriesServerMessage(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"message":"Question limit reached for today."}`)
	})

	err := c.RegisterQuestion(context.Background(), testSession, 1, "Two Sum")
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Question limit reached for today.", rej.Message)
	assert.Equal(t, "Question limit reached for today.", UserMessage(err))
}

func TestNon2xxIsRejection(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"session expired"}`, "session expired"},
		{"detail field", `{"detail":"Not authenticated"}`, "Not authenticated"},
		{"plain text", "upstream down\n", "upstream down"},
		{"empty body", "", "401 Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.Transcript(context.Background(), testSession)
			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, http.StatusUnauthorized, rej.Status)
			assert.Equal(t, tt.want, rej.Message)
		})
	}
}

func TestTranscript(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/whoami", r.URL.Path)
		_, _ = io.WriteString(w, `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"**hello**","ts":1700000000}]}`)
	})

	msgs, err := c.Transcript(context.Background(), testSession)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "**hello**", msgs[1].Content)
	assert.JSONEq(t, "1700000000", string(msgs[1].TS))
}

func TestChatAndDelete(t *testing.T) {
	var paths []string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/chat" {
			var body chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "how do I start?", body.Text)
		}
		_, _ = io.WriteString(w, `{"ignored":true}`)
	})

	ctx := context.Background()
	require.NoError(t, c.Chat(ctx, testSession, "how do I start?"))
	require.NoError(t, c.DeleteSession(ctx, testSession))
	assert.Equal(t, []string{"/chat", "/delete_session"}, paths)
}

func TestAuthMissingFailsFast(t *testing.T) {
	var hits int32
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})
	ctx := context.Background()
	noToken := &session.Session{SessionID: "s1", Username: "ada"}

	assert.ErrorIs(t, c.RegisterQuestion(ctx, nil, 1, "x"), ErrAuthMissing)
	assert.ErrorIs(t, c.RegisterQuestion(ctx, noToken, 1, "x"), ErrAuthMissing)
	_, err := c.Transcript(ctx, noToken)
	assert.ErrorIs(t, err, ErrAuthMissing)
	assert.ErrorIs(t, c.Chat(ctx, nil, "hi"), ErrAuthMissing)
	assert.ErrorIs(t, c.DeleteSession(ctx, noToken), ErrAuthMissing)

	assert.Zero(t, atomic.LoadInt32(&hits), "no request may be sent without credentials")
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second)
	err := c.Chat(context.Background(), testSession, "hi")
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "send message", netErr.Op)
	assert.Contains(t, UserMessage(err), "Could not reach")
}

func TestMalformedBodyIsNetworkFailure(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"messages":`)
	})
	_, err := c.Transcript(context.Background(), testSession)
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(ErrAuthMissing), "No valid session")
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
}
