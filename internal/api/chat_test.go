package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/adagent/internal/chat"
	"github.com/ashureev/adagent/internal/conversation"
	"github.com/ashureev/adagent/internal/identity"
	"github.com/ashureev/adagent/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type echoProcessor struct {
	block chan struct{}
}

func (echoProcessor) InitializeSession(context.Context, string, string) error { return nil }

func (p echoProcessor) SendTurn(_ context.Context, _, _, text string) (string, error) {
	if p.block != nil {
		<-p.block
	}
	return "re: " + text, nil
}

type testEnv struct {
	srv           *httptest.Server
	conversations *conversation.Manager
}

func newTestEnv(t *testing.T, p echoProcessor, limit int, cfg ChatHandlerConfig) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(store.MemoryPath)
	require.NoError(t, err)

	mgr := conversation.NewManager(conversation.Config{
		Processor: p,
		Generator: &identity.Sequence{Prefix: "t"},
		Repo:      repo,
		AppName:   "multi_tool_agent",
	})
	limiter := NewRateLimiter(limit, time.Minute)
	h := NewChatHandler(mgr, limiter, cfg)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		require.NoError(t, mgr.Shutdown(context.Background()))
		srv.Close()
		limiter.Stop()
		_ = repo.Close()
	})
	return &testEnv{srv: srv, conversations: mgr}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) create(t *testing.T) chat.Snapshot {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/chat/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var snap chat.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	return snap
}

func (e *testEnv) get(t *testing.T, id string) chat.Snapshot {
	t.Helper()
	resp, body := e.do(t, http.MethodGet, "/api/chat/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var snap chat.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	return snap
}

func TestCreateAndGet(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{})

	snap := env.create(t)
	assert.Equal(t, "t-u1", snap.UserID)
	assert.Equal(t, "t-s1", snap.SessionID)
	assert.Equal(t, chat.Idle, snap.State)
	assert.Empty(t, snap.Transcript)
	assert.Equal(t, -1, snap.Latest)

	got := env.get(t, "t-s1")
	assert.Equal(t, snap.UserID, got.UserID)
	assert.Equal(t, 1, env.conversations.Len())
}

func TestCreateRateLimited(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 1, ChatHandlerConfig{})

	env.create(t)
	resp, _ := env.do(t, http.MethodPost, "/api/chat/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1, env.conversations.Len())
}

func TestGetUnknownConversation(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{})

	for _, id := range []string{"missing", "bad.id"} {
		resp, _ := env.do(t, http.MethodGet, "/api/chat/sessions/"+id, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, id)
	}
}

func TestSubmitDeliversReply(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{})
	id := env.create(t).SessionID

	resp, body := env.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", `{"text":"Hi"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var sr submitResponse
	require.NoError(t, json.Unmarshal(body, &sr))
	assert.True(t, sr.Accepted)
	assert.Equal(t, chat.Turn{Text: "Hi", Sender: chat.SenderUser}, sr.Snapshot.Transcript[0])

	require.Eventually(t, func() bool {
		return len(env.get(t, id).Transcript) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := env.get(t, id)
	assert.Equal(t, chat.Turn{Text: "re: Hi", Sender: chat.SenderAgent}, snap.Transcript[1])
	assert.Equal(t, 1, snap.Latest)
	assert.False(t, snap.Pending)
}

func TestSubmitRejections(t *testing.T) {
	block := make(chan struct{})
	env := newTestEnv(t, echoProcessor{block: block}, 10, ChatHandlerConfig{})
	t.Cleanup(func() { close(block) })
	id := env.create(t).SessionID
	path := "/api/chat/sessions/" + id + "/messages"

	resp, _ := env.do(t, http.MethodPost, path, `{"text":"   "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, path, `{"text":"first"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, path, `{"text":"second"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var sr submitResponse
	require.NoError(t, json.Unmarshal(body, &sr))
	assert.False(t, sr.Accepted)
	assert.True(t, sr.Snapshot.Pending)
	assert.Len(t, sr.Snapshot.Transcript, 1)

	resp, _ = env.do(t, http.MethodPost, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Input is locked while the first reply is pending.
	resp, body = env.do(t, http.MethodPut, "/api/chat/sessions/"+id+"/input", `{"text":"ahead"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sr))
	assert.Empty(t, sr.Snapshot.Input)
}

func TestSubmitBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{MaxRequestBodySize: 16})
	id := env.create(t).SessionID

	resp, _ := env.do(t, http.MethodPost, "/api/chat/sessions/"+id+"/messages", `{"text":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestSetInput(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{})
	id := env.create(t).SessionID

	resp, body := env.do(t, http.MethodPut, "/api/chat/sessions/"+id+"/input", `{"text":"draft"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap chat.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "draft", snap.Input)
}

func TestDeleteConversation(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{})
	id := env.create(t).SessionID

	resp, _ := env.do(t, http.MethodDelete, "/api/chat/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/chat/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/chat/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func dialChat(t *testing.T, env *testEnv, id string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chat/" + id
	conn, resp, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

// readUntil reads events until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsEvent) bool) wsEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var ev wsEvent
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		if match(ev) {
			return ev
		}
	}
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{})
	id := env.create(t).SessionID

	conn := dialChat(t, env, id)
	defer func() { _ = conn.CloseNow() }()

	first := readUntil(t, conn, func(ev wsEvent) bool { return ev.Type == "snapshot" })
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, id, first.Snapshot.SessionID)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "submit", Text: "Hi"}))

	done := readUntil(t, conn, func(ev wsEvent) bool {
		return ev.Type == "snapshot" && len(ev.Snapshot.Transcript) == 2
	})
	assert.Equal(t, "re: Hi", done.Snapshot.Transcript[1].Text)
	assert.Equal(t, 1, done.Snapshot.Latest)

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "submit", Text: " "}))
	rejected := readUntil(t, conn, func(ev wsEvent) bool { return ev.Type == "rejected" })
	assert.Equal(t, "message is required", rejected.Error)

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "ping"}))
	readUntil(t, conn, func(ev wsEvent) bool { return ev.Type == "pong" })

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "input", Text: "typing"}))
	readUntil(t, conn, func(ev wsEvent) bool {
		return ev.Type == "snapshot" && ev.Snapshot.Input == "typing"
	})

	// Closing the conversation ends the stream.
	resp, _ := env.do(t, http.MethodDelete, "/api/chat/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	readUntil(t, conn, func(ev wsEvent) bool { return ev.Type == "closed" })
}

func TestWebSocketUnknownConversation(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chat/nope"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketOriginCheck(t *testing.T) {
	env := newTestEnv(t, echoProcessor{}, 10, ChatHandlerConfig{AllowedOrigins: []string{"https://ads.example"}})
	id := env.create(t).SessionID

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chat/" + id
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://ads.example"}},
	})
	require.NoError(t, err)
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
