package management

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/prunepilot/internal/engine"
	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	"github.com/router-for-me/prunepilot/internal/janitor"
	"github.com/router-for-me/prunepilot/internal/logging"
	"github.com/router-for-me/prunepilot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	pruned   []int
	reason   string
	hidden   []string
	resets   []string
	idle     *janitor.PruningResult
	pruneErr error
}

func (f *fakeEngine) SessionIDs() []string { return []string{"ses_a", "ses_b"} }

func (f *fakeEngine) Status(_ context.Context, id string) (*engine.Status, error) {
	if id == "missing" {
		return nil, apperrors.New(http.StatusNotFound, apperrors.CodeSessionNotFound, "session missing not found", nil)
	}
	return &engine.Status{SessionID: id, Phase: "ACTIVE", Prunable: []engine.PrunableCall{{Number: 1, ID: "c1", Tool: "read"}}}, nil
}

func (f *fakeEngine) PruneByNumericIDs(_ context.Context, id string, ids []int, reason string) (*janitor.PruningResult, error) {
	if f.pruneErr != nil {
		return nil, f.pruneErr
	}
	f.pruned, f.reason = ids, reason
	return &janitor.PruningResult{SessionID: id, Trigger: janitor.TriggerManual, PrunedIDs: []string{"c1"}, Tokens: 10}, nil
}

func (f *fakeEngine) OnIdle(context.Context, string) (*janitor.PruningResult, error) {
	return f.idle, nil
}

func (f *fakeEngine) Analyze(context.Context, string) (*janitor.PruningResult, error) {
	return nil, apperrors.SelectionExhausted(nil)
}

func (f *fakeEngine) TransformTranscript(_ context.Context, _ string, msgs []session.Message) []session.Message {
	if len(msgs) > 0 {
		return msgs[:1]
	}
	return nil
}

func (f *fakeEngine) HideMessages(_ context.Context, _ string, ids []string) int {
	f.hidden = ids
	return len(ids)
}

func (f *fakeEngine) Reset(_ context.Context, id string) { f.resets = append(f.resets, id) }

func newRouter(t *testing.T, eng Engine, logs *logging.RingBuffer, key string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(eng, logs, key).Register(r.Group("/v0/prune"))
	return r
}

func do(r http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderManagementKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_Auth(t *testing.T) {
	r := newRouter(t, &fakeEngine{}, nil, "secret")

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"missing key", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong key", func(r *http.Request) { r.Header.Set(HeaderManagementKey, "nope") }, http.StatusUnauthorized},
		{"header key", func(r *http.Request) { r.Header.Set(HeaderManagementKey, "secret") }, http.StatusOK},
		{"bearer key", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v0/prune/sessions", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestMiddleware_NoKeyLoopbackOnly(t *testing.T) {
	r := newRouter(t, &fakeEngine{}, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/v0/prune/sessions", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v0/prune/sessions", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSessionRoutes(t *testing.T) {
	eng := &fakeEngine{}
	r := newRouter(t, eng, nil, "k")

	w := do(r, http.MethodGet, "/v0/prune/sessions", "k", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":["ses_a","ses_b"]}`, w.Body.String())

	w = do(r, http.MethodGet, "/v0/prune/sessions/ses_a", "k", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st engine.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "ses_a", st.SessionID)
	require.Len(t, st.Prunable, 1)

	w = do(r, http.MethodGet, "/v0/prune/sessions/missing", "k", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeSessionNotFound)

	w = do(r, http.MethodPost, "/v0/prune/sessions/ses_a/prune", "k", pruneRequest{IDs: []int{1, 3}, Reason: "stale"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{1, 3}, eng.pruned)
	assert.Equal(t, "stale", eng.reason)
	assert.Contains(t, w.Body.String(), `"changed":true`)

	w = do(r, http.MethodPost, "/v0/prune/sessions/ses_a/idle", "k", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"changed":false,"result":null}`, w.Body.String())

	w = do(r, http.MethodPost, "/v0/prune/sessions/ses_a/analyze", "k", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeModelSelectionExhausted)

	msgs := []session.Message{{Info: session.MessageInfo{ID: "m1", Role: "user"}}, {Info: session.MessageInfo{ID: "m2", Role: "assistant"}}}
	w = do(r, http.MethodPost, "/v0/prune/sessions/ses_a/transform", "k", transformRequest{Messages: msgs})
	require.Equal(t, http.StatusOK, w.Code)
	var tr transformRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "m1", tr.Messages[0].Info.ID)

	w = do(r, http.MethodPost, "/v0/prune/sessions/ses_a/hide", "k", hideRequest{MessageIDs: []string{"m1"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"m1"}, eng.hidden)

	w = do(r, http.MethodPost, "/v0/prune/sessions/ses_a/hide", "k", hideRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/v0/prune/sessions/ses_a", "k", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ses_a"}, eng.resets)
}

func TestPrune_Errors(t *testing.T) {
	eng := &fakeEngine{pruneErr: apperrors.InvalidPruneID([]int{9})}
	r := newRouter(t, eng, nil, "k")

	w := do(r, http.MethodPost, "/v0/prune/sessions/ses_a/prune", "k", pruneRequest{IDs: []int{9}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeInvalidPruneID)

	req := httptest.NewRequest(http.MethodPost, "/v0/prune/sessions/ses_a/prune", bytes.NewBufferString("{not json"))
	req.Header.Set(HeaderManagementKey, "k")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), apperrors.CodeInvalidRequest)
}

func TestGetLogs(t *testing.T) {
	logs := logging.NewRingBuffer(10)
	now := time.Now()
	logs.Write(logging.LogEntry{Timestamp: now, Level: "info", Message: "one", Fields: map[string]interface{}{"session": "ses_a"}})
	logs.Write(logging.LogEntry{Timestamp: now.Add(time.Second), Level: "warn", Message: "two"})
	r := newRouter(t, &fakeEngine{}, logs, "k")

	var resp struct {
		Logs []logging.LogEntry `json:"logs"`
	}
	w := do(r, http.MethodGet, "/v0/prune/logs?level=warn", "k", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "two", resp.Logs[0].Message)

	w = do(r, http.MethodGet, "/v0/prune/logs?session=ses_a", "k", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 1)
	assert.Equal(t, "one", resp.Logs[0].Message)

	w = do(r, http.MethodGet, "/v0/prune/logs?limit=abc", "k", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodGet, "/v0/prune/logs?since=yesterday", "k", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
