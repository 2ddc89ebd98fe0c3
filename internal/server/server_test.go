package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/v0xg/digitwin/internal/ai"
	"github.com/v0xg/digitwin/internal/config"
	"github.com/v0xg/digitwin/internal/executor"
	"github.com/v0xg/digitwin/internal/search"
)

const testSecret = "test-secret"

type staticEmbedder struct {
	vec []float64
	err error
}

func (e staticEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return e.vec, e.err
}

type staticPlanner struct {
	resp *ai.PlanResponse
	err  error
	got  *ai.PlanRequest
}

func (p *staticPlanner) Plan(ctx context.Context, req ai.PlanRequest) (*ai.PlanResponse, error) {
	p.got = &req
	return p.resp, p.err
}

type panickingSearcher struct{}

func (panickingSearcher) Search(ctx context.Context, identity string, req search.Request) (*search.Response, error) {
	panic("boom")
}

type brokenSearcher struct{}

func (brokenSearcher) Search(ctx context.Context, identity string, req search.Request) (*search.Response, error) {
	return nil, errors.New("pq: connection reset at 10.0.0.3")
}

func newTestServer(t *testing.T, searcher Searcher, planner ai.Planner, mutate ...func(*config.ServerConfig)) *Server {
	t.Helper()
	cfg := config.ServerConfig{Addr: ":0", JWTSecret: testSecret}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg, searcher, planner, zap.NewNop())
	require.NoError(t, err)
	return s
}

func defaultSearcher() Searcher {
	store := search.NewMemoryStore(
		search.Chunk{OwnerID: "alice", DocumentID: "d1", DocumentName: "Report", ChunkIndex: 2, Content: "q3 revenue", Embedding: []float64{1, 0}},
		search.Chunk{OwnerID: "alice", DocumentID: "d2", DocumentName: "Notes", ChunkIndex: 0, Content: "lunch", Embedding: []float64{0, 1}},
		search.Chunk{OwnerID: "bob", DocumentID: "d3", DocumentName: "Bob", ChunkIndex: 0, Content: "private", Embedding: []float64{1, 0}},
	)
	return search.NewService(store, staticEmbedder{vec: []float64{1, 0}}, 5, nil)
}

func token(t *testing.T, subject string) string {
	t.Helper()
	a, err := NewAuthenticator(testSecret)
	require.NoError(t, err)
	tok, err := a.Issue(subject, time.Hour)
	require.NoError(t, err)
	return tok
}

func post(s *Server, path string, body []byte, tok string) *ut.ResponseRecorder {
	var headers []ut.Header
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	if tok != "" {
		headers = append(headers, ut.Header{Key: "Authorization", Value: "Bearer " + tok})
	}
	return ut.PerformRequest(s.Hertz().Engine, "POST", path, &ut.Body{Body: bytes.NewReader(body), Len: len(body)}, headers...)
}

func errorBody(t *testing.T, w *ut.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Result().Body(), &out))
	return out["error"]
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t, defaultSearcher(), nil)

	body := []byte(`{"query": "revenue", "top_k": 1}`)
	w := post(s, "/api/search", body, token(t, "alice"))
	require.Equal(t, consts.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	var resp search.Response
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
	assert.Equal(t, "revenue", resp.Query)
	assert.Equal(t, 2, resp.TotalChunksSearched)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "[Report, chunk 3]", resp.Results[0].Citation)
	assert.Equal(t, 1, resp.Results[0].Rank)
}

func TestSearchEndpoint_EmptyCorpus(t *testing.T) {
	s := newTestServer(t, defaultSearcher(), nil)

	w := post(s, "/api/search", []byte(`{"query": "anything"}`), token(t, "carol"))
	require.Equal(t, consts.StatusOK, w.Result().StatusCode())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
	assert.Equal(t, []any{}, resp["results"])
	assert.Equal(t, search.EmptyCorpusMessage, resp["message"])
}

func TestSearchEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
		body     string
		token    string
		want     int
		wantMsg  string
	}{
		{"no token", defaultSearcher(), `{"query":"x"}`, "", consts.StatusUnauthorized, "authentication required"},
		{"bad token", defaultSearcher(), `{"query":"x"}`, "not-a-jwt", consts.StatusUnauthorized, "authentication required"},
		{"missing query", defaultSearcher(), `{}`, "alice", consts.StatusBadRequest, "query is required"},
		{"malformed body", defaultSearcher(), `{"query":`, "alice", consts.StatusBadRequest, "malformed JSON"},
		{"empty body", defaultSearcher(), ``, "alice", consts.StatusBadRequest, "empty body"},
		{"embedding down", search.NewService(search.NewMemoryStore(), staticEmbedder{err: errors.New("503 from 10.0.0.3")}, 5, nil), `{"query":"x"}`, "alice", consts.StatusBadGateway, "upstream service unavailable"},
		{"internal", brokenSearcher{}, `{"query":"x"}`, "alice", consts.StatusInternalServerError, "internal error"},
		{"panic", panickingSearcher{}, `{"query":"x"}`, "alice", consts.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.searcher, nil)
			tok := tt.token
			if tok != "" && tok != "not-a-jwt" {
				tok = token(t, tok)
			}
			w := post(s, "/api/search", []byte(tt.body), tok)
			assert.Equal(t, tt.want, w.Result().StatusCode())
			msg := errorBody(t, w)
			assert.Contains(t, msg, tt.wantMsg)
			assert.NotContains(t, msg, "10.0.0.3", "internal detail must not leak")
			assert.NotContains(t, string(w.Result().Body()), "goroutine")
		})
	}
}

func TestPlanEndpoint(t *testing.T) {
	p := &staticPlanner{resp: &ai.PlanResponse{
		Type:      ai.ResponseActions,
		Reasoning: "open settings",
		Actions:   []executor.Action{{Name: executor.ActionClick, Args: map[string]any{"element_id": "settings"}}},
	}}
	s := newTestServer(t, defaultSearcher(), p)

	body := []byte(`{"goal":"open settings","ui_state":{"screen":"Home","elements":[{"id":"settings","role":"button","text":"Settings","value":"","visible":true,"disabled":false}]},"conversation_history":[]}`)
	w := post(s, "/api/agent/plan", body, token(t, "alice"))
	require.Equal(t, consts.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	var resp ai.PlanResponse
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
	assert.Equal(t, ai.ResponseActions, resp.Type)
	require.Len(t, resp.Actions, 1)

	require.NotNil(t, p.got)
	assert.Equal(t, "open settings", p.got.Goal)
	assert.Equal(t, "Home", p.got.UIState.ScreenName())
	require.Len(t, p.got.UIState.Elements, 1)
}

func TestPlanEndpoint_Errors(t *testing.T) {
	p := &staticPlanner{err: &ai.StatusError{StatusCode: 503, Message: "overloaded"}}
	s := newTestServer(t, defaultSearcher(), p)

	w := post(s, "/api/agent/plan", []byte(`{"goal":"x"}`), token(t, "alice"))
	assert.Equal(t, consts.StatusBadGateway, w.Result().StatusCode())
	assert.Equal(t, "upstream service unavailable", errorBody(t, w))

	w = post(s, "/api/agent/plan", []byte(`{"goal":"  "}`), token(t, "alice"))
	assert.Equal(t, consts.StatusBadRequest, w.Result().StatusCode())

	w = post(s, "/api/agent/plan", []byte(`{"goal":"x"}`), "")
	assert.Equal(t, consts.StatusUnauthorized, w.Result().StatusCode())
}

func TestPlanEndpoint_NotServedWithoutPlanner(t *testing.T) {
	s := newTestServer(t, defaultSearcher(), nil)
	w := post(s, "/api/agent/plan", []byte(`{"goal":"x"}`), token(t, "alice"))
	assert.Equal(t, consts.StatusNotFound, w.Result().StatusCode())
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, defaultSearcher(), nil, func(c *config.ServerConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	alice := token(t, "alice")
	w := post(s, "/api/search", []byte(`{"query":"x"}`), alice)
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())
	w = post(s, "/api/search", []byte(`{"query":"x"}`), alice)
	assert.Equal(t, consts.StatusTooManyRequests, w.Result().StatusCode())

	w = post(s, "/api/search", []byte(`{"query":"x"}`), token(t, "bob"))
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode(), "buckets are per identity")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, defaultSearcher(), nil)
	post(s, "/api/search", []byte(`{"query":"x"}`), token(t, "alice"))

	w := ut.PerformRequest(s.Hertz().Engine, "GET", "/healthz", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())
	assert.JSONEq(t, `{"status":"ok"}`, string(w.Result().Body()))

	w = ut.PerformRequest(s.Hertz().Engine, "GET", "/metrics", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	assert.Equal(t, consts.StatusOK, w.Result().StatusCode())
	assert.Contains(t, string(w.Result().Body()), "digitwin_search_requests_total")
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(config.ServerConfig{Addr: ":0"}, defaultSearcher(), nil, nil)
	assert.Error(t, err)
}

func TestAuthenticator(t *testing.T) {
	a, err := NewAuthenticator(testSecret)
	require.NoError(t, err)

	tok, err := a.Issue("alice", time.Hour)
	require.NoError(t, err)
	id, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	expired, err := a.Issue("alice", -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.Error(t, err)

	other, err := NewAuthenticator("other-secret")
	require.NoError(t, err)
	forged, err := other.Issue("alice", time.Hour)
	require.NoError(t, err)
	_, err = a.Verify(forged)
	assert.Error(t, err)

	_, err = a.Issue("", time.Hour)
	assert.Error(t, err)
}

func TestServe_StopsWhenContextDone(t *testing.T) {
	s := newTestServer(t, defaultSearcher(), nil, func(c *config.ServerConfig) { c.Addr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
