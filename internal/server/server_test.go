package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/config"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/controller"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/storage"
)

func newTestServer(t *testing.T, tokens *controller.Store) (*httptest.Server, *engine.Engine) {
	t.Helper()

	reader, err := storage.NewColumnReader()
	require.NoError(t, err)
	writer, err := storage.NewColumnWriter()
	require.NoError(t, err)

	e, err := engine.New(engine.Options{DataDir: t.TempDir(), MaxQueryLen: 64}, reader.ReadSnapshot, writer.WriteSnapshot, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	cfg := config.Default().Server
	cfg.MaxQueryLen = 64
	ts := httptest.NewServer(New(e, tokens, cfg, zap.NewNop()).Handler())
	t.Cleanup(ts.Close)
	return ts, e
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSystemStatus(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/system/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["auth"])
}

func TestTokenize(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/tokenize", map[string]string{"query": `k="v" $`})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tokens []struct {
			Type  string `json:"type"`
			Text  string `json:"text"`
			Start int    `json:"start"`
			End   int    `json:"end"`
		} `json:"tokens"`
		Gaps []struct {
			Text string `json:"text"`
		} `json:"gaps"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Tokens, 3)
	assert.Equal(t, "KEY", body.Tokens[0].Type)
	assert.Equal(t, `"v"`, body.Tokens[2].Text)
	assert.Equal(t, 5, body.Tokens[2].End)
	require.Len(t, body.Gaps, 1)
	assert.Equal(t, "$", body.Gaps[0].Text)
}

func TestParse(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/parse", map[string]string{"query": "a OR NOT b"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tree  map[string]any `json:"tree"`
		Valid bool           `json:"valid"`
		Kind  string         `json:"kind"`
	}
	decode(t, resp, &body)
	assert.True(t, body.Valid)
	assert.Equal(t, "unkeyed", body.Kind)
	assert.Equal(t, "LogicalExpression", body.Tree["type"])
	assert.Equal(t, "OR", body.Tree["operator"])

	resp = postJSON(t, ts.URL+"/api/parse", map[string]string{"query": "a=1 b"})
	decode(t, resp, &body)
	assert.False(t, body.Valid)
	assert.Equal(t, "Error", body.Tree["type"])
	assert.Equal(t, "missing_operator", body.Tree["code"])
}

func TestAnalyzeRecordsHistory(t *testing.T) {
	ts, e := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/analyze", map[string]string{"query": "level=error AND"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var a struct {
		Valid       bool                `json:"valid"`
		Diagnostics []engine.Diagnostic `json:"diagnostics"`
	}
	decode(t, resp, &a)
	assert.False(t, a.Valid)
	require.Len(t, a.Diagnostics, 1)
	assert.Equal(t, "unexpected_eof", a.Diagnostics[0].Code)
	assert.Equal(t, 15, a.Diagnostics[0].Start)

	entries, err := e.Recent(engine.HistoryFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "level=error AND", entries[0].Query)
}

func TestAnalyzeRuneOffsets(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	type analysis struct {
		Offsets string                    `json:"offsets"`
		Spans   []querylang.HighlightSpan `json:"spans"`
		Tokens  []struct {
			Start int `json:"start"`
			End   int `json:"end"`
		} `json:"tokens"`
		Diagnostics []engine.Diagnostic `json:"diagnostics"`
	}

	resp := postJSON(t, ts.URL+"/api/analyze?offsets=rune", map[string]string{"query": "ключ=знач AND x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var a analysis
	decode(t, resp, &a)
	assert.Equal(t, "rune", a.Offsets)
	assert.Equal(t, []querylang.HighlightSpan{
		{Start: 0, End: 4, Class: querylang.ClassKey},
		{Start: 5, End: 9, Class: querylang.ClassValue},
		{Start: 9, End: 14, Class: querylang.ClassOperator},
		{Start: 14, End: 15, Class: querylang.ClassValue},
	}, a.Spans)
	require.Len(t, a.Tokens, 5)
	assert.Equal(t, 10, a.Tokens[3].Start)
	assert.Equal(t, 13, a.Tokens[3].End)

	resp = postJSON(t, ts.URL+"/api/analyze?offsets=rune", map[string]string{"query": "ключ=знач AND"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var invalid analysis
	decode(t, resp, &invalid)
	require.Len(t, invalid.Diagnostics, 1)
	assert.Equal(t, "unexpected_eof", invalid.Diagnostics[0].Code)
	assert.Equal(t, 13, invalid.Diagnostics[0].Start)
	assert.Equal(t, []querylang.HighlightSpan{{Start: 13, End: 13, Class: querylang.ClassError}}, invalid.Spans)

	resp = postJSON(t, ts.URL+"/api/analyze", map[string]string{"query": "ключ=знач"})
	var byByte analysis
	decode(t, resp, &byByte)
	assert.Equal(t, "byte", byByte.Offsets)
	assert.Equal(t, querylang.HighlightSpan{Start: 0, End: 8, Class: querylang.ClassKey}, byByte.Spans[0])

	bad := postJSON(t, ts.URL+"/api/analyze?offsets=utf16", map[string]string{"query": "a"})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHighlight(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/highlight?q=" + "k%3Dv")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Spans []struct {
			Start int    `json:"start"`
			End   int    `json:"end"`
			Class string `json:"class"`
		} `json:"spans"`
		Segments []struct {
			Text  string `json:"text"`
			Class string `json:"class"`
		} `json:"segments"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Spans, 2)
	assert.Equal(t, "key", body.Spans[0].Class)
	assert.Equal(t, "value", body.Spans[1].Class)
	require.Len(t, body.Segments, 3)
	assert.Equal(t, "none", body.Segments[1].Class)

	post := postJSON(t, ts.URL+"/api/highlight", map[string]string{"query": ""})
	require.Equal(t, http.StatusOK, post.StatusCode)
	decode(t, post, &body)
	require.Len(t, body.Spans, 1)
	assert.Equal(t, "error", body.Spans[0].Class)
}

func TestMatch(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/match", map[string]any{
		"query": "level=error AND NOT service=db",
		"records": []map[string]any{
			{"level": "error", "service": "api"},
			{"level": "error", "service": "db"},
			{"level": "info", "service": "api"},
			{"level": "ERROR", "service": "web", "code": 500},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Matches []int `json:"matches"`
	}
	decode(t, resp, &body)
	assert.Equal(t, []int{0, 3}, body.Matches)

	numeric := postJSON(t, ts.URL+"/api/match", map[string]any{
		"query":   "code=500",
		"records": []map[string]any{{"code": 500}, {"code": 404}},
	})
	decode(t, numeric, &body)
	assert.Equal(t, []int{0}, body.Matches)

	invalid := postJSON(t, ts.URL+"/api/match", map[string]any{"query": "a AND", "records": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, invalid.StatusCode)

	notObject := postJSON(t, ts.URL+"/api/match", map[string]any{"query": "a", "records": []any{1}})
	assert.Equal(t, http.StatusBadRequest, notObject.StatusCode)
}

func TestRequestErrors(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/parse")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/parse", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing := postJSON(t, ts.URL+"/api/parse", map[string]int{"query": 1})
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)

	long := postJSON(t, ts.URL+"/api/analyze", map[string]string{"query": strings.Repeat("a ", 40)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, long.StatusCode)
}

func TestHistoryAndStats(t *testing.T) {
	ts, e := newTestServer(t, nil)

	for _, q := range []string{"a", "k=", "(b", "c OR d"} {
		_, err := e.Analyze(q)
		require.NoError(t, err)
	}
	require.NoError(t, e.Flush())
	_, err := e.Analyze("x y")
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/history?invalid=1&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	var entries []engine.HistoryEntry
	decode(t, resp, &entries)
	require.Len(t, entries, 3)
	assert.Equal(t, "x y", entries[0].Query)
	assert.Equal(t, "(b", entries[1].Query)

	resp2, err := http.Get(ts.URL + "/api/history?q=" + "code%3Dmissing_value")
	require.NoError(t, err)
	defer resp2.Body.Close()
	decode(t, resp2, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "k=", entries[0].Query)

	bad, err := http.Get(ts.URL + "/api/history?q=" + "code%3D")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, bad.StatusCode)

	resp3, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp3.Body.Close()
	var stats statsResponse
	decode(t, resp3, &stats)
	assert.Equal(t, int64(5), stats.TotalAnalyses)
	assert.Equal(t, int64(3), stats.Invalid)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, int64(len("x y")+10), stats.PendingBytes)
	// three history requests plus this one
	assert.Equal(t, int64(4), stats.Requests)

	resp4, err := http.Get(ts.URL + "/api/histogram?interval=3600")
	require.NoError(t, err)
	defer resp4.Body.Close()
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	var points []engine.HistogramPoint
	decode(t, resp4, &points)
	total := 0
	for _, p := range points {
		total += p.Count
	}
	assert.Equal(t, 5, total)

	resp5, err := http.Get(ts.URL + "/api/histogram?interval=-1")
	require.NoError(t, err)
	resp5.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp5.StatusCode)
}

func TestAuth(t *testing.T) {
	tokens := controller.NewStore(filepath.Join(t.TempDir(), "tokens.json"), nil)
	secret, _, err := tokens.Create("editor")
	require.NoError(t, err)
	ts, _ := newTestServer(t, tokens)

	status, err := http.Get(ts.URL + "/api/system/status")
	require.NoError(t, err)
	status.Body.Close()
	assert.Equal(t, http.StatusOK, status.StatusCode)

	resp := postJSON(t, ts.URL+"/api/parse", map[string]string{"query": "a"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/parse", strings.NewReader(`{"query":"a"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+secret)
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)

	wrong, err := http.Get(ts.URL + "/api/stats?token=qlk-0000")
	require.NoError(t, err)
	wrong.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	query, err := http.Get(ts.URL + "/api/stats?token=" + secret)
	require.NoError(t, err)
	query.Body.Close()
	assert.Equal(t, http.StatusOK, query.StatusCode)
}

func TestLive(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(LiveMessage{Type: "ping"}))
	var pong LiveResponse
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Type)

	require.NoError(t, conn.WriteJSON(LiveMessage{Type: "analyze", Query: "NOT NOT a"}))
	var analysis struct {
		Type    string `json:"type"`
		Payload struct {
			Valid       bool                `json:"valid"`
			Diagnostics []engine.Diagnostic `json:"diagnostics"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&analysis))
	assert.Equal(t, "analysis", analysis.Type)
	assert.False(t, analysis.Payload.Valid)
	require.Len(t, analysis.Payload.Diagnostics, 1)
	assert.Equal(t, "unexpected_token", analysis.Payload.Diagnostics[0].Code)

	require.NoError(t, conn.WriteJSON(LiveMessage{Type: "analyze", Query: strings.Repeat("x", 100)}))
	var tooLong struct {
		Type    string    `json:"type"`
		Payload LiveError `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&tooLong))
	assert.Equal(t, "error", tooLong.Type)
	assert.Equal(t, "query_too_long", tooLong.Payload.Code)

	require.NoError(t, conn.WriteJSON(LiveMessage{Type: "shout"}))
	require.NoError(t, conn.ReadJSON(&tooLong))
	assert.Equal(t, "unknown_type", tooLong.Payload.Code)

	require.NoError(t, conn.WriteJSON(LiveMessage{Type: "analyze", Query: "a", Offsets: "utf16"}))
	require.NoError(t, conn.ReadJSON(&tooLong))
	assert.Equal(t, "invalid_message", tooLong.Payload.Code)
}

func TestLiveHistory(t *testing.T) {
	ts, e := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var analysis struct {
		Type    string `json:"type"`
		Payload struct {
			Offsets string                    `json:"offsets"`
			Spans   []querylang.HighlightSpan `json:"spans"`
		} `json:"payload"`
	}
	// Keystrokes of one query
	for _, q := range []string{"к", "ключ", "ключ=", "ключ=знач"} {
		require.NoError(t, conn.WriteJSON(LiveMessage{Type: "analyze", Query: q, Offsets: "rune"}))
		require.NoError(t, conn.ReadJSON(&analysis))
		assert.Equal(t, "analysis", analysis.Type)
	}
	assert.Equal(t, "rune", analysis.Payload.Offsets)
	assert.Equal(t, []querylang.HighlightSpan{
		{Start: 0, End: 4, Class: querylang.ClassKey},
		{Start: 5, End: 9, Class: querylang.ClassValue},
	}, analysis.Payload.Spans)

	entries, err := e.Recent(engine.HistoryFilter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, e.Stats().TotalAnalyses)

	require.NoError(t, conn.WriteJSON(LiveMessage{Type: "commit", Query: "ключ=знач"}))
	require.NoError(t, conn.ReadJSON(&analysis))
	assert.Equal(t, "analysis", analysis.Type)
	assert.Equal(t, "byte", analysis.Payload.Offsets)

	entries, err = e.Recent(engine.HistoryFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ключ=знач", entries[0].Query)
}

func TestLiveRequiresToken(t *testing.T) {
	tokens := controller.NewStore(filepath.Join(t.TempDir(), "tokens.json"), nil)
	secret, _, err := tokens.Create("live")
	require.NoError(t, err)
	ts, _ := newTestServer(t, tokens)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+secret, nil)
	require.NoError(t, err)
	conn.Close()
}
