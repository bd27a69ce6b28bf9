// Package client talks to a querylight server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the server at baseURL. An empty apiKey sends no
// Authorization header.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type Status struct {
	Status string `json:"status"`
	Auth   bool   `json:"auth"`
}

type Highlight struct {
	Query    string                    `json:"query"`
	Spans    []querylang.HighlightSpan `json:"spans"`
	Segments []querylang.Segment       `json:"segments"`
}

// Analysis is the decoded form of a server analysis. The tree is kept as
// raw JSON.
type Analysis struct {
	Query       string                    `json:"query"`
	Offsets     string                    `json:"offsets"`
	Tokens      []json.RawMessage         `json:"tokens"`
	Tree        json.RawMessage           `json:"tree"`
	Spans       []querylang.HighlightSpan `json:"spans"`
	Valid       bool                      `json:"valid"`
	Kind        string                    `json:"kind"`
	Diagnostics []engine.Diagnostic       `json:"diagnostics"`
}

// Engine converts a into the form the local renderers take. Tokens and
// tree are not carried over.
func (a Analysis) Engine() engine.Analysis {
	return engine.Analysis{
		Query:       a.Query,
		Offsets:     a.Offsets,
		Spans:       a.Spans,
		Valid:       a.Valid,
		Kind:        parseKind(a.Kind),
		Diagnostics: a.Diagnostics,
	}
}

func parseKind(s string) querylang.Kind {
	for _, k := range []querylang.Kind{querylang.KindKeyed, querylang.KindUnkeyed} {
		if k.String() == s {
			return k
		}
	}
	return querylang.KindUnset
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/api/system/status", nil, &st)
	return st, err
}

func (c *Client) Highlight(ctx context.Context, query string) (Highlight, error) {
	var h Highlight
	err := c.do(ctx, http.MethodPost, "/api/highlight", map[string]string{"query": query}, &h)
	return h, err
}

// Analyze analyzes query on the server, which records it in its history.
func (c *Client) Analyze(ctx context.Context, query string) (Analysis, error) {
	var a Analysis
	err := c.do(ctx, http.MethodPost, "/api/analyze", map[string]string{"query": query}, &a)
	return a, err
}

// History fetches up to limit recent analyses, newest first. filter is a
// query over the history entries and may be empty.
func (c *Client) History(ctx context.Context, filter string, invalidOnly bool, limit int) ([]engine.HistoryEntry, error) {
	v := url.Values{}
	if filter != "" {
		v.Set("q", filter)
	}
	if invalidOnly {
		v.Set("invalid", "1")
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/history"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var entries []engine.HistoryEntry
	err := c.do(ctx, http.MethodGet, path, nil, &entries)
	return entries, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("User-Agent", fmt.Sprintf("querylight-go/%s", runtime.Version()))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s failed: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
