package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
)

var errBadRequest = errors.New("bad request")

// readBody parses a JSON request body with a pooled parser and hands the
// value to fn before the parser is returned to the pool.
func (s *QueryServer) readBody(r *http.Request, fn func(v *fastjson.Value) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	defer r.Body.Close()

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	if v.Type() != fastjson.TypeObject {
		return fmt.Errorf("%w: expected a JSON object", errBadRequest)
	}
	return fn(v)
}

// readQuery returns the "query" field of a JSON request body.
func (s *QueryServer) readQuery(r *http.Request) (string, error) {
	var query string
	err := s.readBody(r, func(v *fastjson.Value) error {
		q := v.Get("query")
		if q == nil || q.Type() != fastjson.TypeString {
			return fmt.Errorf("%w: missing string field \"query\"", errBadRequest)
		}
		query = string(q.GetStringBytes())
		return nil
	})
	return query, err
}

func (s *QueryServer) checkLen(query string) error {
	if s.cfg.MaxQueryLen > 0 && len(query) > s.cfg.MaxQueryLen {
		return fmt.Errorf("%w: %d > %d bytes", engine.ErrQueryTooLong, len(query), s.cfg.MaxQueryLen)
	}
	return nil
}

// writeError maps request errors onto status codes.
func (s *QueryServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrQueryTooLong):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, engine.ErrInvalidQuery):
		var syntax querylang.ErrorExpr
		errors.As(err, &syntax)
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
			"tree":  syntax,
		})
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

// offsetsParam reads the unit of the reported offsets from the offsets
// query parameter.
func offsetsParam(r *http.Request) (string, error) {
	return parseOffsets(r.URL.Query().Get("offsets"))
}

func parseOffsets(v string) (string, error) {
	switch v {
	case "", engine.OffsetsByte:
		return engine.OffsetsByte, nil
	case engine.OffsetsRune:
		return engine.OffsetsRune, nil
	}
	return "", fmt.Errorf("%w: offsets must be %q or %q", errBadRequest, engine.OffsetsByte, engine.OffsetsRune)
}

func (s *QueryServer) postQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	query, err := s.readQuery(r)
	if err == nil {
		err = s.checkLen(query)
	}
	if err != nil {
		s.writeError(w, err)
		return "", false
	}
	return query, true
}

type tokenizeResponse struct {
	Tokens []querylang.Token `json:"tokens"`
	Gaps   []querylang.Gap   `json:"gaps"`
}

// handleTokenize processes POST /api/tokenize.
func (s *QueryServer) handleTokenize(w http.ResponseWriter, r *http.Request) {
	query, ok := s.postQuery(w, r)
	if !ok {
		return
	}
	tokens, gaps := querylang.Scan(query)
	if tokens == nil {
		tokens = []querylang.Token{}
	}
	if gaps == nil {
		gaps = []querylang.Gap{}
	}
	s.writeJSON(w, http.StatusOK, tokenizeResponse{Tokens: tokens, Gaps: gaps})
}

type parseResponse struct {
	Tree  querylang.Node `json:"tree"`
	Valid bool           `json:"valid"`
	Kind  querylang.Kind `json:"kind"`
}

// handleParse processes POST /api/parse.
func (s *QueryServer) handleParse(w http.ResponseWriter, r *http.Request) {
	query, ok := s.postQuery(w, r)
	if !ok {
		return
	}
	tree := querylang.Parse(query)
	_, invalid := tree.(querylang.ErrorExpr)
	s.writeJSON(w, http.StatusOK, parseResponse{Tree: tree, Valid: !invalid, Kind: querylang.KindOf(tree)})
}

// handleAnalyze processes POST /api/analyze[?offsets=rune]. Analyses are
// recorded in the history.
func (s *QueryServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	offsets, err := offsetsParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	query, ok := s.postQuery(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Analyze(query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if offsets == engine.OffsetsRune {
		a = a.InRunes()
	}
	s.writeJSON(w, http.StatusOK, a)
}

type highlightResponse struct {
	Query    string                    `json:"query"`
	Offsets  string                    `json:"offsets"`
	Spans    []querylang.HighlightSpan `json:"spans"`
	Segments []querylang.Segment       `json:"segments"`
}

// handleHighlight processes GET /api/highlight?q= and POST /api/highlight.
// Both take ?offsets=rune.
func (s *QueryServer) handleHighlight(w http.ResponseWriter, r *http.Request) {
	offsets, err := offsetsParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var query string
	switch r.Method {
	case http.MethodGet:
		query = r.URL.Query().Get("q")
		if err := s.checkLen(query); err != nil {
			s.writeError(w, err)
			return
		}
	case http.MethodPost:
		var ok bool
		if query, ok = s.postQuery(w, r); !ok {
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	spans := querylang.Highlight(query)
	if spans == nil {
		spans = []querylang.HighlightSpan{}
	}
	segments := querylang.Segments(query, spans)
	if segments == nil {
		segments = []querylang.Segment{}
	}
	if offsets == engine.OffsetsRune {
		spans = querylang.RuneOffsets(query, spans)
	}
	s.writeJSON(w, http.StatusOK, highlightResponse{Query: query, Offsets: offsets, Spans: spans, Segments: segments})
}

// handleMatch processes POST /api/match with a body of
// {"query": "...", "records": [{...}], "limit": n}. Non-string record
// values are matched by their JSON text.
func (s *QueryServer) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		query   string
		limit   int
		records []querylang.Record
	)
	err := s.readBody(r, func(v *fastjson.Value) error {
		query = string(v.GetStringBytes("query"))
		limit = v.GetInt("limit")

		arr := v.GetArray("records")
		records = make([]querylang.Record, 0, len(arr))
		for i, item := range arr {
			obj, err := item.Object()
			if err != nil {
				return fmt.Errorf("%w: record %d is not an object", errBadRequest, i)
			}
			fields := make(querylang.Fields, obj.Len())
			obj.Visit(func(k []byte, val *fastjson.Value) {
				if val.Type() == fastjson.TypeString {
					fields[string(k)] = string(val.GetStringBytes())
				} else {
					fields[string(k)] = val.String()
				}
			})
			records = append(records, fields)
		}
		return nil
	})
	if err == nil {
		err = s.checkLen(query)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	matches, err := s.engine.Filter(query, records, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func parseUnixSeconds(r *http.Request, name string) int64 {
	if v := r.URL.Query().Get(name); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
			return sec * int64(time.Second)
		}
	}
	return 0
}

// handleHistory processes GET /api/history.
func (s *QueryServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := engine.HistoryFilter{
		MinTime:     parseUnixSeconds(r, "start"),
		MaxTime:     parseUnixSeconds(r, "end"),
		InvalidOnly: q.Get("invalid") == "1" || q.Get("invalid") == "true",
		Query:       q.Get("q"),
	}

	limit := 100
	if parsed, err := strconv.Atoi(q.Get("limit")); err == nil && parsed > 0 {
		limit = parsed
	}

	entries, err := s.engine.Recent(filter, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []engine.HistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleHistogram processes GET /api/histogram. start and end are unix
// seconds, interval is in seconds.
func (s *QueryServer) handleHistogram(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Defaults: last hour, one minute buckets
	end := time.Now().UnixNano()
	start := end - time.Hour.Nanoseconds()
	interval := time.Minute.Nanoseconds()

	if v := parseUnixSeconds(r, "start"); v > 0 {
		start = v
	}
	if v := parseUnixSeconds(r, "end"); v > 0 {
		end = v
	}
	if v := r.URL.Query().Get("interval"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil || sec <= 0 {
			http.Error(w, "interval must be a positive number of seconds", http.StatusBadRequest)
			return
		}
		interval = sec * int64(time.Second)
	}

	points, err := s.engine.Histogram(start, end, interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if points == nil {
		points = []engine.HistogramPoint{}
	}
	s.writeJSON(w, http.StatusOK, points)
}

type statsResponse struct {
	engine.SystemStats
	Requests int64 `json:"requests"` // HTTP requests served
}

// handleStats processes GET /api/stats.
func (s *QueryServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{SystemStats: s.engine.Stats(), Requests: s.Requests()})
}
