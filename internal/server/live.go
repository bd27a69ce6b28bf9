package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
)

const liveReadTimeout = 120 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins; the token check guards access
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveMessage is a client request on the live connection. "analyze" leaves
// the history untouched; "commit" analyzes and records the query.
type LiveMessage struct {
	Type    string `json:"type"` // "analyze", "commit", "ping"
	Query   string `json:"query,omitempty"`
	Offsets string `json:"offsets,omitempty"` // "byte" (default) or "rune"
}

// LiveResponse is a server message on the live connection.
type LiveResponse struct {
	Type    string `json:"type"` // "analysis", "pong", "error"
	Payload any    `json:"payload,omitempty"`
}

// LiveError is the payload of an "error" response.
type LiveError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleLive upgrades to a websocket that analyzes queries as they are typed.
func (s *QueryServer) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.logger.Debug("WebSocket connection established", zap.String("remote", conn.RemoteAddr().String()))

	conn.SetReadLimit(int64(max(s.cfg.MaxQueryLen, 4096)) * 2)
	_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))

		var msg LiveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendLive(conn, LiveResponse{Type: "error", Payload: LiveError{Code: "invalid_message", Message: "invalid JSON message"}})
			continue
		}

		switch msg.Type {
		case "ping":
			s.sendLive(conn, LiveResponse{Type: "pong"})
		case "analyze", "commit":
			a, err := s.liveAnalyze(msg)
			if err != nil {
				s.sendLive(conn, LiveResponse{Type: "error", Payload: LiveError{Code: liveErrorCode(err), Message: err.Error()}})
				continue
			}
			s.sendLive(conn, LiveResponse{Type: "analysis", Payload: a})
		default:
			s.sendLive(conn, LiveResponse{Type: "error", Payload: LiveError{Code: "unknown_type", Message: "unknown message type: " + msg.Type}})
		}
	}
}

func (s *QueryServer) liveAnalyze(msg LiveMessage) (engine.Analysis, error) {
	offsets, err := parseOffsets(msg.Offsets)
	if err != nil {
		return engine.Analysis{}, err
	}

	var a engine.Analysis
	if msg.Type == "commit" {
		a, err = s.engine.Analyze(msg.Query)
	} else if err = s.checkLen(msg.Query); err == nil {
		a = engine.Analyze(msg.Query)
	}
	if err != nil {
		return engine.Analysis{}, err
	}

	if offsets == engine.OffsetsRune {
		a = a.InRunes()
	}
	return a, nil
}

func liveErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrQueryTooLong):
		return "query_too_long"
	case errors.Is(err, errBadRequest):
		return "invalid_message"
	}
	return "analyze_failed"
}

func (s *QueryServer) sendLive(conn *websocket.Conn, resp LiveResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		s.logger.Warn("WebSocket send error", zap.Error(err))
	}
}
