package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/autoyou/autoyou-agent/internal/agent"
	"github.com/autoyou/autoyou-agent/internal/llm"
)

// wsEvent is one frame sent to a websocket client during streaming.
type wsEvent struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	Tool     string          `json:"tool,omitempty"`
	Error    string          `json:"error,omitempty"`
	Response *agent.Response `json:"response,omitempty"`
}

// handleChatWS streams chat responses over a websocket. The client
// sends agent requests as JSON text frames; the server answers each
// with a sequence of token/tool frames and a final done frame.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.corsOrigin(origin) != ""
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("websocket connected", "remote", r.RemoteAddr)

	for {
		var req agent.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		if req.Message == "" {
			s.writeWS(conn, wsEvent{Type: "error", Error: "message is required"})
			continue
		}

		// The callback runs synchronously inside ProcessStream, so
		// frames go out in order on a single writer.
		resp, err := s.agent.ProcessStream(r.Context(), &req, func(e llm.StreamEvent) {
			switch e.Kind {
			case llm.KindToken:
				s.writeWS(conn, wsEvent{Type: "token", Content: e.Token})
			case llm.KindToolCallStart:
				name := ""
				if e.ToolCall != nil {
					name = e.ToolCall.Function.Name
				}
				s.writeWS(conn, wsEvent{Type: "tool_call", Tool: name})
			case llm.KindToolCallDone:
				s.writeWS(conn, wsEvent{Type: "tool_result", Tool: e.ToolName, Error: e.ToolError})
			}
		})
		if err != nil {
			s.writeWS(conn, wsEvent{Type: "error", Error: err.Error()})
			continue
		}

		s.writeWS(conn, wsEvent{Type: "done", Response: resp})
	}
}

func (s *Server) writeWS(conn *websocket.Conn, e wsEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Debug("websocket marshal failed", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}
