// Package opencodetest provides a scripted OpenCode HTTP server for tests.
package opencodetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// SessionID is the id of the session every POST /session creates.
const SessionID = "ses_1"

// Server mimics `opencode serve`. Every chat POST broadcasts the events
// returned by the script to the open event streams.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	script      func(sessionID string) []string
	subs        []chan string
	chats       []map[string]any
	permissions map[string]string
	deleted     []string
}

// New starts a server replaying script for every chat. The server is
// closed when the test ends.
func New(t testing.TB, script func(sessionID string) []string) *Server {
	t.Helper()
	s := &Server{script: script, permissions: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": SessionID})
	})
	mux.HandleFunc("GET /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": r.PathValue("id")})
	})
	mux.HandleFunc("DELETE /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.deleted = append(s.deleted, r.PathValue("id"))
		s.mu.Unlock()
		writeJSON(w, true)
	})
	mux.HandleFunc("POST /session/{id}/abort", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, true)
	})
	mux.HandleFunc("POST /session/{id}/permissions/{pid}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.permissions[r.PathValue("pid")] = body["response"]
		s.mu.Unlock()
		writeJSON(w, true)
	})
	mux.HandleFunc("POST /session/{id}/message", s.handleChat)
	mux.HandleFunc("GET /event", s.handleEvents)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetScript replaces the events replayed for later chats.
func (s *Server) SetScript(script func(sessionID string) []string) {
	s.mu.Lock()
	s.script = script
	s.mu.Unlock()
}

// Chats returns the decoded bodies of all chat requests.
func (s *Server) Chats() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.chats...)
}

// Permissions returns the permission replies by permission id.
func (s *Server) Permissions() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.permissions))
	for k, v := range s.permissions {
		out[k] = v
	}
	return out
}

// Deleted returns the ids of deleted sessions.
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	sid := r.PathValue("id")

	s.mu.Lock()
	s.chats = append(s.chats, body)
	subs := append([]chan string(nil), s.subs...)
	script := s.script
	s.mu.Unlock()

	if script != nil {
		for _, ev := range script(sid) {
			for _, ch := range subs {
				select {
				case ch <- ev:
				case <-time.After(time.Second):
				}
			}
		}
	}
	writeJSON(w, map[string]any{"info": map[string]any{"id": "msg_1", "sessionID": sid, "role": "assistant"}, "parts": []any{}})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fl := w.(http.Flusher)
	fl.Flush()
	for {
		select {
		case ev := <-ch:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", ev)
			fl.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// Reply is a script streaming text, a finished step costing cost and
// session.idle.
func Reply(text string, cost float64) func(string) []string {
	return func(sid string) []string {
		return []string{
			Text(sid, "p1", text),
			fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":"p2","sessionID":%q,"type":"step-finish","cost":%v,"reason":"stop","tokens":{"input":40,"output":8,"cache":{"read":0,"write":0}}}}}`, sid, cost),
			Idle(sid),
		}
	}
}

// Then returns a script emitting events before the events of next.
func Then(next func(string) []string, events ...string) func(string) []string {
	return func(sid string) []string {
		return append(append([]string(nil), events...), next(sid)...)
	}
}

// Text is a message.part.updated event for a text part.
func Text(sid, partID, text string) string {
	return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":%q,"sessionID":%q,"type":"text","text":%q}}}`, partID, sid, text)
}

// Idle is the session.idle event ending a turn.
func Idle(sid string) string {
	return fmt.Sprintf(`{"type":"session.idle","properties":{"sessionID":%q}}`, sid)
}

// Permission is a permission.updated event asking to run tool.
func Permission(id, tool, callID string, metadata map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"type": "permission.updated",
		"properties": map[string]any{
			"id":        id,
			"type":      tool,
			"sessionID": SessionID,
			"callID":    callID,
			"metadata":  metadata,
		},
	})
	return string(b)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
