package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeOpenCode mimics `opencode serve`. Every chat POST broadcasts the
// events returned by script to the open event streams.
type fakeOpenCode struct {
	srv    *httptest.Server
	script func(sessionID string) []string

	mu          sync.Mutex
	subscribers []chan string
	chats       []map[string]any
	permissions map[string]string
	aborted     []string
	deleted     []string
	gets        []string
}

func newFakeOpenCode(t *testing.T) *fakeOpenCode {
	t.Helper()
	f := &fakeOpenCode{
		script:      replyScript("Hello", 0.25),
		permissions: make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "ses_1"})
	})
	mux.HandleFunc("GET /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		f.gets = append(f.gets, id)
		f.mu.Unlock()
		if id != "ses_1" && id != "ses_old" {
			http.Error(w, `{"name":"NotFoundError"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"id": id})
	})
	mux.HandleFunc("DELETE /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.mu.Unlock()
		writeJSON(w, true)
	})
	mux.HandleFunc("POST /session/{id}/message", f.handleChat)
	mux.HandleFunc("GET /session/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"info":{"id":"m1","sessionID":"ses_1","role":"user"},"parts":[{"id":"p0","type":"text","text":"hi"}]},
			{"info":{"id":"m2","sessionID":"ses_1","role":"assistant","modelID":"claude-sonnet-4-5"},"parts":[{"id":"p1","type":"text","text":"hello"}]}]`)
	})
	mux.HandleFunc("POST /session/{id}/abort", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.aborted = append(f.aborted, r.PathValue("id"))
		f.mu.Unlock()
		writeJSON(w, true)
	})
	mux.HandleFunc("POST /session/{id}/permissions/{pid}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.permissions[r.PathValue("pid")] = body["response"]
		f.mu.Unlock()
		writeJSON(w, true)
	})
	mux.HandleFunc("GET /event", f.handleEvents)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// replyScript streams one text part, a finished step and session.idle.
func replyScript(text string, cost float64) func(string) []string {
	return func(sid string) []string {
		return []string{
			textEvent(sid, "p1", text),
			fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":"p2","sessionID":%q,"type":"step-finish","cost":%v,"reason":"stop","tokens":{"input":10,"output":5,"cache":{"read":0,"write":0}}}}}`, sid, cost),
			idleEvent(sid),
		}
	}
}

func textEvent(sid, id, text string) string {
	return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":%q,"sessionID":%q,"type":"text","text":%q}}}`, id, sid, text)
}

func idleEvent(sid string) string {
	return fmt.Sprintf(`{"type":"session.idle","properties":{"sessionID":%q}}`, sid)
}

func (f *fakeOpenCode) handleChat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	sid := r.PathValue("id")

	f.mu.Lock()
	f.chats = append(f.chats, body)
	subs := append([]chan string(nil), f.subscribers...)
	script := f.script
	f.mu.Unlock()

	for _, ev := range script(sid) {
		for _, ch := range subs {
			select {
			case ch <- ev:
			case <-time.After(time.Second):
			}
		}
	}
	writeJSON(w, map[string]any{"info": map[string]any{"id": "m2", "sessionID": sid, "role": "assistant"}, "parts": []any{}})
}

func (f *fakeOpenCode) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch := make(chan string, 64)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.subscribers {
			if c == ch {
				f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
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

func (f *fakeOpenCode) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeOpenCode) options(opts ...Option) []Option {
	return append([]Option{WithServerURL(f.srv.URL), WithLogger(quiet), WithCwd(".")}, opts...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recordingStore is an in-memory SessionLister.
type recordingStore struct {
	mu      sync.Mutex
	records map[string]*SessionRecord
}

func newRecordingStore(records ...*SessionRecord) *recordingStore {
	s := &recordingStore{records: make(map[string]*SessionRecord)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *recordingStore) Save(_ context.Context, r *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r.Clone()
	return nil
}

func (s *recordingStore) Load(_ context.Context, id string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return r.Clone(), nil
}

func (s *recordingStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *recordingStore) List(_ context.Context) ([]*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SessionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	return out, nil
}
