package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// maxVisited bounds the per-session history kept for the graph overlay.
const maxVisited = 64

// StreamManager handles active SSE connections and the state history of each session.
type StreamManager struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // SessionID -> Set of Channels
	visited     map[string][]string
}

// NewStreamManager creates an empty StreamManager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		logger:      logger,
		subscribers: make(map[string]map[chan<- string]struct{}),
		visited:     make(map[string][]string),
	}
}

// Subscribe registers a channel for the events of sessionID.
// The returned func unregisters and closes it.
func (sm *StreamManager) Subscribe(sessionID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[sessionID]; ok {
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		}
	}
}

// Broadcast sends msg to every subscriber of sessionID without blocking.
func (sm *StreamManager) Broadcast(sessionID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[sessionID] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "session", sessionID)
		}
	}
}

// Visited returns the states reached by sessionID, oldest first.
func (sm *StreamManager) Visited(sessionID string) []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]string(nil), sm.visited[sessionID]...)
}

func (sm *StreamManager) visit(sessionID, state string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	v := append(sm.visited[sessionID], state)
	if len(v) > maxVisited {
		v = v[len(v)-maxVisited:]
	}
	sm.visited[sessionID] = v
}

// streamEvent is the SSE payload.
type streamEvent struct {
	Type    domain.EventType `json:"type"`
	From    string           `json:"from,omitempty"`
	To      string           `json:"to,omitempty"`
	State   string           `json:"state,omitempty"`
	Command string           `json:"command,omitempty"`
	Attempt int              `json:"attempt,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Hooks returns lifecycle hooks feeding the streams.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			ev := streamEvent{Type: domain.EventTransition, From: e.From, To: e.To, Command: e.Command, Error: errString(e.Err)}
			if e.Reached != "" {
				ev.State = e.Reached
				sm.visit(e.SessionID, e.Reached)
			}
			sm.publish(e.SessionID, ev)
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			sm.publish(e.SessionID, streamEvent{Type: domain.EventCommand, State: e.State, Command: e.Command, Error: errString(e.Err)})
		},
		OnReconnect: func(_ context.Context, e *domain.ReconnectEvent) {
			sm.publish(e.SessionID, streamEvent{Type: domain.EventReconnect, State: e.Prior, Attempt: e.Attempt, Error: errString(e.Err)})
		},
	}
}

func (sm *StreamManager) publish(sessionID string, ev streamEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		sm.logger.Error("SSE: encode failed", "error", err)
		return
	}
	sm.Broadcast(sessionID, string(b))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SubscribeEvents handles the GET /sessions/{id}/events request (SSE).
// The optional "types" query parameter filters by event type, e.g. types=transition,reconnect.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.Manager.Get(id); err != nil {
		s.writeError(w, err)
		return
	}

	var filter map[string]bool
	if raw := r.URL.Query().Get("types"); raw != "" {
		filter = make(map[string]bool)
		for _, t := range strings.Split(raw, ",") {
			filter[strings.TrimSpace(t)] = true
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()
	s.logger.Info("SSE: Subscribing to session events", "session", id)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "session", id)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			name := "message"
			var ev streamEvent
			if err := json.Unmarshal([]byte(msg), &ev); err == nil && ev.Type != "" {
				if filter != nil && !filter[string(ev.Type)] {
					continue
				}
				name = string(ev.Type)
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, msg)
			flusher.Flush()
		}
	}
}
