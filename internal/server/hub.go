package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cryptobay/cryptobay/internal/metrics"
)

const writeTimeout = 10 * time.Second

// session wraps one websocket connection. Writes come from both the read
// loop (command replies) and the watcher (alerts), so they serialize on mu.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Hub tracks the live websocket session per user and implements the alert
// Notifier: a user without a session simply cannot be reached right now,
// which the watcher logs and moves past.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewHub() *Hub {
	return &Hub{sessions: map[string]*session{}}
}

// Send pushes a text to the user's live session.
func (h *Hub) Send(ctx context.Context, userID, text string) error {
	h.mu.Lock()
	sess, ok := h.sessions[userID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("user %s has no active session", userID)
	}
	if err := sess.write(text); err != nil {
		return fmt.Errorf("write to %s: %w", userID, err)
	}
	return nil
}

// register installs the session, displacing any previous one for the user.
func (h *Hub) register(userID string, sess *session) {
	h.mu.Lock()
	prev, had := h.sessions[userID]
	h.sessions[userID] = sess
	h.mu.Unlock()

	if had {
		prev.conn.Close()
	} else {
		metrics.WSSessions.Inc()
	}
	log.Info().Str("user", userID).Msg("websocket session opened")
}

// unregister drops the session if it is still the current one.
func (h *Hub) unregister(userID string, sess *session) {
	h.mu.Lock()
	current, ok := h.sessions[userID]
	if ok && current == sess {
		delete(h.sessions, userID)
		metrics.WSSessions.Dec()
	}
	h.mu.Unlock()
	log.Info().Str("user", userID).Msg("websocket session closed")
}
