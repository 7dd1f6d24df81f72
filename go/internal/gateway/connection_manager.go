package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageRouter handles client messages read off a session. The router is
// attached after construction so the service and the manager can reference
// each other without a constructor cycle.
type MessageRouter interface {
	HandleMessage(ctx context.Context, session *Session, message []byte)
}

// ConnectionManager owns every live WebSocket session. Unlike a per-room
// gateway there is a single pool: every session sees every pulse.
type ConnectionManager struct {
	sessions map[*Session]bool
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	router   MessageRouter

	broadcastCh chan broadcastMessage
}

// Session represents one WebSocket client connection.
type Session struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	done     chan struct{}
	doneOnce sync.Once

	mu     sync.RWMutex
	userID string
}

// markDone signals writers that the session is gone. Send itself is never
// closed: a broadcast holding this session in its snapshot may still try to
// deliver, and a send on a closed channel would panic the manager.
func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// UserID returns the identity bound by a register message, or "".
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetUserID binds a user identity to the session.
func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	event  *SyncEvent
	userID string // optional: only deliver to this user's sessions
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessions: make(map[*Session]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetRouter attaches the client message router. Must be called before the
// first upgrade.
func (cm *ConnectionManager) SetRouter(router MessageRouter) {
	cm.router = router
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	session := &Session{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
		userID:      userID,
	}

	cm.registerSession(session)

	go session.writePump()
	go session.readPump()

	log.Info().
		Str("session_id", session.ID).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return nil
}

// registerSession adds a session to the pool
func (cm *ConnectionManager) registerSession(session *Session) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.sessions[session] = true

	log.Debug().
		Str("session_id", session.ID).
		Int("total_sessions", len(cm.sessions)).
		Msg("session registered")
}

// unregisterSession removes a session from the pool
func (cm *ConnectionManager) unregisterSession(session *Session) {
	cm.mu.Lock()
	_, exists := cm.sessions[session]
	if exists {
		delete(cm.sessions, session)
	}
	remaining := len(cm.sessions)
	cm.mu.Unlock()

	if !exists {
		return
	}

	session.markDone()

	log.Info().
		Str("session_id", session.ID).
		Str("user_id", session.UserID()).
		Int("total_sessions", remaining).
		Msg("session unregistered")
}

// Broadcast queues an event for every connected session.
func (cm *ConnectionManager) Broadcast(event *SyncEvent) {
	select {
	case cm.broadcastCh <- broadcastMessage{event: event}:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToUser queues an event for one user's sessions only.
func (cm *ConnectionManager) BroadcastToUser(userID string, event *SyncEvent) {
	select {
	case cm.broadcastCh <- broadcastMessage{event: event, userID: userID}:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("user_id", userID).
			Msg("broadcast channel full, dropping user message")
	}
}

// SendToSession delivers an event to a single session, bypassing the
// broadcast queue. Used for request/response exchanges.
func (cm *ConnectionManager) SendToSession(session *Session, event *SyncEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for session")
		return
	}
	cm.deliver(session, data)
}

// handleBroadcast fans one event out to the matching sessions.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Session
	for session := range cm.sessions {
		if message.userID != "" && session.UserID() != message.userID {
			continue
		}
		targets = append(targets, session)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, session := range targets {
		cm.deliver(session, eventData)
	}

	log.Debug().
		Str("event_type", string(message.event.Type)).
		Int("sessions", len(targets)).
		Msg("event broadcasted")
}

// deliver pushes bytes onto a session's send buffer. A full buffer gets one
// brief retry; a session still blocked after that is dropped so it cannot
// hold up delivery to everyone else. A session that unregistered after the
// broadcast snapshot was taken is skipped.
func (cm *ConnectionManager) deliver(session *Session, data []byte) {
	select {
	case <-session.done:
		return
	default:
	}

	select {
	case session.Send <- data:
		return
	default:
	}

	select {
	case <-session.done:
	case session.Send <- data:
	case <-time.After(50 * time.Millisecond):
		log.Warn().
			Str("session_id", session.ID).
			Str("user_id", session.UserID()).
			Msg("session send buffer full, closing connection")
		cm.unregisterSession(session)
		session.Conn.Close()
	}
}

// ActiveSessions returns the number of live sessions.
func (cm *ConnectionManager) ActiveSessions() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.sessions)
}

// GetConnectionStats returns statistics about active sessions
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	registered := 0
	for session := range cm.sessions {
		if session.UserID() != "" {
			registered++
		}
	}

	return map[string]interface{}{
		"total_sessions":      len(cm.sessions),
		"registered_sessions": registered,
	}
}

// writePump handles sending messages to the WebSocket connection
func (s *Session) writePump() {
	ticker := time.NewTicker(s.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
		s.Manager.unregisterSession(s)
	}()

	for {
		select {
		case message := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(s.Manager.config.WriteTimeout))
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("session_id", s.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-s.done:
			s.Conn.SetWriteDeadline(time.Now().Add(s.Manager.config.WriteTimeout))
			s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(s.Manager.config.WriteTimeout))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("session_id", s.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (s *Session) readPump() {
	defer func() {
		s.Manager.unregisterSession(s)
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(s.Manager.config.MaxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(s.Manager.config.ReadTimeout))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(s.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("session_id", s.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if s.Manager.router != nil {
			s.Manager.router.HandleMessage(context.Background(), s, message)
		}
		s.Conn.SetReadDeadline(time.Now().Add(s.Manager.config.ReadTimeout))
	}
}
