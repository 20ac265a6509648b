// Package live pushes radicado events to connected dashboards over a
// websocket.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/portalsalud/portal-colaboradores/internal/auth"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const (
	sendBuffer          = 32
	sessionCheckTimeout = 5 * time.Second
)

// Message is what dashboards receive.
type Message struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	Aggregate  string          `json:"aggregate,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt string          `json:"occurred_at,omitempty"`
}

type inbound struct {
	Type string `json:"type"`
}

type client struct {
	conn    *websocket.Conn
	subject string
	session string
	send    chan Message
}

type sessionChecker interface {
	Status(ctx context.Context, id string) (session.Status, error)
}

type collaboratorLookup interface {
	GetByEmail(ctx context.Context, email string) (*collaborators.Collaborator, error)
}

// Option customizes a Hub.
type Option func(*Hub)

// WithAccessCheck requires a live inactivity session and an active
// collaborator before the upgrade. Pings re-check the session without
// sliding it, so an idle dashboard is dropped once the session lapses.
func WithAccessCheck(sessions sessionChecker, people collaboratorLookup) Option {
	return func(h *Hub) {
		h.sessions = sessions
		h.people = people
	}
}

// Hub tracks open connections and fans messages out to them. A client whose
// buffer is full is disconnected.
type Hub struct {
	jwtSecret string
	origins   map[string]struct{}
	sessions  sessionChecker
	people    collaboratorLookup
	logger    *logging.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. An empty origins list accepts any Origin.
func NewHub(jwtSecret string, origins []string, logger *logging.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	allow := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" && o != "*" {
			allow[o] = struct{}{}
		}
	}
	h := &Hub{jwtSecret: jwtSecret, origins: allow, logger: logger, clients: map[*client]struct{}{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients is the number of open connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles GET /ws/radicados?token=. The token and the access
// check run before the upgrade so a rejected caller gets a plain 401 or 403.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r.Header.Get("Authorization"))
	}
	claims, err := auth.ParseToken(h.jwtSecret, token)
	if err != nil {
		respond.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if status, msg := h.admit(r.Context(), claims); status != http.StatusOK {
		respond.Error(w, msg, status)
		return
	}
	srv := websocket.Server{
		Handshake: h.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			h.serve(conn, claims.Subject, claims.SessionKey())
		},
	}
	srv.ServeHTTP(w, r)
}

func (h *Hub) admit(ctx context.Context, claims *auth.Claims) (int, string) {
	if h.sessions != nil {
		if _, err := h.sessions.Status(ctx, claims.SessionKey()); err != nil {
			if errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrMissingSessionID) {
				return http.StatusUnauthorized, session.ErrSessionExpired.Error()
			}
			h.logger.Error("live: session check failed", "error", err)
			return http.StatusServiceUnavailable, "session store unavailable"
		}
	}
	if h.people != nil {
		if claims.Email == "" {
			return http.StatusUnauthorized, "unauthorized"
		}
		c, err := h.people.GetByEmail(ctx, claims.Email)
		switch {
		case errors.Is(err, collaborators.ErrCollaboratorNotFound):
			return http.StatusForbidden, auth.ErrNotCollaborator.Error()
		case err != nil:
			h.logger.Error("live: collaborator lookup failed", "error", err)
			return http.StatusInternalServerError, "internal error"
		case !c.Activo:
			return http.StatusForbidden, auth.ErrCollaboratorInactive.Error()
		}
	}
	return http.StatusOK, ""
}

func (h *Hub) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	if len(h.origins) == 0 {
		return nil
	}
	origin, err := websocket.Origin(cfg, r)
	if err != nil || origin == nil {
		return websocket.ErrBadWebSocketOrigin
	}
	if _, ok := h.origins[(&url.URL{Scheme: origin.Scheme, Host: origin.Host}).String()]; !ok {
		return websocket.ErrBadWebSocketOrigin
	}
	return nil
}

func (h *Hub) serve(conn *websocket.Conn, subject, sessionKey string) {
	c := &client{conn: conn, subject: subject, session: sessionKey, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("live: connection opened", "subject", subject)

	done := make(chan struct{})
	go h.writeLoop(c, done)

	_ = websocket.JSON.Send(conn, Message{Type: "hello", OccurredAt: time.Now().UTC().Format(time.RFC3339)})
	for {
		var msg inbound
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("live: connection closed", "subject", subject, "error", err)
			break
		}
		if msg.Type != "ping" {
			continue
		}
		if err := h.checkSession(c.session); err != nil {
			h.logger.Info("live: closing connection without live session", "subject", subject, "error", err)
			h.enqueue(c, Message{Type: "session_expired"})
			break
		}
		h.enqueue(c, Message{Type: "pong"})
	}
	h.drop(c)
	<-done
}

func (h *Hub) checkSession(key string) error {
	if h.sessions == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionCheckTimeout)
	defer cancel()
	_, err := h.sessions.Status(ctx, key)
	return err
}

func (h *Hub) writeLoop(c *client, done chan<- struct{}) {
	defer close(done)
	for msg := range c.send {
		if err := websocket.JSON.Send(c.conn, msg); err != nil {
			h.logger.Debug("live: send failed", "subject", c.subject, "error", err)
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

// drop unregisters c and closes its queue once.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) enqueue(c *client, msg Message) {
	h.mu.RLock()
	_, ok := h.clients[c]
	if ok {
		select {
		case c.send <- msg:
			h.mu.RUnlock()
			return
		default:
		}
	}
	h.mu.RUnlock()
	if ok {
		h.logger.Warn("live: dropping slow client", "subject", c.subject)
		h.drop(c)
		_ = c.conn.Close()
	}
}

// Publish sends msg to every connected client.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.enqueue(c, msg)
	}
}

// Handle forwards outbox entries, so the hub can sit behind the outbox
// deliverer next to the notification handler.
func (h *Hub) Handle(_ context.Context, entry events.OutboxEntry) error {
	env, err := entry.Envelope()
	if err != nil {
		h.logger.Warn("live: undecodable outbox entry", "error", err, "event_id", entry.ID)
		return nil
	}
	h.Publish(Message{
		Type:       env.EventType,
		EventID:    env.EventID.String(),
		Aggregate:  env.Aggregate,
		Payload:    env.Payload,
		OccurredAt: env.OccurredAt().Format(time.RFC3339),
	})
	return nil
}
