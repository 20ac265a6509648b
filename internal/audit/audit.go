// Package audit records who did what in the portal.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType names an auditable action.
type EventType string

const (
	EventLogin                EventType = "auth.login"
	EventLogout               EventType = "auth.logout"
	EventLoginRejected        EventType = "auth.login_rejected"
	EventRadicadoCreated      EventType = "radicado.created"
	EventRadicadoTransition   EventType = "radicado.transition"
	EventRadicadoAssigned     EventType = "radicado.assigned"
	EventSoporteUploaded      EventType = "soporte.uploaded"
	EventSoporteDeleted       EventType = "soporte.deleted"
	EventSoporteOCR           EventType = "soporte.ocr"
	EventCollaboratorUpdated  EventType = "collaborator.updated"
	EventOneDriveFolderDelete EventType = "onedrive.folder_deleted"
)

// Event is an immutable audit record.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"event_type"`
	ActorID    string          `json:"actor_id"`
	ActorEmail string          `json:"actor_email,omitempty"`
	Resource   string          `json:"resource,omitempty"`
	IPAddress  string          `json:"ip_address,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter specifies criteria for listing events.
type Filter struct {
	ActorID string
	Types   []EventType
	Since   time.Time
	Limit   int
	Offset  int
}

// Logger is the write side consumed by other packages.
type Logger interface {
	LogEvent(ctx context.Context, event Event) error
}

// Service persists audit events in Postgres.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, actor_id, actor_email, resource, ip_address, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.ActorID,
		event.ActorEmail,
		nullString(event.Resource),
		nullString(event.IPAddress),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// List retrieves audit events, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, actor_id, actor_email, resource, ip_address, details, created_at
		FROM audit_events
		WHERE 1 = 1
	`
	var args []any
	argIdx := 1

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e            Event
			eventType    string
			resource, ip sql.NullString
			details      []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.ActorID, &e.ActorEmail, &resource, &ip, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.Type = EventType(eventType)
		e.Resource = resource.String
		e.IPAddress = ip.String
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Details marshals v for Event.Details, returning nil on failure.
func Details(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// ClientIP returns the caller address, preferring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Nop discards events.
type Nop struct{}

func (Nop) LogEvent(context.Context, Event) error { return nil }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
