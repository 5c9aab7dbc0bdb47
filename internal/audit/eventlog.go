package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	AttemptStarted         EventType = "attempt.started"
	AttemptSubmitted       EventType = "attempt.submitted"
	AttemptExpired         EventType = "attempt.expired"
	AttemptGraded          EventType = "attempt.graded"
	ResponseManuallyGraded EventType = "response.manually_graded"
)

// Event is one append-only audit record. Key is the attempt ID. CreatedAt is
// Unix seconds; zero means the repository stamps it on append.
type Event struct {
	Seq       int64           `json:"seq"`
	Actor     string          `json:"actor,omitempty"`
	Type      EventType       `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Log records state changes of attempts.
type Log interface {
	Append(ctx context.Context, e Event) error
}

// NewEvent marshals data into an event. Marshal failures leave Data empty.
func NewEvent(t EventType, key, actor string, data any) Event {
	e := Event{Type: t, Key: key, Actor: actor}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			e.Data = b
		}
	}
	return e
}

type EventRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db, now: time.Now} }

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	data := string(e.Data)
	if data == "" {
		data = "{}"
	}
	created := e.CreatedAt
	if created == 0 {
		created = r.now().Unix()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (actor, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.Actor, string(e.Type), e.Key, data, created)
	if err != nil {
		return fmt.Errorf("audit: append %s: %w", e.Type, err)
	}
	return nil
}

// List returns the events recorded under key, oldest first.
func (r *EventRepo) List(ctx context.Context, key string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, actor, typ, key, data, created_at FROM event_log WHERE key=$1 ORDER BY seq`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e         Event
			typ, data string
		)
		if err := rows.Scan(&e.Seq, &e.Actor, &typ, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Nop discards events.
type Nop struct{}

func (Nop) Append(context.Context, Event) error { return nil }
