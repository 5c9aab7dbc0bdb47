package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	"github.com/mind-engage/mindengage-assess/internal/db"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type backend interface {
	exam.Catalog
	exam.CatalogWriter
	exam.Ledger
}

func backends() map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend { return exam.NewMemoryStore() },
		"sqlite": func(t *testing.T) backend {
			sqlDB, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { sqlDB.Close() })
			return exam.NewSQLStore(sqlDB, db.DriverSQLite)
		},
	}
}

// eachBackend runs fn once per ledger implementation.
func eachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Helper()
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, mk(t)))
		})
	}
}

type fixture struct {
	eng   *Engine
	clock *testutil.FakeClock
	store backend
	audit *memAudit
}

func newFixture(t *testing.T, b backend, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{clock: testutil.NewFakeClock(t0), store: b, audit: &memAudit{}}
	base := []Option{
		WithClock(f.clock),
		WithAuditLog(f.audit),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.eng = New(b, b, append(base, opts...)...)
	return f
}

func (f *fixture) putExam(t *testing.T, e exam.Exam, qs ...exam.Question) {
	t.Helper()
	require.NoError(t, f.store.PutExam(context.Background(), e, qs))
}

func publishedExam(id string) exam.Exam {
	return exam.Exam{
		ID:           id,
		Title:        "Exam " + id,
		Status:       exam.ExamPublished,
		DurationSec:  600,
		PassingScore: 50,
		TotalPoints:  10,
		MaxAttempts:  1,
	}
}

func choice(id string, points float64, key string, pos int) exam.Question {
	return exam.Question{
		ID:            id,
		Type:          exam.SingleChoice,
		Prompt:        "Pick one",
		Options:       []exam.Option{{ID: "A", Label: "a"}, {ID: "B", Label: "b"}, {ID: "C", Label: "c"}},
		CorrectAnswer: json.RawMessage(key),
		Points:        points,
		Position:      pos,
	}
}

func essay(id string, points float64, pos int) exam.Question {
	return exam.Question{ID: id, Type: exam.Essay, Prompt: "Explain", Points: points, Position: pos}
}

func responseFor(t *testing.T, a exam.Attempt, questionID string) exam.Response {
	t.Helper()
	for _, r := range a.Responses {
		if r.QuestionID == questionID {
			return r
		}
	}
	t.Fatalf("no response for %s", questionID)
	return exam.Response{}
}

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memAudit) Append(_ context.Context, e audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) types() []audit.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func (m *memAudit) count(t audit.EventType) int {
	n := 0
	for _, typ := range m.types() {
		if typ == t {
			n++
		}
	}
	return n
}
