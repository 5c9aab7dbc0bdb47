// Package engine runs exam attempts: the eligibility gate, the attempt
// lifecycle with its server-side deadline, response collection and the
// grading pipeline. Every method is safe for concurrent use.
package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/grading"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

const (
	actorClock  = "clock"
	actorGrader = "auto"
)

type Engine struct {
	catalog exam.Catalog
	ledger  exam.Ledger
	grader  grading.Grader
	clock   Clock
	log     *slog.Logger
	audit   audit.Log
	shuffle func(n int, swap func(i, j int))

	attempts lockTable // per attempt
	starts   lockTable // per (exam, learner)

	deadlineFailures atomic.Int64
}

type Option func(*Engine)

func WithClock(c Clock) Option                       { return func(e *Engine) { e.clock = c } }
func WithLogger(l *slog.Logger) Option               { return func(e *Engine) { e.log = l } }
func WithGrader(g grading.Grader) Option             { return func(e *Engine) { e.grader = g } }
func WithAuditLog(l audit.Log) Option                { return func(e *Engine) { e.audit = l } }
func WithShuffle(f func(int, func(int, int))) Option { return func(e *Engine) { e.shuffle = f } }

func New(catalog exam.Catalog, ledger exam.Ledger, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		ledger:  ledger,
		grader:  grading.NewDefaultGrader(),
		clock:   systemClock{},
		log:     slog.Default(),
		audit:   audit.Nop{},
		shuffle: rand.Shuffle,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// now is the server clock at the precision the ledger stores.
func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Millisecond)
}

// DeadlineFailures counts deadline checks that could not be completed.
func (e *Engine) DeadlineFailures() int64 { return e.deadlineFailures.Load() }

// deadlineOf resolves the attempt deadline. When the exam cannot be read the
// attempt is treated as still running and the failure is raised as an alert.
func (e *Engine) deadlineOf(ctx context.Context, a exam.Attempt) (time.Time, bool) {
	ex, err := e.catalog.GetExam(ctx, a.ExamID)
	if err != nil {
		e.deadlineCheckFailed(a.ID, err)
		return time.Time{}, false
	}
	return a.Deadline(ex), true
}

func (e *Engine) deadlineCheckFailed(attemptID string, err error) {
	e.deadlineFailures.Add(1)
	e.log.Error("deadline check failed", "attempt_id", attemptID, "err", err, "alert", true)
}

func (e *Engine) record(ctx context.Context, ev audit.Event) {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = e.now().Unix()
	}
	if err := e.audit.Append(ctx, ev); err != nil {
		e.log.Warn("audit append failed", "type", ev.Type, "key", ev.Key, "err", err)
	}
}
