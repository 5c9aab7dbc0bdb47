package exam

import (
	"context"
	"encoding/json"
	"time"
)

// Catalog serves exam configuration and question definitions. The engine
// only reads from it.
type Catalog interface {
	GetExam(ctx context.Context, id string) (Exam, error)
	// QuestionsForExam returns questions by position, answer keys included.
	QuestionsForExam(ctx context.Context, examID string) ([]Question, error)
}

// CatalogWriter is used by seeding and admin tooling, never by the engine.
type CatalogWriter interface {
	PutExam(ctx context.Context, e Exam, questions []Question) error
}

type NewAttempt struct {
	ExamID        string
	LearnerID     string
	MaxAttempts   int
	StartedAt     time.Time
	QuestionOrder []string
}

// ResponseUpdate describes one write to the (attempt, question) response row.
// Only the parts that are set are applied; the row is created on first use.
type ResponseUpdate struct {
	AttemptID  string
	QuestionID string
	SetAnswer  bool
	Answer     json.RawMessage
	Flagged    *bool
	AddTimeSec float64
	At         time.Time
}

// GradeUpdate stores the grading outcome of a single response.
type GradeUpdate struct {
	ResponseID         string
	IsCorrect          *bool
	PointsEarned       *float64
	NeedsManualGrading bool
	Feedback           string
	GradedBy           string
}

// Score is the aggregate written when an attempt is finalized.
type Score struct {
	Points   float64
	Percent  float64
	Passed   bool
	GradedAt time.Time
}

// Ledger is the durable record of attempts and their responses.
//
// Implementations must make CreateAttempt atomic with its eligibility
// re-check and Transition a compare-and-swap on the current status.
type Ledger interface {
	CreateAttempt(ctx context.Context, in NewAttempt) (Attempt, error)
	// GetAttempt returns the attempt with its responses.
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	// ListAttempts returns attempts without responses, newest first.
	ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error)

	// Transition moves id from -> to only if it is still in from. It reports
	// false, nil when another actor already moved it.
	Transition(ctx context.Context, id string, from, to AttemptStatus, at time.Time) (bool, error)

	UpsertResponse(ctx context.Context, u ResponseUpdate) (Response, error)
	SetFocus(ctx context.Context, attemptID, questionID string, since time.Time) error
	GetResponse(ctx context.Context, id string) (Response, error)

	SaveGrades(ctx context.Context, attemptID string, updates []GradeUpdate) error
	// Finalize records the aggregate and moves a submitted or expired attempt
	// to graded. Calling it on a graded attempt only refreshes the score.
	Finalize(ctx context.Context, attemptID string, s Score) error

	ManualQueue(ctx context.Context, examID string) ([]PendingResponse, error)
}
