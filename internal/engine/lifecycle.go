package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	"github.com/mind-engage/mindengage-assess/internal/exam"
)

// Start opens a new attempt after the eligibility gate approves it. The
// ledger re-checks the attempt limit and the single in-progress rule
// atomically with the insert.
func (e *Engine) Start(ctx context.Context, examID, learnerID string) (exam.Attempt, error) {
	unlock := e.starts.Lock(examID + "\x00" + learnerID)
	defer unlock()

	ex, err := e.catalog.GetExam(ctx, examID)
	if errors.Is(err, exam.ErrExamNotFound) {
		return exam.Attempt{}, exam.NotEligible(exam.ReasonExamNotFound)
	}
	if err != nil {
		return exam.Attempt{}, fmt.Errorf("start: %w", err)
	}
	d, err := e.decide(ctx, ex, learnerID)
	if err != nil {
		return exam.Attempt{}, err
	}
	if !d.Allowed {
		return exam.Attempt{}, exam.NotEligible(d.Reason)
	}

	qs, err := e.catalog.QuestionsForExam(ctx, examID)
	if err != nil {
		return exam.Attempt{}, fmt.Errorf("start: questions: %w", err)
	}
	order := make([]string, len(qs))
	for i, q := range qs {
		order[i] = q.ID
	}
	if ex.RandomizeQuestions {
		e.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	a, err := e.ledger.CreateAttempt(ctx, exam.NewAttempt{
		ExamID:        examID,
		LearnerID:     learnerID,
		MaxAttempts:   ex.MaxAttempts,
		StartedAt:     e.now(),
		QuestionOrder: order,
	})
	if err != nil {
		if _, ok := exam.ReasonOf(err); ok {
			return exam.Attempt{}, err
		}
		return exam.Attempt{}, fmt.Errorf("start: %w", err)
	}

	e.record(ctx, audit.NewEvent(audit.AttemptStarted, a.ID, learnerID, map[string]any{
		"exam_id": examID, "attempt_number": a.Number, "started_at": a.StartedAt,
	}))
	e.log.Info("attempt started", "attempt_id", a.ID, "exam_id", examID, "learner_id", learnerID, "number", a.Number)
	return a, nil
}

// Submit closes the attempt on behalf of the learner and grades it. Past the
// deadline it records the expiry instead. Submitting a closed attempt is a
// no-op that returns its current state. If the exam cannot be read the
// attempt stays in progress and the error is returned.
func (e *Engine) Submit(ctx context.Context, attemptID string) (exam.Attempt, error) {
	unlock := e.attempts.Lock(attemptID)
	defer unlock()

	a, err := e.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		return exam.Attempt{}, err
	}
	if a.Status != exam.StatusInProgress {
		e.log.Debug("submit on closed attempt", "attempt_id", attemptID, "status", a.Status)
		return a, nil
	}

	ex, err := e.catalog.GetExam(ctx, a.ExamID)
	if err != nil {
		// Without the deadline the close time cannot be bounded; stay active.
		e.deadlineCheckFailed(attemptID, err)
		return exam.Attempt{}, fmt.Errorf("submit %s: %w", attemptID, err)
	}
	now := e.now()
	to, at := exam.StatusSubmitted, now
	if deadline := a.Deadline(ex); !now.Before(deadline) {
		to, at = exam.StatusExpired, deadline
	}
	if err := e.closeLocked(ctx, a, to, at, a.LearnerID); err != nil {
		return exam.Attempt{}, err
	}
	return e.ledger.GetAttempt(ctx, attemptID)
}

// expireDue expires the attempt if its deadline has passed and returns the
// current state either way.
func (e *Engine) expireDue(ctx context.Context, attemptID string) (exam.Attempt, error) {
	unlock := e.attempts.Lock(attemptID)
	defer unlock()
	return e.expireDueLocked(ctx, attemptID)
}

func (e *Engine) expireDueLocked(ctx context.Context, attemptID string) (exam.Attempt, error) {
	a, err := e.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		if !errors.Is(err, exam.ErrAttemptNotFound) {
			e.deadlineCheckFailed(attemptID, err)
		}
		return exam.Attempt{}, err
	}
	if a.Status != exam.StatusInProgress {
		return a, nil
	}
	deadline, ok := e.deadlineOf(ctx, a)
	if !ok || e.now().Before(deadline) {
		return a, nil
	}
	if err := e.closeLocked(ctx, a, exam.StatusExpired, deadline, actorClock); err != nil {
		e.deadlineCheckFailed(attemptID, err)
		return a, err
	}
	return e.ledger.GetAttempt(ctx, attemptID)
}

// closeLocked moves an in-progress attempt to submitted or expired and grades
// it. Losing the status race is not an error. Grading problems are logged
// and left for the sweeper; they never undo the close.
func (e *Engine) closeLocked(ctx context.Context, a exam.Attempt, to exam.AttemptStatus, at time.Time, actor string) error {
	if err := e.flushFocusLocked(ctx, a, at); err != nil && !errors.Is(err, exam.ErrAttemptNotActive) {
		return fmt.Errorf("close %s: flush focus: %w", a.ID, err)
	}
	won, err := e.ledger.Transition(ctx, a.ID, exam.StatusInProgress, to, at)
	if err != nil {
		return fmt.Errorf("close %s: %w", a.ID, err)
	}
	if !won {
		e.log.Debug("attempt already closed", "attempt_id", a.ID, "wanted", to)
		return nil
	}

	typ := audit.AttemptSubmitted
	if to == exam.StatusExpired {
		typ = audit.AttemptExpired
	}
	e.record(ctx, audit.NewEvent(typ, a.ID, actor, map[string]any{"submitted_at": at}))
	e.log.Info("attempt closed", "attempt_id", a.ID, "status", to, "elapsed", at.Sub(a.StartedAt))

	if _, err := e.gradeLocked(ctx, a.ID); err != nil {
		e.log.Error("grading failed", "attempt_id", a.ID, "err", err)
	}
	return nil
}

// flushFocusLocked credits the focused question with the time since focus
// began, never counting past until.
func (e *Engine) flushFocusLocked(ctx context.Context, a exam.Attempt, until time.Time) error {
	if a.FocusQuestionID == "" || a.FocusSince == nil {
		return nil
	}
	elapsed := until.Sub(*a.FocusSince)
	if elapsed <= 0 {
		return nil
	}
	_, err := e.ledger.UpsertResponse(ctx, exam.ResponseUpdate{
		AttemptID:  a.ID,
		QuestionID: a.FocusQuestionID,
		AddTimeSec: elapsed.Seconds(),
		At:         until,
	})
	return err
}

// Remaining is the server-side time left on the attempt, zero once closed.
func (e *Engine) Remaining(ctx context.Context, attemptID string) (time.Duration, error) {
	a, err := e.GetAttempt(ctx, attemptID)
	if err != nil {
		return 0, err
	}
	return e.remaining(ctx, a), nil
}

func (e *Engine) remaining(ctx context.Context, a exam.Attempt) time.Duration {
	if a.Status != exam.StatusInProgress {
		return 0
	}
	deadline, ok := e.deadlineOf(ctx, a)
	if !ok {
		return 0
	}
	return max(deadline.Sub(e.now()), 0)
}

// GetAttempt returns the attempt with its responses, expiring it first if
// the deadline has passed.
func (e *Engine) GetAttempt(ctx context.Context, attemptID string) (exam.Attempt, error) {
	a, err := e.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		return exam.Attempt{}, err
	}
	if a.Status != exam.StatusInProgress {
		return a, nil
	}
	if deadline, ok := e.deadlineOf(ctx, a); ok && !e.now().Before(deadline) {
		return e.expireDue(ctx, attemptID)
	}
	return a, nil
}

// Session is what a learner needs to (re)render an attempt.
type Session struct {
	Attempt      exam.Attempt    `json:"attempt"`
	Questions    []exam.Question `json:"questions"`
	RemainingSec float64         `json:"remaining_sec"`
	Deadline     time.Time       `json:"deadline"`
}

// Session returns the attempt, its questions in the dealt order with answer
// keys removed, and the remaining time. Clients resume from this after a
// reconnect.
func (e *Engine) Session(ctx context.Context, attemptID string) (Session, error) {
	a, err := e.GetAttempt(ctx, attemptID)
	if err != nil {
		return Session{}, err
	}
	ex, err := e.catalog.GetExam(ctx, a.ExamID)
	if err != nil {
		return Session{}, fmt.Errorf("session: %w", err)
	}
	qs, err := e.catalog.QuestionsForExam(ctx, a.ExamID)
	if err != nil {
		return Session{}, fmt.Errorf("session: questions: %w", err)
	}
	byID := make(map[string]exam.Question, len(qs))
	for _, q := range qs {
		q.CorrectAnswer = nil
		byID[q.ID] = q
	}
	s := Session{Attempt: a, Deadline: a.Deadline(ex)}
	for _, id := range a.QuestionOrder {
		if q, ok := byID[id]; ok {
			s.Questions = append(s.Questions, q)
		}
	}
	s.RemainingSec = e.remaining(ctx, a).Seconds()
	return s, nil
}
