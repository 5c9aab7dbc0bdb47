package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

// Decision is the answer of the eligibility gate.
type Decision struct {
	Allowed bool        `json:"allowed"`
	Reason  exam.Reason `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r exam.Reason) Decision {
	return Decision{Reason: r, Message: r.Message()}
}

// CanStart reports whether learnerID may start examID right now. It has no
// side effects apart from expiring an overdue attempt that would otherwise
// count as in progress.
func (e *Engine) CanStart(ctx context.Context, examID, learnerID string) (Decision, error) {
	ex, err := e.catalog.GetExam(ctx, examID)
	if errors.Is(err, exam.ErrExamNotFound) {
		return deny(exam.ReasonExamNotFound), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("eligibility: %w", err)
	}
	return e.decide(ctx, ex, learnerID)
}

// decide runs the checks in order: window, status, attempt count, in progress.
func (e *Engine) decide(ctx context.Context, ex exam.Exam, learnerID string) (Decision, error) {
	now := e.now()
	if ex.AvailableFrom != nil && now.Before(*ex.AvailableFrom) {
		return deny(exam.ReasonWindowNotOpen), nil
	}
	if ex.AvailableUntil != nil && now.After(*ex.AvailableUntil) {
		return deny(exam.ReasonWindowClosed), nil
	}
	if ex.Status != exam.ExamPublished {
		return deny(exam.ReasonNotPublished), nil
	}

	prior, err := e.ledger.ListAttempts(ctx, exam.AttemptFilter{ExamID: ex.ID, LearnerID: learnerID})
	if err != nil {
		return Decision{}, fmt.Errorf("eligibility: list attempts: %w", err)
	}
	if ex.MaxAttempts > 0 && len(prior) >= ex.MaxAttempts {
		return deny(exam.ReasonAttemptsExhausted), nil
	}
	for _, a := range prior {
		if a.Status != exam.StatusInProgress {
			continue
		}
		if !now.Before(a.Deadline(ex)) {
			cur, err := e.expireDue(ctx, a.ID)
			if err != nil {
				return Decision{}, err
			}
			if cur.Status != exam.StatusInProgress {
				continue
			}
		}
		return deny(exam.ReasonAlreadyInProgress), nil
	}
	return allow(), nil
}
