package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

// lockActive takes the attempt lock and checks the attempt is still open.
// An attempt found past its deadline is expired and reported as not active.
func (e *Engine) lockActive(ctx context.Context, attemptID string, exclusive bool) (exam.Attempt, func(), error) {
	var unlock func()
	if exclusive {
		unlock = e.attempts.Lock(attemptID)
	} else {
		unlock = e.attempts.RLock(attemptID)
	}
	a, err := e.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		unlock()
		return exam.Attempt{}, nil, err
	}
	if a.Status != exam.StatusInProgress {
		unlock()
		return exam.Attempt{}, nil, e.notActive(attemptID, a.Status)
	}
	if deadline, ok := e.deadlineOf(ctx, a); ok && !e.now().Before(deadline) {
		if exclusive {
			_, err = e.expireDueLocked(ctx, attemptID)
			unlock()
		} else {
			unlock()
			_, err = e.expireDue(ctx, attemptID)
		}
		if err != nil {
			return exam.Attempt{}, nil, err
		}
		return exam.Attempt{}, nil, e.notActive(attemptID, exam.StatusExpired)
	}
	return a, unlock, nil
}

// notActive is the expected "too late" outcome, so it only logs at debug.
func (e *Engine) notActive(attemptID string, status exam.AttemptStatus) error {
	e.log.Debug("write on closed attempt", "attempt_id", attemptID, "status", status)
	return exam.ErrAttemptNotActive
}

// RecordResponse stores the learner's answer for one question, replacing any
// earlier answer. Writes to different questions of one attempt run in
// parallel.
func (e *Engine) RecordResponse(ctx context.Context, attemptID, questionID string, answer json.RawMessage) (exam.Response, error) {
	if len(answer) > 0 && !json.Valid(answer) {
		return exam.Response{}, exam.ErrInvalidAnswer
	}
	a, unlock, err := e.lockActive(ctx, attemptID, false)
	if err != nil {
		return exam.Response{}, err
	}
	defer unlock()
	if !a.HasQuestion(questionID) {
		return exam.Response{}, exam.ErrQuestionNotInAttempt
	}
	r, err := e.ledger.UpsertResponse(ctx, exam.ResponseUpdate{
		AttemptID:  attemptID,
		QuestionID: questionID,
		SetAnswer:  true,
		Answer:     answer,
		At:         e.now(),
	})
	if errors.Is(err, exam.ErrAttemptNotActive) {
		return exam.Response{}, e.notActive(attemptID, "")
	}
	return r, err
}

// FlagQuestion marks or unmarks a question for later review.
func (e *Engine) FlagQuestion(ctx context.Context, attemptID, questionID string, flagged bool) (exam.Response, error) {
	a, unlock, err := e.lockActive(ctx, attemptID, false)
	if err != nil {
		return exam.Response{}, err
	}
	defer unlock()
	if !a.HasQuestion(questionID) {
		return exam.Response{}, exam.ErrQuestionNotInAttempt
	}
	r, err := e.ledger.UpsertResponse(ctx, exam.ResponseUpdate{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Flagged:    &flagged,
		At:         e.now(),
	})
	if errors.Is(err, exam.ErrAttemptNotActive) {
		return exam.Response{}, e.notActive(attemptID, "")
	}
	return r, err
}

// Focus moves the learner's focus to questionID. The time spent on the
// previously focused question, measured on the server, is added to its
// response first. An empty questionID only flushes.
func (e *Engine) Focus(ctx context.Context, attemptID, questionID string) error {
	a, unlock, err := e.lockActive(ctx, attemptID, true)
	if err != nil {
		return err
	}
	defer unlock()
	if questionID != "" && !a.HasQuestion(questionID) {
		return exam.ErrQuestionNotInAttempt
	}
	now := e.now()
	if err := e.flushFocusLocked(ctx, a, now); err != nil {
		if errors.Is(err, exam.ErrAttemptNotActive) {
			return e.notActive(attemptID, "")
		}
		return err
	}
	err = e.ledger.SetFocus(ctx, attemptID, questionID, now)
	if errors.Is(err, exam.ErrAttemptNotActive) {
		return e.notActive(attemptID, "")
	}
	return err
}
