package exam

import (
	"errors"
	"fmt"
)

var (
	ErrExamNotFound         = errors.New("exam not found")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrResponseNotFound     = errors.New("response not found")
	ErrAttemptNotActive     = errors.New("attempt not active")
	ErrAttemptNotTerminal   = errors.New("attempt not submitted yet")
	ErrQuestionNotInAttempt = errors.New("question not in attempt")
	ErrNotPendingManual     = errors.New("response is not awaiting manual grading")
	ErrInvalidPoints        = errors.New("points out of range")
	ErrInvalidAnswer        = errors.New("answer is not valid JSON")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNotEligible          = errors.New("not eligible to start")
)

// Reason explains a rejected start. Values are stable API strings.
type Reason string

const (
	ReasonExamNotFound      Reason = "exam_not_found"
	ReasonWindowNotOpen     Reason = "window_not_open"
	ReasonWindowClosed      Reason = "window_closed"
	ReasonNotPublished      Reason = "not_published"
	ReasonAttemptsExhausted Reason = "attempts_exhausted"
	ReasonAlreadyInProgress Reason = "already_in_progress"
)

func (r Reason) Message() string {
	switch r {
	case ReasonExamNotFound:
		return "exam not found"
	case ReasonWindowNotOpen:
		return "exam window has not opened yet"
	case ReasonWindowClosed:
		return "exam window is closed"
	case ReasonNotPublished:
		return "exam is not published"
	case ReasonAttemptsExhausted:
		return "attempts exhausted"
	case ReasonAlreadyInProgress:
		return "an attempt is already in progress"
	}
	return string(r)
}

type NotEligibleError struct {
	Reason Reason
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("not eligible: %s", e.Reason.Message())
}

func (e *NotEligibleError) Unwrap() error { return ErrNotEligible }

// NotEligible builds the error returned when a start is rejected.
func NotEligible(r Reason) error { return &NotEligibleError{Reason: r} }

// ReasonOf extracts the rejection reason, if err carries one.
func ReasonOf(err error) (Reason, bool) {
	var ne *NotEligibleError
	if errors.As(err, &ne) {
		return ne.Reason, true
	}
	return "", false
}
