package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/grading"
)

// Grade grades every response that has not been graded yet, then
// recomputes the aggregate and moves the attempt to graded. Running it again
// with unchanged responses yields the same result.
func (e *Engine) Grade(ctx context.Context, attemptID string) (exam.GradedResult, error) {
	unlock := e.attempts.Lock(attemptID)
	defer unlock()
	return e.gradeLocked(ctx, attemptID)
}

func (e *Engine) gradeLocked(ctx context.Context, attemptID string) (exam.GradedResult, error) {
	a, err := e.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		return exam.GradedResult{}, err
	}
	if !a.Status.Terminal() {
		return exam.GradedResult{}, exam.ErrAttemptNotTerminal
	}
	ex, qs, err := e.examAndQuestions(ctx, a.ExamID)
	if err != nil {
		return exam.GradedResult{}, fmt.Errorf("grade %s: %w", attemptID, err)
	}

	var updates []exam.GradeUpdate
	for _, r := range a.Responses {
		if r.PointsEarned != nil || r.NeedsManualGrading {
			continue
		}
		q, ok := qs[r.QuestionID]
		if !ok {
			updates = append(updates, exam.GradeUpdate{ResponseID: r.ID, NeedsManualGrading: true, Feedback: "question no longer in catalog"})
			continue
		}
		res, err := e.grader.Grade(ctx, grading.QuestionFrom(q), r.Answer)
		if err != nil {
			return exam.GradedResult{}, fmt.Errorf("grade %s: %w", attemptID, err)
		}
		updates = append(updates, gradeUpdate(r.ID, res))
	}
	if len(updates) > 0 {
		if err := e.ledger.SaveGrades(ctx, attemptID, updates); err != nil {
			return exam.GradedResult{}, fmt.Errorf("grade %s: save: %w", attemptID, err)
		}
		if a, err = e.ledger.GetAttempt(ctx, attemptID); err != nil {
			return exam.GradedResult{}, err
		}
	}

	res := aggregate(ex, qs, a)
	prev := a.Status
	err = e.ledger.Finalize(ctx, attemptID, exam.Score{
		Points:   res.TotalPoints,
		Percent:  res.ScorePercent,
		Passed:   res.Passed,
		GradedAt: e.now(),
	})
	if err != nil {
		return exam.GradedResult{}, fmt.Errorf("grade %s: finalize: %w", attemptID, err)
	}
	if prev != exam.StatusGraded || a.Score != res.TotalPoints {
		e.record(ctx, audit.NewEvent(audit.AttemptGraded, attemptID, actorGrader, map[string]any{
			"score": res.TotalPoints, "score_percent": res.ScorePercent, "passed": res.Passed,
			"pending_manual": res.PendingManual,
		}))
		e.log.Info("attempt graded", "attempt_id", attemptID, "score", res.TotalPoints,
			"percent", res.ScorePercent, "passed", res.Passed, "pending_manual", res.PendingManual)
	}
	return res, nil
}

func gradeUpdate(responseID string, res grading.Result) exam.GradeUpdate {
	u := exam.GradeUpdate{ResponseID: responseID, Feedback: strings.Join(res.Feedback, "; ")}
	if res.NeedsManual {
		u.NeedsManualGrading = true
		return u
	}
	correct, points := res.Correct, res.Points
	u.IsCorrect, u.PointsEarned, u.GradedBy = &correct, &points, actorGrader
	return u
}

// aggregate is a pure function of the exam, its questions and the recorded
// responses.
func aggregate(ex exam.Exam, qs map[string]exam.Question, a exam.Attempt) exam.GradedResult {
	res := exam.GradedResult{AttemptID: a.ID}
	byQ := make(map[string]exam.Response, len(a.Responses))
	for _, r := range a.Responses {
		byQ[r.QuestionID] = r
	}

	var questionMax float64
	for _, qid := range a.QuestionOrder {
		q := qs[qid]
		questionMax += q.Points
		line := exam.QuestionResult{QuestionID: qid, Type: q.Type, MaxPoints: q.Points}
		if r, ok := byQ[qid]; ok {
			line.ResponseID = r.ID
			line.Answer = r.Answer
			line.PointsEarned = r.PointsEarned
			line.IsCorrect = r.IsCorrect
			line.NeedsManualGrading = r.NeedsManualGrading
			line.TimeSpentSec = r.TimeSpentSec
			line.Feedback = r.Feedback
			if r.PointsEarned != nil {
				res.TotalPoints += *r.PointsEarned
			}
			if r.NeedsManualGrading {
				res.PendingManual++
			}
		}
		res.Questions = append(res.Questions, line)
	}

	res.MaxPoints = ex.TotalPoints
	if res.MaxPoints <= 0 {
		res.MaxPoints = questionMax
	}
	if res.MaxPoints > 0 {
		res.ScorePercent = math.Round(res.TotalPoints/res.MaxPoints*100*100) / 100
	}
	res.Passed = res.ScorePercent >= ex.PassingScore
	res.Provisional = res.PendingManual > 0
	return res
}

// Result returns the graded result of a closed attempt. An attempt whose
// grading never completed is graded first.
func (e *Engine) Result(ctx context.Context, attemptID string) (exam.GradedResult, error) {
	a, err := e.GetAttempt(ctx, attemptID)
	if err != nil {
		return exam.GradedResult{}, err
	}
	switch a.Status {
	case exam.StatusInProgress:
		return exam.GradedResult{}, exam.ErrAttemptNotTerminal
	case exam.StatusSubmitted, exam.StatusExpired:
		return e.Grade(ctx, attemptID)
	}
	ex, qs, err := e.examAndQuestions(ctx, a.ExamID)
	if err != nil {
		return exam.GradedResult{}, fmt.Errorf("result %s: %w", attemptID, err)
	}
	return aggregate(ex, qs, a), nil
}

type ManualGradeInput struct {
	AttemptID    string
	ResponseID   string
	IsCorrect    bool
	PointsEarned float64
	Feedback     string
	GradedBy     string
}

// ManualGrade records a human decision on a response waiting for one and
// re-aggregates the attempt score.
func (e *Engine) ManualGrade(ctx context.Context, in ManualGradeInput) (exam.GradedResult, error) {
	unlock := e.attempts.Lock(in.AttemptID)
	defer unlock()

	a, err := e.ledger.GetAttempt(ctx, in.AttemptID)
	if err != nil {
		return exam.GradedResult{}, err
	}
	if !a.Status.Terminal() {
		return exam.GradedResult{}, exam.ErrAttemptNotTerminal
	}
	r, err := e.ledger.GetResponse(ctx, in.ResponseID)
	if err != nil {
		return exam.GradedResult{}, err
	}
	if r.AttemptID != a.ID {
		return exam.GradedResult{}, exam.ErrResponseNotFound
	}
	if !r.NeedsManualGrading {
		return exam.GradedResult{}, exam.ErrNotPendingManual
	}
	_, qs, err := e.examAndQuestions(ctx, a.ExamID)
	if err != nil {
		return exam.GradedResult{}, fmt.Errorf("manual grade: %w", err)
	}
	maxPoints := math.Inf(1)
	if q, ok := qs[r.QuestionID]; ok {
		maxPoints = q.Points
	}
	if math.IsNaN(in.PointsEarned) || in.PointsEarned < 0 || in.PointsEarned > maxPoints {
		return exam.GradedResult{}, exam.ErrInvalidPoints
	}

	correct, points := in.IsCorrect, in.PointsEarned
	err = e.ledger.SaveGrades(ctx, a.ID, []exam.GradeUpdate{{
		ResponseID:   r.ID,
		IsCorrect:    &correct,
		PointsEarned: &points,
		Feedback:     in.Feedback,
		GradedBy:     in.GradedBy,
	}})
	if err != nil {
		return exam.GradedResult{}, fmt.Errorf("manual grade: %w", err)
	}
	e.record(ctx, audit.NewEvent(audit.ResponseManuallyGraded, a.ID, in.GradedBy, map[string]any{
		"response_id": r.ID, "question_id": r.QuestionID, "points_earned": points, "is_correct": correct,
	}))
	return e.gradeLocked(ctx, a.ID)
}

// ReviewItem is one question of a closed attempt as shown back to the learner.
type ReviewItem struct {
	Question      exam.Question   `json:"question"`
	Answer        json.RawMessage `json:"answer,omitempty"`
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"`
	IsCorrect     *bool           `json:"is_correct"`
	PointsEarned  *float64        `json:"points_earned"`
	Pending       bool            `json:"pending_manual"`
	Flagged       bool            `json:"flagged"`
	TimeSpentSec  float64         `json:"time_spent_sec"`
	Feedback      string          `json:"feedback,omitempty"`
}

type Review struct {
	Attempt     exam.Attempt      `json:"attempt"`
	Result      exam.GradedResult `json:"result"`
	ShowCorrect bool              `json:"show_correct_answers"`
	Items       []ReviewItem      `json:"items"`
}

// Review walks a closed attempt question by question. Correct answers are
// included only when the exam allows showing them.
func (e *Engine) Review(ctx context.Context, attemptID string) (Review, error) {
	res, err := e.Result(ctx, attemptID)
	if err != nil {
		return Review{}, err
	}
	a, err := e.ledger.GetAttempt(ctx, attemptID)
	if err != nil {
		return Review{}, err
	}
	ex, qs, err := e.examAndQuestions(ctx, a.ExamID)
	if err != nil {
		return Review{}, fmt.Errorf("review %s: %w", attemptID, err)
	}
	byQ := make(map[string]exam.Response, len(a.Responses))
	for _, r := range a.Responses {
		byQ[r.QuestionID] = r
	}
	rv := Review{Attempt: a, Result: res, ShowCorrect: ex.ShowCorrectAnswers}
	for _, qid := range a.QuestionOrder {
		q, ok := qs[qid]
		if !ok {
			continue
		}
		item := ReviewItem{Question: q}
		item.Question.CorrectAnswer = nil
		if ex.ShowCorrectAnswers {
			item.CorrectAnswer = q.CorrectAnswer
		}
		if r, ok := byQ[qid]; ok {
			item.Answer = r.Answer
			item.IsCorrect = r.IsCorrect
			item.PointsEarned = r.PointsEarned
			item.Pending = r.NeedsManualGrading
			item.Flagged = r.Flagged
			item.TimeSpentSec = r.TimeSpentSec
			item.Feedback = r.Feedback
		}
		rv.Items = append(rv.Items, item)
	}
	return rv, nil
}

func (e *Engine) examAndQuestions(ctx context.Context, examID string) (exam.Exam, map[string]exam.Question, error) {
	ex, err := e.catalog.GetExam(ctx, examID)
	if err != nil {
		return exam.Exam{}, nil, err
	}
	list, err := e.catalog.QuestionsForExam(ctx, examID)
	if err != nil {
		return exam.Exam{}, nil, err
	}
	qs := make(map[string]exam.Question, len(list))
	for _, q := range list {
		qs[q.ID] = q
	}
	return ex, qs, nil
}

// IsBenign reports errors that are expected outcomes of races rather than
// failures.
func IsBenign(err error) bool {
	return errors.Is(err, exam.ErrAttemptNotActive)
}
