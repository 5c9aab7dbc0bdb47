package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

func (e *Engine) ListAttempts(ctx context.Context, f exam.AttemptFilter) ([]exam.Attempt, error) {
	return e.ledger.ListAttempts(ctx, f)
}

// ManualGradingQueue lists responses waiting for a human, oldest first.
// An empty examID lists every exam.
func (e *Engine) ManualGradingQueue(ctx context.Context, examID string) ([]exam.PendingResponse, error) {
	return e.ledger.ManualQueue(ctx, examID)
}

// ExamStatistics summarizes graded attempts of one exam.
func (e *Engine) ExamStatistics(ctx context.Context, examID string) (exam.ExamStatistics, error) {
	if _, err := e.catalog.GetExam(ctx, examID); err != nil {
		return exam.ExamStatistics{}, err
	}
	all, err := e.ledger.ListAttempts(ctx, exam.AttemptFilter{ExamID: examID})
	if err != nil {
		return exam.ExamStatistics{}, fmt.Errorf("statistics: %w", err)
	}
	pending, err := e.ledger.ManualQueue(ctx, examID)
	if err != nil {
		return exam.ExamStatistics{}, fmt.Errorf("statistics: %w", err)
	}

	st := exam.ExamStatistics{ExamID: examID, PendingCount: len(pending)}
	learners := map[string]struct{}{}
	var sum float64
	for _, a := range all {
		learners[a.LearnerID] = struct{}{}
		if a.Status != exam.StatusGraded {
			continue
		}
		if st.GradedCount == 0 {
			st.MinPercent, st.MaxPercent = a.ScorePercent, a.ScorePercent
		}
		st.GradedCount++
		sum += a.ScorePercent
		st.MinPercent = math.Min(st.MinPercent, a.ScorePercent)
		st.MaxPercent = math.Max(st.MaxPercent, a.ScorePercent)
		if a.Passed {
			st.PassCount++
		}
	}
	st.Takers = len(learners)
	if st.GradedCount > 0 {
		st.AvgPercent = round2(sum / float64(st.GradedCount))
		st.PassRate = round2(float64(st.PassCount) / float64(st.GradedCount) * 100)
	}
	return st, nil
}

// LearnerHistory lists a learner's graded attempts across exams, newest first.
func (e *Engine) LearnerHistory(ctx context.Context, learnerID string) ([]exam.HistoryEntry, error) {
	attempts, err := e.ledger.ListAttempts(ctx, exam.AttemptFilter{LearnerID: learnerID, Status: exam.StatusGraded})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	titles := map[string]string{}
	out := make([]exam.HistoryEntry, 0, len(attempts))
	for _, a := range attempts {
		title, ok := titles[a.ExamID]
		if !ok {
			if ex, err := e.catalog.GetExam(ctx, a.ExamID); err == nil {
				title = ex.Title
			}
			titles[a.ExamID] = title
		}
		h := exam.HistoryEntry{
			AttemptID:    a.ID,
			ExamID:       a.ExamID,
			ExamTitle:    title,
			Number:       a.Number,
			Score:        a.Score,
			ScorePercent: a.ScorePercent,
			Passed:       a.Passed,
			EndReason:    a.EndReason,
			StartedAt:    a.StartedAt,
			SubmittedAt:  a.SubmittedAt,
		}
		if a.SubmittedAt != nil {
			h.TimeSpentSec = a.SubmittedAt.Sub(a.StartedAt).Seconds()
		}
		out = append(out, h)
	}
	return out, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
