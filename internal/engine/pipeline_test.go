package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	"github.com/mind-engage/mindengage-assess/internal/exam"
)

func essayExam(id string) (exam.Exam, []exam.Question) {
	e := publishedExam(id)
	e.TotalPoints = 30
	e.PassingScore = 60
	return e, []exam.Question{choice("q1", 10, `"B"`, 1), essay("q2", 20, 2)}
}

func submittedEssayAttempt(t *testing.T, f *fixture, examID string) exam.Attempt {
	t.Helper()
	ctx := context.Background()
	e, qs := essayExam(examID)
	f.putExam(t, e, qs...)
	a, err := f.eng.Start(ctx, examID, "learner-1")
	require.NoError(t, err)
	_, err = f.eng.RecordResponse(ctx, a.ID, "q1", json.RawMessage(`"B"`))
	require.NoError(t, err)
	_, err = f.eng.RecordResponse(ctx, a.ID, "q2", json.RawMessage(`"Because the deadline is enforced on the server."`))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	done, err := f.eng.Submit(ctx, a.ID)
	require.NoError(t, err)
	return done
}

func TestManualGradingRevisesScore(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := submittedEssayAttempt(t, f, "ex-d")
		assert.Equal(t, exam.StatusGraded, a.Status)

		essayResp := responseFor(t, a, "q2")
		assert.True(t, essayResp.NeedsManualGrading)
		assert.Nil(t, essayResp.PointsEarned)
		assert.Nil(t, essayResp.IsCorrect)

		res, err := f.eng.Result(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, res.TotalPoints)
		assert.Equal(t, 30.0, res.MaxPoints)
		assert.Equal(t, 1, res.PendingManual)
		assert.True(t, res.Provisional)
		assert.False(t, res.Passed)

		queue, err := f.eng.ManualGradingQueue(ctx, "ex-d")
		require.NoError(t, err)
		require.Len(t, queue, 1)
		assert.Equal(t, essayResp.ID, queue[0].ID)
		assert.Equal(t, "learner-1", queue[0].LearnerID)

		res, err = f.eng.ManualGrade(ctx, ManualGradeInput{
			AttemptID:    a.ID,
			ResponseID:   essayResp.ID,
			IsCorrect:    true,
			PointsEarned: 15,
			Feedback:     "good reasoning",
			GradedBy:     "instructor-1",
		})
		require.NoError(t, err)
		assert.Equal(t, 25.0, res.TotalPoints)
		assert.Equal(t, 83.33, res.ScorePercent)
		assert.True(t, res.Passed)
		assert.Zero(t, res.PendingManual)
		assert.False(t, res.Provisional)

		got, err := f.eng.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 25.0, got.Score)
		graded := responseFor(t, got, "q2")
		assert.False(t, graded.NeedsManualGrading)
		assert.Equal(t, "instructor-1", graded.GradedBy)
		assert.Equal(t, "good reasoning", graded.Feedback)

		queue, err = f.eng.ManualGradingQueue(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, queue)

		_, err = f.eng.ManualGrade(ctx, ManualGradeInput{AttemptID: a.ID, ResponseID: essayResp.ID, PointsEarned: 20})
		assert.ErrorIs(t, err, exam.ErrNotPendingManual)
		assert.Equal(t, 1, f.audit.count(audit.ResponseManuallyGraded))
	})
}

func TestManualGradeValidation(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := submittedEssayAttempt(t, f, "ex-v")
		essayID := responseFor(t, a, "q2").ID
		choiceID := responseFor(t, a, "q1").ID

		tests := []struct {
			name string
			in   ManualGradeInput
			want error
		}{
			{"auto graded response", ManualGradeInput{AttemptID: a.ID, ResponseID: choiceID, PointsEarned: 1}, exam.ErrNotPendingManual},
			{"above max", ManualGradeInput{AttemptID: a.ID, ResponseID: essayID, PointsEarned: 21}, exam.ErrInvalidPoints},
			{"negative", ManualGradeInput{AttemptID: a.ID, ResponseID: essayID, PointsEarned: -1}, exam.ErrInvalidPoints},
			{"unknown response", ManualGradeInput{AttemptID: a.ID, ResponseID: "r-missing", PointsEarned: 1}, exam.ErrResponseNotFound},
			{"unknown attempt", ManualGradeInput{AttemptID: "a-missing", ResponseID: essayID, PointsEarned: 1}, exam.ErrAttemptNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.eng.ManualGrade(ctx, tt.in)
				assert.ErrorIs(t, err, tt.want)
			})
		}

		e := publishedExam("ex-open")
		e.MaxAttempts = 0
		f.putExam(t, e, essay("qe", 5, 1))
		open, err := f.eng.Start(ctx, "ex-open", "learner-1")
		require.NoError(t, err)
		_, err = f.eng.ManualGrade(ctx, ManualGradeInput{AttemptID: open.ID, ResponseID: "x", PointsEarned: 1})
		assert.ErrorIs(t, err, exam.ErrAttemptNotTerminal)
		_, err = f.eng.Result(ctx, open.ID)
		assert.ErrorIs(t, err, exam.ErrAttemptNotTerminal)
	})
}

func TestRegradeIsIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := submittedEssayAttempt(t, f, "ex-g")

		first, err := f.eng.Grade(ctx, a.ID)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
		second, err := f.eng.Grade(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		viaResult, err := f.eng.Result(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, first, viaResult)
		assert.Equal(t, 1, f.audit.count(audit.AttemptGraded))
	})
}

func TestMalformedAnswerGoesToManualQueue(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		e := publishedExam("ex-m")
		e.TotalPoints = 0 // falls back to the sum of question points
		noKey := choice("q2", 4, ``, 2)
		noKey.CorrectAnswer = nil
		f.putExam(t, e, choice("q1", 6, `"B"`, 1), noKey)

		a, err := f.eng.Start(ctx, "ex-m", "learner-1")
		require.NoError(t, err)
		_, err = f.eng.RecordResponse(ctx, a.ID, "q1", json.RawMessage(`"B"`))
		require.NoError(t, err)
		_, err = f.eng.RecordResponse(ctx, a.ID, "q2", json.RawMessage(`"A"`))
		require.NoError(t, err)
		done, err := f.eng.Submit(ctx, a.ID)
		require.NoError(t, err)

		assert.Equal(t, exam.StatusGraded, done.Status)
		assert.True(t, responseFor(t, done, "q2").NeedsManualGrading)
		res, err := f.eng.Result(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, res.MaxPoints)
		assert.Equal(t, 60.0, res.ScorePercent)
		assert.True(t, res.Provisional)
	})
}

func TestBlankEssaysWaitForManualGrading(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		e := publishedExam("ex-be")
		e.TotalPoints = 40
		f.putExam(t, e, essay("q1", 20, 1), essay("q2", 20, 2))

		a, err := f.eng.Start(ctx, "ex-be", "learner-1")
		require.NoError(t, err)
		_, err = f.eng.RecordResponse(ctx, a.ID, "q1", json.RawMessage(`null`))
		require.NoError(t, err)
		_, err = f.eng.FlagQuestion(ctx, a.ID, "q2", true)
		require.NoError(t, err)
		done, err := f.eng.Submit(ctx, a.ID)
		require.NoError(t, err)

		for _, qid := range []string{"q1", "q2"} {
			r := responseFor(t, done, qid)
			assert.True(t, r.NeedsManualGrading, qid)
			assert.Nil(t, r.PointsEarned, qid)
			assert.Nil(t, r.IsCorrect, qid)
		}

		res, err := f.eng.Result(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, res.PendingManual)
		assert.True(t, res.Provisional)

		queue, err := f.eng.ManualGradingQueue(ctx, "ex-be")
		require.NoError(t, err)
		assert.Len(t, queue, 2)
	})
}

func TestManualGradeRejectsResponseOfOtherAttempt(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		a := submittedEssayAttempt(t, f, "ex-oa")
		other := submittedEssayAttempt(t, f, "ex-ob")

		_, err := f.eng.ManualGrade(ctx, ManualGradeInput{
			AttemptID:    a.ID,
			ResponseID:   responseFor(t, other, "q2").ID,
			PointsEarned: 5,
		})
		assert.ErrorIs(t, err, exam.ErrResponseNotFound)
	})
}

func TestUnansweredQuestionsScoreZero(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		e := publishedExam("ex-u")
		e.TotalPoints = 20
		f.putExam(t, e, choice("q1", 10, `"B"`, 1), choice("q2", 10, `"C"`, 2))

		a, err := f.eng.Start(ctx, "ex-u", "learner-1")
		require.NoError(t, err)
		_, err = f.eng.FlagQuestion(ctx, a.ID, "q2", true)
		require.NoError(t, err)
		_, err = f.eng.Submit(ctx, a.ID)
		require.NoError(t, err)

		res, err := f.eng.Result(ctx, a.ID)
		require.NoError(t, err)
		assert.Zero(t, res.TotalPoints)
		assert.Zero(t, res.PendingManual)
		require.Len(t, res.Questions, 2)
		assert.Nil(t, res.Questions[0].PointsEarned)
		require.NotNil(t, res.Questions[1].PointsEarned)
		assert.Zero(t, *res.Questions[1].PointsEarned)
		assert.False(t, res.Passed)
	})
}

func TestReviewHonorsShowCorrectAnswers(t *testing.T) {
	for _, show := range []bool{false, true} {
		eachBackend(t, func(t *testing.T, f *fixture) {
			ctx := context.Background()
			e := publishedExam("ex-rv")
			e.ShowCorrectAnswers = show
			f.putExam(t, e, choice("q1", 10, `"B"`, 1))

			a, err := f.eng.Start(ctx, "ex-rv", "learner-1")
			require.NoError(t, err)
			_, err = f.eng.Review(ctx, a.ID)
			require.ErrorIs(t, err, exam.ErrAttemptNotTerminal)

			_, err = f.eng.RecordResponse(ctx, a.ID, "q1", json.RawMessage(`"A"`))
			require.NoError(t, err)
			_, err = f.eng.FlagQuestion(ctx, a.ID, "q1", true)
			require.NoError(t, err)
			_, err = f.eng.Submit(ctx, a.ID)
			require.NoError(t, err)

			rv, err := f.eng.Review(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, show, rv.ShowCorrect)
			require.Len(t, rv.Items, 1)
			item := rv.Items[0]
			assert.Nil(t, item.Question.CorrectAnswer)
			assert.True(t, item.Flagged)
			require.NotNil(t, item.IsCorrect)
			assert.False(t, *item.IsCorrect)
			if show {
				assert.JSONEq(t, `"B"`, string(item.CorrectAnswer))
			} else {
				assert.Nil(t, item.CorrectAnswer)
			}
		})
	}
}

func TestStatisticsAndHistory(t *testing.T) {
	eachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		e := publishedExam("ex-st")
		e.MaxAttempts = 3
		f.putExam(t, e, choice("q1", 10, `"B"`, 1))

		take := func(learner, answer string, spent time.Duration) {
			a, err := f.eng.Start(ctx, "ex-st", learner)
			require.NoError(t, err)
			_, err = f.eng.RecordResponse(ctx, a.ID, "q1", json.RawMessage(answer))
			require.NoError(t, err)
			f.clock.Advance(spent)
			_, err = f.eng.Submit(ctx, a.ID)
			require.NoError(t, err)
		}
		take("learner-1", `"B"`, time.Minute)
		take("learner-1", `"C"`, 2*time.Minute)
		take("learner-2", `"B"`, 3*time.Minute)

		st, err := f.eng.ExamStatistics(ctx, "ex-st")
		require.NoError(t, err)
		assert.Equal(t, 2, st.Takers)
		assert.Equal(t, 3, st.GradedCount)
		assert.Equal(t, 66.67, st.AvgPercent)
		assert.Equal(t, 0.0, st.MinPercent)
		assert.Equal(t, 100.0, st.MaxPercent)
		assert.Equal(t, 2, st.PassCount)
		assert.Equal(t, 66.67, st.PassRate)

		_, err = f.eng.ExamStatistics(ctx, "ex-none")
		assert.ErrorIs(t, err, exam.ErrExamNotFound)

		hist, err := f.eng.LearnerHistory(ctx, "learner-1")
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, 2, hist[0].Number)
		assert.Equal(t, 0.0, hist[0].ScorePercent)
		assert.Equal(t, 120.0, hist[0].TimeSpentSec)
		assert.Equal(t, "Exam ex-st", hist[0].ExamTitle)
		assert.Equal(t, 1, hist[1].Number)
		assert.True(t, hist[1].Passed)
	})
}
