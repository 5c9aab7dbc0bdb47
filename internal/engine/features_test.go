package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	"github.com/mind-engage/mindengage-assess/internal/exam"
)

// TestAttemptFeatures executes the attempt feature scenarios via godog.
func TestAttemptFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name: "attempts",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			initializeScenario(t, sc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("features", "attempt.feature")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

type attemptState struct {
	f         *fixture
	exam      exam.Exam
	questions []exam.Question
	attemptID string
	lastErr   error
}

func initializeScenario(t *testing.T, sc *godog.ScenarioContext) {
	s := &attemptState{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.f = newFixture(t, exam.NewMemoryStore())
		s.exam, s.questions, s.attemptID, s.lastErr = exam.Exam{}, nil, "", nil
		return ctx, nil
	})

	sc.Step(`^an exam "([^"]+)" lasting (\d+) seconds with max attempts (\d+) and passing score (\d+)$`, s.givenExam)
	sc.Step(`^a single choice question "([^"]+)" worth (\d+) points with answer "([^"]+)"$`, s.givenChoice)
	sc.Step(`^an essay question "([^"]+)" worth (\d+) points$`, s.givenEssay)
	sc.Step(`^learner "([^"]+)" starts the exam$`, s.learnerStarts)
	sc.Step(`^(\d+) seconds pass$`, s.secondsPass)
	sc.Step(`^the learner answers "([^"]+)" with "([^"]*)"$`, s.learnerAnswers)
	sc.Step(`^the learner submits$`, s.learnerSubmits)
	sc.Step(`^the deadline sweep runs$`, s.sweepRuns)
	sc.Step(`^an instructor awards (\d+) points for "([^"]+)"$`, s.instructorAwards)
	sc.Step(`^the attempt status is "([^"]+)"$`, s.statusIs)
	sc.Step(`^the attempt ended by "([^"]+)"$`, s.endedBy)
	sc.Step(`^the attempt lasted (\d+) seconds$`, s.lasted)
	sc.Step(`^the attempt was closed exactly once$`, s.closedOnce)
	sc.Step(`^the score is (\d+(?:\.\d+)?) points and (\d+(?:\.\d+)?) percent$`, s.scoreIs)
	sc.Step(`^the attempt passed$`, s.passed)
	sc.Step(`^the start is rejected with reason "([^"]+)"$`, s.rejectedWith)
	sc.Step(`^learner "([^"]+)" has (\d+) attempts$`, s.attemptCount)
	sc.Step(`^question "([^"]+)" awaits manual grading$`, s.awaitsManual)
}

func (s *attemptState) publish() error {
	var total float64
	for _, q := range s.questions {
		total += q.Points
	}
	s.exam.TotalPoints = total
	return s.f.store.PutExam(context.Background(), s.exam, s.questions)
}

func (s *attemptState) givenExam(id string, seconds, maxAttempts, passing int) error {
	s.exam = exam.Exam{
		ID:           id,
		Title:        id,
		Status:       exam.ExamPublished,
		DurationSec:  seconds,
		MaxAttempts:  maxAttempts,
		PassingScore: float64(passing),
	}
	return s.publish()
}

func (s *attemptState) givenChoice(id string, points int, answer string) error {
	key, _ := json.Marshal(answer)
	s.questions = append(s.questions, choice(id, float64(points), string(key), len(s.questions)+1))
	return s.publish()
}

func (s *attemptState) givenEssay(id string, points int) error {
	s.questions = append(s.questions, essay(id, float64(points), len(s.questions)+1))
	return s.publish()
}

func (s *attemptState) learnerStarts(learner string) error {
	a, err := s.f.eng.Start(context.Background(), s.exam.ID, learner)
	s.lastErr = err
	if err == nil {
		s.attemptID = a.ID
	}
	return nil
}

func (s *attemptState) secondsPass(n int) error {
	s.f.clock.Advance(time.Duration(n) * time.Second)
	return nil
}

func (s *attemptState) learnerAnswers(questionID, value string) error {
	raw, _ := json.Marshal(value)
	_, err := s.f.eng.RecordResponse(context.Background(), s.attemptID, questionID, raw)
	return err
}

func (s *attemptState) learnerSubmits() error {
	_, err := s.f.eng.Submit(context.Background(), s.attemptID)
	return err
}

func (s *attemptState) sweepRuns() error {
	_, err := NewSweeper(s.f.eng, time.Second, 2).SweepOnce(context.Background())
	return err
}

func (s *attemptState) instructorAwards(points int, questionID string) error {
	a, err := s.f.eng.GetAttempt(context.Background(), s.attemptID)
	if err != nil {
		return err
	}
	for _, r := range a.Responses {
		if r.QuestionID == questionID {
			_, err := s.f.eng.ManualGrade(context.Background(), ManualGradeInput{
				AttemptID:    a.ID,
				ResponseID:   r.ID,
				IsCorrect:    points > 0,
				PointsEarned: float64(points),
				GradedBy:     "instructor",
			})
			return err
		}
	}
	return fmt.Errorf("no response for %s", questionID)
}

func (s *attemptState) attempt() (exam.Attempt, error) {
	return s.f.eng.GetAttempt(context.Background(), s.attemptID)
}

func (s *attemptState) statusIs(want string) error {
	a, err := s.attempt()
	if err != nil {
		return err
	}
	if string(a.Status) != want {
		return fmt.Errorf("status %q, want %q", a.Status, want)
	}
	return nil
}

func (s *attemptState) endedBy(want string) error {
	a, err := s.attempt()
	if err != nil {
		return err
	}
	if string(a.EndReason) != want {
		return fmt.Errorf("end reason %q, want %q", a.EndReason, want)
	}
	return nil
}

func (s *attemptState) lasted(seconds int) error {
	a, err := s.attempt()
	if err != nil {
		return err
	}
	if a.SubmittedAt == nil {
		return fmt.Errorf("attempt %s is still open", a.ID)
	}
	if got := a.SubmittedAt.Sub(a.StartedAt); got != time.Duration(seconds)*time.Second {
		return fmt.Errorf("lasted %s, want %ds", got, seconds)
	}
	return nil
}

func (s *attemptState) closedOnce() error {
	n := s.f.audit.count(audit.AttemptExpired) + s.f.audit.count(audit.AttemptSubmitted)
	if n != 1 {
		return fmt.Errorf("closed %d times", n)
	}
	return nil
}

func (s *attemptState) scoreIs(points, percent float64) error {
	res, err := s.f.eng.Result(context.Background(), s.attemptID)
	if err != nil {
		return err
	}
	if res.TotalPoints != points || res.ScorePercent != percent {
		return fmt.Errorf("score %.2f (%.2f%%), want %.2f (%.2f%%)", res.TotalPoints, res.ScorePercent, points, percent)
	}
	return nil
}

func (s *attemptState) passed() error {
	res, err := s.f.eng.Result(context.Background(), s.attemptID)
	if err != nil {
		return err
	}
	if !res.Passed {
		return fmt.Errorf("attempt did not pass with %.2f%%", res.ScorePercent)
	}
	return nil
}

func (s *attemptState) rejectedWith(reason string) error {
	r, ok := exam.ReasonOf(s.lastErr)
	if !ok {
		return fmt.Errorf("start was not rejected: %v", s.lastErr)
	}
	if string(r) != reason {
		return fmt.Errorf("reason %q, want %q", r, reason)
	}
	return nil
}

func (s *attemptState) attemptCount(learner string, n int) error {
	list, err := s.f.eng.ListAttempts(context.Background(), exam.AttemptFilter{ExamID: s.exam.ID, LearnerID: learner})
	if err != nil {
		return err
	}
	if len(list) != n {
		return fmt.Errorf("%d attempts, want %d", len(list), n)
	}
	return nil
}

func (s *attemptState) awaitsManual(questionID string) error {
	queue, err := s.f.eng.ManualGradingQueue(context.Background(), s.exam.ID)
	if err != nil {
		return err
	}
	for _, p := range queue {
		if p.QuestionID == questionID {
			return nil
		}
	}
	return fmt.Errorf("%s is not waiting for manual grading", questionID)
}
