package exam

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Catalog, CatalogWriter and Ledger in process memory.
// One mutex guards everything, which makes every operation trivially atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	exams     map[string]Exam
	questions map[string][]Question
	attempts  map[string]*Attempt
	responses map[string]map[string]*Response // attemptID -> questionID -> response
	byID      map[string]*Response
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		exams:     map[string]Exam{},
		questions: map[string][]Question{},
		attempts:  map[string]*Attempt{},
		responses: map[string]map[string]*Response{},
		byID:      map[string]*Response{},
	}
}

func (m *MemoryStore) PutExam(_ context.Context, e Exam, qs []Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	cp := make([]Question, len(qs))
	copy(cp, qs)
	for i := range cp {
		cp[i].ExamID = e.ID
	}
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Position < cp[j].Position })
	m.questions[e.ID] = cp
	return nil
}

func (m *MemoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, ErrExamNotFound
	}
	return e, nil
}

func (m *MemoryStore) QuestionsForExam(_ context.Context, examID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.exams[examID]; !ok {
		return nil, ErrExamNotFound
	}
	qs := m.questions[examID]
	out := make([]Question, len(qs))
	copy(out, qs)
	return out, nil
}

func (m *MemoryStore) CreateAttempt(_ context.Context, in NewAttempt) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[in.ExamID]; !ok {
		return Attempt{}, ErrExamNotFound
	}
	count, maxNum, active := 0, 0, false
	for _, a := range m.attempts {
		if a.ExamID != in.ExamID || a.LearnerID != in.LearnerID {
			continue
		}
		count++
		if a.Number > maxNum {
			maxNum = a.Number
		}
		active = active || a.Status == StatusInProgress
	}
	if in.MaxAttempts > 0 && count >= in.MaxAttempts {
		return Attempt{}, NotEligible(ReasonAttemptsExhausted)
	}
	if active {
		return Attempt{}, NotEligible(ReasonAlreadyInProgress)
	}
	a := &Attempt{
		ID:            uuid.NewString(),
		ExamID:        in.ExamID,
		LearnerID:     in.LearnerID,
		Number:        maxNum + 1,
		Status:        StatusInProgress,
		StartedAt:     in.StartedAt,
		QuestionOrder: append([]string(nil), in.QuestionOrder...),
	}
	m.attempts[a.ID] = a
	m.responses[a.ID] = map[string]*Response{}
	return cloneAttempt(a, nil), nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return cloneAttempt(a, m.sortedResponses(a)), nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, f AttemptFilter) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if f.ExamID != "" && a.ExamID != f.ExamID {
			continue
		}
		if f.LearnerID != "" && a.LearnerID != f.LearnerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, cloneAttempt(a, nil))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].Number > out[j].Number
	})
	return page(out, f.Offset, f.Limit), nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from, to AttemptStatus, at time.Time) (bool, error) {
	if !from.CanTransition(to) {
		return false, ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return false, ErrAttemptNotFound
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	if from == StatusInProgress {
		t := at
		a.SubmittedAt = &t
		a.EndReason = EndReasonFor(to)
		a.FocusQuestionID, a.FocusSince = "", nil
	}
	return true, nil
}

func (m *MemoryStore) UpsertResponse(_ context.Context, u ResponseUpdate) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[u.AttemptID]
	if !ok {
		return Response{}, ErrAttemptNotFound
	}
	if a.Status != StatusInProgress {
		return Response{}, ErrAttemptNotActive
	}
	r, ok := m.responses[a.ID][u.QuestionID]
	if !ok {
		r = &Response{ID: uuid.NewString(), AttemptID: a.ID, QuestionID: u.QuestionID}
		m.responses[a.ID][u.QuestionID] = r
		m.byID[r.ID] = r
	}
	if u.SetAnswer {
		r.Answer = append(r.Answer[:0:0], u.Answer...)
		t := u.At
		r.AnsweredAt = &t
	}
	if u.Flagged != nil {
		r.Flagged = *u.Flagged
	}
	if u.AddTimeSec > 0 {
		r.TimeSpentSec += u.AddTimeSec
	}
	r.UpdatedAt = u.At
	return cloneResponse(r), nil
}

func (m *MemoryStore) SetFocus(_ context.Context, attemptID, questionID string, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.Status != StatusInProgress {
		return ErrAttemptNotActive
	}
	a.FocusQuestionID = questionID
	if questionID == "" {
		a.FocusSince = nil
		return nil
	}
	t := since
	a.FocusSince = &t
	return nil
}

func (m *MemoryStore) GetResponse(_ context.Context, id string) (Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return Response{}, ErrResponseNotFound
	}
	return cloneResponse(r), nil
}

func (m *MemoryStore) SaveGrades(_ context.Context, attemptID string, updates []GradeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[attemptID]; !ok {
		return ErrAttemptNotFound
	}
	for _, u := range updates {
		r, ok := m.byID[u.ResponseID]
		if !ok || r.AttemptID != attemptID {
			return ErrResponseNotFound
		}
		r.IsCorrect = cloneBool(u.IsCorrect)
		r.PointsEarned = cloneFloat(u.PointsEarned)
		r.NeedsManualGrading = u.NeedsManualGrading
		r.Feedback = u.Feedback
		r.GradedBy = u.GradedBy
	}
	return nil
}

func (m *MemoryStore) Finalize(_ context.Context, attemptID string, s Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	switch a.Status {
	case StatusSubmitted, StatusExpired, StatusGraded:
	default:
		return ErrAttemptNotTerminal
	}
	a.Status = StatusGraded
	a.Score, a.ScorePercent, a.Passed = s.Points, s.Percent, s.Passed
	t := s.GradedAt
	a.GradedAt = &t
	return nil
}

func (m *MemoryStore) ManualQueue(_ context.Context, examID string) ([]PendingResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PendingResponse
	for _, a := range m.attempts {
		if examID != "" && a.ExamID != examID {
			continue
		}
		for _, r := range m.responses[a.ID] {
			if r.NeedsManualGrading {
				out = append(out, PendingResponse{Response: cloneResponse(r), ExamID: a.ExamID, LearnerID: a.LearnerID})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) sortedResponses(a *Attempt) []Response {
	rs := m.responses[a.ID]
	out := make([]Response, 0, len(rs))
	for _, qid := range a.QuestionOrder {
		if r, ok := rs[qid]; ok {
			out = append(out, cloneResponse(r))
		}
	}
	return out
}

func cloneAttempt(a *Attempt, rs []Response) Attempt {
	c := *a
	c.QuestionOrder = append([]string(nil), a.QuestionOrder...)
	c.SubmittedAt = cloneTime(a.SubmittedAt)
	c.FocusSince = cloneTime(a.FocusSince)
	c.GradedAt = cloneTime(a.GradedAt)
	c.Responses = rs
	return c
}

func cloneResponse(r *Response) Response {
	c := *r
	c.Answer = append(r.Answer[:0:0], r.Answer...)
	c.IsCorrect = cloneBool(r.IsCorrect)
	c.PointsEarned = cloneFloat(r.PointsEarned)
	c.AnsweredAt = cloneTime(r.AnsweredAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func page(in []Attempt, offset, limit int) []Attempt {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
