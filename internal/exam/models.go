package exam

import (
	"encoding/json"
	"time"
)

type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
	ExamCancelled ExamStatus = "cancelled"
	ExamArchived  ExamStatus = "archived"
)

type QuestionType string

const (
	SingleChoice QuestionType = "single_choice"
	TrueFalse    QuestionType = "true_false"
	ShortAnswer  QuestionType = "short_answer"
	Essay        QuestionType = "essay"
)

// AutoGradable reports whether answers of this type can be compared to a
// stored correct answer without a human.
func (t QuestionType) AutoGradable() bool {
	return t == SingleChoice || t == TrueFalse
}

func (t QuestionType) Valid() bool {
	switch t {
	case SingleChoice, TrueFalse, ShortAnswer, Essay:
		return true
	}
	return false
}

type Option struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label,omitempty" yaml:"label"`
}

type Question struct {
	ID            string          `json:"id"`
	ExamID        string          `json:"exam_id"`
	Type          QuestionType    `json:"type"`
	Prompt        string          `json:"prompt,omitempty"`
	Options       []Option        `json:"options,omitempty"`
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"` // absent for essay
	Points        float64         `json:"points"`
	Position      int             `json:"position"`
}

// Exam is the read-only configuration the engine works against.
// A zero AvailableFrom/AvailableUntil leaves that side of the window open.
type Exam struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Status             ExamStatus `json:"status"`
	DurationSec        int        `json:"duration_sec"`
	PassingScore       float64    `json:"passing_score"` // percent
	TotalPoints        float64    `json:"total_points"`
	MaxAttempts        int        `json:"max_attempts"`
	AvailableFrom      *time.Time `json:"available_from,omitempty"`
	AvailableUntil     *time.Time `json:"available_until,omitempty"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	ShowCorrectAnswers bool       `json:"show_correct_answers"`
	CreatedAt          int64      `json:"created_at,omitempty"`
}

func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationSec) * time.Second
}

// Attempt is one row per start in the ledger.
type Attempt struct {
	ID              string        `json:"id"`
	ExamID          string        `json:"exam_id"`
	LearnerID       string        `json:"learner_id"`
	Number          int           `json:"attempt_number"`
	Status          AttemptStatus `json:"status"`
	EndReason       EndReason     `json:"end_reason,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	SubmittedAt     *time.Time    `json:"submitted_at,omitempty"`
	QuestionOrder   []string      `json:"question_order"`
	FocusQuestionID string        `json:"focus_question_id,omitempty"`
	FocusSince      *time.Time    `json:"focus_since,omitempty"`
	Score           float64       `json:"score"`
	ScorePercent    float64       `json:"score_percent"`
	Passed          bool          `json:"passed"`
	GradedAt        *time.Time    `json:"graded_at,omitempty"`
	Responses       []Response    `json:"responses,omitempty"`
}

// Deadline is the server-side moment the attempt expires.
func (a Attempt) Deadline(e Exam) time.Time {
	return a.StartedAt.Add(e.Duration())
}

// HasQuestion reports whether questionID was dealt to this attempt.
func (a Attempt) HasQuestion(questionID string) bool {
	for _, id := range a.QuestionOrder {
		if id == questionID {
			return true
		}
	}
	return false
}

type Response struct {
	ID                 string          `json:"id"`
	AttemptID          string          `json:"attempt_id"`
	QuestionID         string          `json:"question_id"`
	Answer             json.RawMessage `json:"answer,omitempty"`
	TimeSpentSec       float64         `json:"time_spent_sec"`
	Flagged            bool            `json:"flagged"`
	IsCorrect          *bool           `json:"is_correct"`    // nil until graded
	PointsEarned       *float64        `json:"points_earned"` // nil until graded
	NeedsManualGrading bool            `json:"needs_manual_grading"`
	Feedback           string          `json:"feedback,omitempty"`
	GradedBy           string          `json:"graded_by,omitempty"`
	AnsweredAt         *time.Time      `json:"answered_at,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Answered is false for rows that only carry time or a flag.
func (r Response) Answered() bool {
	s := string(r.Answer)
	return len(r.Answer) > 0 && s != "null"
}

// Graded reports whether correctness has been decided, by machine or human.
func (r Response) Graded() bool {
	return r.PointsEarned != nil && !r.NeedsManualGrading
}

// QuestionResult is one line of the audit breakdown.
type QuestionResult struct {
	QuestionID         string          `json:"question_id"`
	ResponseID         string          `json:"response_id,omitempty"`
	Type               QuestionType    `json:"type"`
	Answer             json.RawMessage `json:"answer,omitempty"`
	MaxPoints          float64         `json:"max_points"`
	PointsEarned       *float64        `json:"points_earned"`
	IsCorrect          *bool           `json:"is_correct"`
	NeedsManualGrading bool            `json:"needs_manual_grading"`
	TimeSpentSec       float64         `json:"time_spent_sec"`
	Feedback           string          `json:"feedback,omitempty"`
}

type GradedResult struct {
	AttemptID     string           `json:"attempt_id"`
	TotalPoints   float64          `json:"total_points"`
	MaxPoints     float64          `json:"max_points"`
	ScorePercent  float64          `json:"score_percent"`
	Passed        bool             `json:"passed"`
	PendingManual int              `json:"pending_manual"`
	Provisional   bool             `json:"provisional"`
	Questions     []QuestionResult `json:"questions"`
}

// AttemptFilter narrows ListAttempts. Empty fields do not filter.
type AttemptFilter struct {
	ExamID    string
	LearnerID string
	Status    AttemptStatus
	Limit     int
	Offset    int
}

// PendingResponse is a queue entry for instructor review screens.
type PendingResponse struct {
	Response
	ExamID    string `json:"exam_id"`
	LearnerID string `json:"learner_id"`
}

type ExamStatistics struct {
	ExamID       string  `json:"exam_id"`
	Takers       int     `json:"takers"`
	GradedCount  int     `json:"graded_count"`
	AvgPercent   float64 `json:"avg_percent"`
	MinPercent   float64 `json:"min_percent"`
	MaxPercent   float64 `json:"max_percent"`
	PassCount    int     `json:"pass_count"`
	PassRate     float64 `json:"pass_rate"`
	PendingCount int     `json:"pending_manual"`
}

type HistoryEntry struct {
	AttemptID    string     `json:"attempt_id"`
	ExamID       string     `json:"exam_id"`
	ExamTitle    string     `json:"exam_title"`
	Number       int        `json:"attempt_number"`
	Score        float64    `json:"score"`
	ScorePercent float64    `json:"score_percent"`
	Passed       bool       `json:"passed"`
	EndReason    EndReason  `json:"end_reason"`
	StartedAt    time.Time  `json:"started_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	TimeSpentSec float64    `json:"time_spent_sec"`
}
