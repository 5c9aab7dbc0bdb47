package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

// Q is the part of a question needed for grading.
type Q struct {
	Type   exam.QuestionType
	Points float64
	Key    json.RawMessage // stored correct answer, raw JSON
}

// QuestionFrom builds a grading view of a catalog question.
func QuestionFrom(q exam.Question) Q {
	return Q{Type: q.Type, Points: q.Points, Key: q.CorrectAnswer}
}

// Result is the outcome of grading a single question response.
type Result struct {
	Points      float64 // points awarded automatically
	MaxPoints   float64 // the question's max points
	Correct     bool
	NeedsManual bool     // true if a human has to decide
	Feedback    []string // optional notes
}

var (
	errMalformedAnswer = errors.New("answer is not valid JSON")
	errMissingKey      = errors.New("question has no answer key")
)

// Strategy grades a single question type.
type Strategy interface {
	Grade(ctx context.Context, q Q, answer json.RawMessage) (Result, error)
}

// Grader routes by question type to the correct Strategy. It only returns
// an error when ctx is done; anything a strategy cannot decide comes back
// with NeedsManual set.
type Grader interface {
	Grade(ctx context.Context, q Q, answer json.RawMessage) (Result, error)
}

type defaultGrader struct {
	strategies map[exam.QuestionType]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, answer json.RawMessage) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	// Blank answers to subjective questions still go to a human.
	if isBlank(answer) && q.Type.AutoGradable() {
		return Result{MaxPoints: q.Points, Feedback: []string{"no answer"}}, nil
	}
	s, ok := g.strategies[q.Type]
	if !ok {
		return manual(q, "no strategy available"), nil
	}
	res, err := s.Grade(ctx, q, answer)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return manual(q, "grading failed: "+err.Error()), nil
	}
	return res, nil
}

// Engine options

type Option func(*config)

type config struct {
	ShortAnswerMatch bool // auto-accept short answers matching the key
	MaxEditDistance  int  // tolerance for short answer matching
	extra            map[exam.QuestionType]Strategy
}

// WithShortAnswerMatching lets short answers that match the stored key
// (after normalization, within maxEdit edits) score full points. Anything
// else still goes to a human.
func WithShortAnswerMatching(maxEdit int) Option {
	return func(c *config) {
		c.ShortAnswerMatch = true
		c.MaxEditDistance = maxEdit
	}
}

// WithStrategy installs or replaces the strategy for one question type.
func WithStrategy(t exam.QuestionType, s Strategy) Option {
	return func(c *config) {
		if c.extra == nil {
			c.extra = map[exam.QuestionType]Strategy{}
		}
		c.extra[t] = s
	}
}

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	var short Strategy = manualStrategy{note: "manual grading required"}
	if cfg.ShortAnswerMatch {
		short = shortAnswerStrategy{maxEdit: cfg.MaxEditDistance}
	}
	g := &defaultGrader{
		strategies: map[exam.QuestionType]Strategy{
			exam.SingleChoice: exactStrategy{},
			exam.TrueFalse:    exactStrategy{},
			exam.ShortAnswer:  short,
			exam.Essay:        manualStrategy{note: "manual grading required"},
		},
	}
	for t, s := range cfg.extra {
		g.strategies[t] = s
	}
	return g
}

// --- Strategies ---

// exactStrategy compares the decoded answer with the decoded key, so
// formatting differences in the JSON do not matter.
type exactStrategy struct{}

func (exactStrategy) Grade(_ context.Context, q Q, answer json.RawMessage) (Result, error) {
	res := Result{MaxPoints: q.Points}
	if isBlank(q.Key) {
		return res, errMissingKey
	}
	want, err := decode(q.Key)
	if err != nil {
		return res, fmt.Errorf("answer key: %w", err)
	}
	got, err := decode(answer)
	if err != nil {
		return res, errMalformedAnswer
	}
	if reflect.DeepEqual(want, got) {
		res.Points = q.Points
		res.Correct = true
	}
	return res, nil
}

type shortAnswerStrategy struct{ maxEdit int }

func (s shortAnswerStrategy) Grade(_ context.Context, q Q, answer json.RawMessage) (Result, error) {
	var resp string
	if err := json.Unmarshal(answer, &resp); err != nil {
		return Result{}, errMalformedAnswer
	}
	var keys []string
	if err := json.Unmarshal(q.Key, &keys); err != nil {
		var one string
		if err := json.Unmarshal(q.Key, &one); err != nil {
			return manual(q, "no usable answer key"), nil
		}
		keys = []string{one}
	}
	norm := normalize(resp)
	for _, k := range keys {
		nk := normalize(k)
		if nk == norm || (s.maxEdit > 0 && levenshtein(nk, norm) <= s.maxEdit) {
			return Result{Points: q.Points, MaxPoints: q.Points, Correct: true}, nil
		}
	}
	return manual(q, "no key match"), nil
}

type manualStrategy struct{ note string }

func (s manualStrategy) Grade(_ context.Context, q Q, _ json.RawMessage) (Result, error) {
	return manual(q, s.note), nil
}

// helpers

func manual(q Q, note string) Result {
	return Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{note}}
}

func decode(raw json.RawMessage) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errMalformedAnswer
	}
	return v, nil
}

func isBlank(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
