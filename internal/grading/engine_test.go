package grading

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

func TestDefaultGrader(t *testing.T) {
	g := NewDefaultGrader()
	ctx := context.Background()

	tests := []struct {
		name        string
		q           Q
		answer      string
		points      float64
		correct     bool
		needsManual bool
	}{
		{"single choice correct", Q{Type: exam.SingleChoice, Points: 2, Key: json.RawMessage(`"b"`)}, `"b"`, 2, true, false},
		{"single choice wrong", Q{Type: exam.SingleChoice, Points: 2, Key: json.RawMessage(`"b"`)}, `"c"`, 0, false, false},
		{"object key ignores formatting", Q{Type: exam.SingleChoice, Points: 1, Key: json.RawMessage(`{"id":"a","v":1}`)}, `{ "v": 1.0, "id": "a" }`, 1, true, false},
		{"true false", Q{Type: exam.TrueFalse, Points: 1, Key: json.RawMessage(`true`)}, `true`, 1, true, false},
		{"true false string is not bool", Q{Type: exam.TrueFalse, Points: 1, Key: json.RawMessage(`true`)}, `"true"`, 0, false, false},
		{"no answer", Q{Type: exam.SingleChoice, Points: 3, Key: json.RawMessage(`"a"`)}, ``, 0, false, false},
		{"null answer", Q{Type: exam.TrueFalse, Points: 3, Key: json.RawMessage(`false`)}, `null`, 0, false, false},
		{"blank essay is manual", Q{Type: exam.Essay, Points: 3}, `null`, 0, false, true},
		{"missing essay answer is manual", Q{Type: exam.Essay, Points: 3}, ``, 0, false, true},
		{"blank short answer is manual", Q{Type: exam.ShortAnswer, Points: 1, Key: json.RawMessage(`"paris"`)}, `null`, 0, false, true},
		{"malformed answer", Q{Type: exam.SingleChoice, Points: 1, Key: json.RawMessage(`"a"`)}, `{"a":`, 0, false, true},
		{"missing key", Q{Type: exam.SingleChoice, Points: 1}, `"a"`, 0, false, true},
		{"essay", Q{Type: exam.Essay, Points: 5}, `"long text"`, 0, false, true},
		{"short answer is manual by default", Q{Type: exam.ShortAnswer, Points: 1, Key: json.RawMessage(`"paris"`)}, `"Paris"`, 0, false, true},
		{"unknown type", Q{Type: "matrix", Points: 1}, `"x"`, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.Grade(ctx, tt.q, json.RawMessage(tt.answer))
			require.NoError(t, err)
			assert.Equal(t, tt.points, res.Points)
			assert.Equal(t, tt.correct, res.Correct)
			assert.Equal(t, tt.needsManual, res.NeedsManual)
			assert.Equal(t, tt.q.Points, res.MaxPoints)
		})
	}
}

func TestShortAnswerMatching(t *testing.T) {
	g := NewDefaultGrader(WithShortAnswerMatching(1))
	q := Q{Type: exam.ShortAnswer, Points: 2, Key: json.RawMessage(`["Paris", "City of Light"]`)}

	res, err := g.Grade(context.Background(), q, json.RawMessage(`"  paris! "`))
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 2.0, res.Points)

	res, err = g.Grade(context.Background(), q, json.RawMessage(`"city of lght"`))
	require.NoError(t, err)
	assert.True(t, res.Correct)

	res, err = g.Grade(context.Background(), q, json.RawMessage(`"London"`))
	require.NoError(t, err)
	assert.True(t, res.NeedsManual)
	assert.Zero(t, res.Points)

	res, err = g.Grade(context.Background(), q, json.RawMessage(`null`))
	require.NoError(t, err)
	assert.True(t, res.NeedsManual)
}

type fixedStrategy struct{ pts float64 }

func (s fixedStrategy) Grade(_ context.Context, q Q, _ json.RawMessage) (Result, error) {
	return Result{Points: s.pts, MaxPoints: q.Points}, nil
}

func TestWithStrategyOverrides(t *testing.T) {
	g := NewDefaultGrader(WithStrategy(exam.Essay, fixedStrategy{pts: 4}))
	res, err := g.Grade(context.Background(), Q{Type: exam.Essay, Points: 5}, json.RawMessage(`"text"`))
	require.NoError(t, err)
	assert.False(t, res.NeedsManual)
	assert.Equal(t, 4.0, res.Points)
}

func TestGradeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDefaultGrader().Grade(ctx, Q{Type: exam.TrueFalse, Key: json.RawMessage(`true`)}, json.RawMessage(`true`))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, "hello world", normalize("  Hello,   World! "))
}
