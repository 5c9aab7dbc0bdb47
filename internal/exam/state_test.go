package exam

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttemptTransitions(t *testing.T) {
	tests := []struct {
		from, to AttemptStatus
		ok       bool
	}{
		{StatusInProgress, StatusSubmitted, true},
		{StatusInProgress, StatusExpired, true},
		{StatusInProgress, StatusGraded, false},
		{StatusSubmitted, StatusGraded, true},
		{StatusExpired, StatusGraded, true},
		{StatusSubmitted, StatusExpired, false},
		{StatusExpired, StatusSubmitted, false},
		{StatusGraded, StatusInProgress, false},
		{StatusGraded, StatusSubmitted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, AttemptStatus("paused").Valid())
	assert.Equal(t, EndExpired, EndReasonFor(StatusExpired))
	assert.Equal(t, EndSubmitted, EndReasonFor(StatusSubmitted))
}

func TestResponseAnswered(t *testing.T) {
	assert.False(t, Response{}.Answered())
	assert.False(t, Response{Answer: json.RawMessage(`null`)}.Answered())
	assert.True(t, Response{Answer: json.RawMessage(`""`)}.Answered())

	pts := 0.0
	assert.False(t, Response{PointsEarned: &pts, NeedsManualGrading: true}.Graded())
	assert.True(t, Response{PointsEarned: &pts}.Graded())
}

func TestReasonOf(t *testing.T) {
	err := fmt.Errorf("start: %w", NotEligible(ReasonWindowClosed))
	r, ok := ReasonOf(err)
	assert.True(t, ok)
	assert.Equal(t, ReasonWindowClosed, r)
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Contains(t, err.Error(), "exam window is closed")

	_, ok = ReasonOf(ErrAttemptNotActive)
	assert.False(t, ok)
}
