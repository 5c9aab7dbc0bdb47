package exam

type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusExpired    AttemptStatus = "expired"
	StatusGraded     AttemptStatus = "graded"
)

// EndReason records which actor closed the attempt. It survives the move
// to graded, where Status alone no longer tells the two paths apart.
type EndReason string

const (
	EndSubmitted EndReason = "submitted"
	EndExpired   EndReason = "expired"
)

var transitions = map[AttemptStatus][]AttemptStatus{
	StatusInProgress: {StatusSubmitted, StatusExpired},
	StatusSubmitted:  {StatusGraded},
	StatusExpired:    {StatusGraded},
}

// CanTransition reports whether s -> to is an edge of the attempt lifecycle.
func (s AttemptStatus) CanTransition(to AttemptStatus) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal is true once the learner can no longer change anything.
func (s AttemptStatus) Terminal() bool {
	return s == StatusSubmitted || s == StatusExpired || s == StatusGraded
}

func (s AttemptStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusSubmitted, StatusExpired, StatusGraded:
		return true
	}
	return false
}

// EndReasonFor maps the closing status to the reason kept on the row.
func EndReasonFor(to AttemptStatus) EndReason {
	if to == StatusExpired {
		return EndExpired
	}
	return EndSubmitted
}
