package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assess/internal/engine"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

// POST /attempts/{attemptID}/grade
// Re-runs automatic grading. Existing decisions are kept, so this is safe
// to repeat.
func GradeAttemptHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := eng.Grade(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type manualGradeReq struct {
	PointsEarned *float64 `json:"points_earned" validate:"required,gte=0"`
	IsCorrect    *bool    `json:"is_correct"`
	Feedback     string   `json:"feedback" validate:"max=4000"`
}

// POST /attempts/{attemptID}/responses/{responseID}/grade
func ManualGradeHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req manualGradeReq
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		p, _ := rbac.PrincipalFromContext(r.Context())
		correct := *req.PointsEarned > 0
		if req.IsCorrect != nil {
			correct = *req.IsCorrect
		}
		res, err := eng.ManualGrade(r.Context(), engine.ManualGradeInput{
			AttemptID:    chi.URLParam(r, "attemptID"),
			ResponseID:   chi.URLParam(r, "responseID"),
			IsCorrect:    correct,
			PointsEarned: *req.PointsEarned,
			Feedback:     strings.TrimSpace(req.Feedback),
			GradedBy:     p.Subject,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /grading/queue?exam_id=...
func GradingQueueHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := eng.ManualGradingQueue(r.Context(), strings.TrimSpace(r.URL.Query().Get("exam_id")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []exam.PendingResponse{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
