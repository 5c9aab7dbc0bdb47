package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assess/internal/engine"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

// GET /exams/{examID}/statistics
func ExamStatisticsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := eng.ExamStatistics(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// GET /learners/{learnerID}/history
// Learners may only read their own history.
func LearnerHistoryHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID := chi.URLParam(r, "learnerID")
		p, _ := rbac.PrincipalFromContext(r.Context())
		if learnerID != p.Subject && !rbac.Can(r.Context(), rbac.PermHistoryViewAll) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
			return
		}
		list, err := eng.LearnerHistory(r.Context(), learnerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []exam.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
