package http

import (
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-assess/internal/engine"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

const maxPageSize = 200

// GET /attempts?exam_id=...&learner_id=...&status=...&limit=50&offset=0
// Callers without attempt:view-all only ever see their own attempts;
// learner_id is forced to the caller.
func ListAttemptsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := exam.AttemptFilter{
			ExamID:    strings.TrimSpace(q.Get("exam_id")),
			LearnerID: strings.TrimSpace(q.Get("learner_id")),
			Status:    exam.AttemptStatus(strings.TrimSpace(q.Get("status"))),
			Limit:     min(parseIntDefault(q.Get("limit"), 50), maxPageSize),
			Offset:    parseIntDefault(q.Get("offset"), 0),
		}
		if f.Status != "" && !f.Status.Valid() {
			writeError(w, r, &badRequest{msg: "unknown status " + string(f.Status)})
			return
		}
		if !rbac.Can(r.Context(), rbac.PermAttemptViewAll) {
			p, _ := rbac.PrincipalFromContext(r.Context())
			f.LearnerID = p.Subject
		}

		list, err := eng.ListAttempts(r.Context(), f)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []exam.Attempt{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
