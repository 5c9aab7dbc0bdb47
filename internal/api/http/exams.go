package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assess/internal/engine"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

// GET /exams/{examID}/eligibility
// Always 200; a refusal is reported in the body with its reason.
func EligibilityHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := rbac.PrincipalFromContext(r.Context())
		d, err := eng.CanStart(r.Context(), chi.URLParam(r, "examID"), p.Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}
