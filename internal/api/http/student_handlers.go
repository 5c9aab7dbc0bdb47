package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assess/internal/engine"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

// ownedAttempt loads the attempt named in the URL. Attempts of other
// learners look missing to callers without attempt:view-all.
func ownedAttempt(eng *engine.Engine, w http.ResponseWriter, r *http.Request) (exam.Attempt, bool) {
	a, err := eng.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, r, err)
		return exam.Attempt{}, false
	}
	p, _ := rbac.PrincipalFromContext(r.Context())
	if a.LearnerID != p.Subject && !rbac.Can(r.Context(), rbac.PermAttemptViewAll) {
		writeError(w, r, exam.ErrAttemptNotFound)
		return exam.Attempt{}, false
	}
	return a, true
}

// POST /exams/{examID}/attempts
func StartAttemptHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := rbac.PrincipalFromContext(r.Context())
		a, err := eng.Start(r.Context(), chi.URLParam(r, "examID"), p.Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s, err := eng.Session(r.Context(), a.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/attempts/"+a.ID)
		writeJSON(w, http.StatusCreated, s)
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownedAttempt(eng, w, r)
		if !ok {
			return
		}
		s, err := eng.Session(r.Context(), a.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

type recordResponseReq struct {
	Answer json.RawMessage `json:"answer" validate:"required"`
}

// PUT /attempts/{attemptID}/responses/{questionID}
func RecordResponseHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recordResponseReq
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		a, ok := ownedAttempt(eng, w, r)
		if !ok {
			return
		}
		resp, err := eng.RecordResponse(r.Context(), a.ID, chi.URLParam(r, "questionID"), req.Answer)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type focusReq struct {
	// QuestionID is empty when the learner leaves all questions.
	QuestionID string `json:"question_id" validate:"omitempty,max=128"`
}

// POST /attempts/{attemptID}/focus
func FocusHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req focusReq
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		a, ok := ownedAttempt(eng, w, r)
		if !ok {
			return
		}
		if err := eng.Focus(r.Context(), a.ID, req.QuestionID); err != nil {
			writeError(w, r, err)
			return
		}
		remaining, err := eng.Remaining(r.Context(), a.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"remaining_sec": remaining.Seconds()})
	}
}

type flagReq struct {
	Flagged *bool `json:"flagged" validate:"required"`
}

// PUT /attempts/{attemptID}/flags/{questionID}
func FlagHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req flagReq
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		a, ok := ownedAttempt(eng, w, r)
		if !ok {
			return
		}
		resp, err := eng.FlagQuestion(r.Context(), a.ID, chi.URLParam(r, "questionID"), *req.Flagged)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownedAttempt(eng, w, r)
		if !ok {
			return
		}
		done, err := eng.Submit(r.Context(), a.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, done)
	}
}

// GET /attempts/{attemptID}/result
func ResultHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownedAttempt(eng, w, r)
		if !ok {
			return
		}
		res, err := eng.Result(r.Context(), a.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /attempts/{attemptID}/review
func ReviewHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownedAttempt(eng, w, r)
		if !ok {
			return
		}
		rv, err := eng.Review(r.Context(), a.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rv)
	}
}
