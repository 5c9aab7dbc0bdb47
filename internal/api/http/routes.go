package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-assess/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assess/internal/engine"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

// Mount registers the public and token protected routes on r. ready backs
// /readyz; nil means always ready.
func Mount(r chi.Router, eng *engine.Engine, authSvc *authmw.AuthService, ready func(context.Context) error) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "not ready"})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/auth/login", LoginHandler(authSvc))

	// Protected API (JWT → principal in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(authSvc))

		pr.With(rbac.Require(rbac.PermExamView)).
			Get("/exams/{examID}/eligibility", EligibilityHandler(eng))
		pr.With(rbac.Require(rbac.PermAttemptCreate)).
			Post("/exams/{examID}/attempts", StartAttemptHandler(eng))
		pr.With(rbac.Require(rbac.PermExamStats)).
			Get("/exams/{examID}/statistics", ExamStatisticsHandler(eng))

		viewAttempt := rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)
		pr.With(viewAttempt).Get("/attempts", ListAttemptsHandler(eng))
		pr.With(viewAttempt).Get("/attempts/{attemptID}", GetAttemptHandler(eng))
		pr.With(viewAttempt).Get("/attempts/{attemptID}/result", ResultHandler(eng))
		pr.With(viewAttempt).Get("/attempts/{attemptID}/review", ReviewHandler(eng))

		pr.With(rbac.Require(rbac.PermAttemptSave)).
			Put("/attempts/{attemptID}/responses/{questionID}", RecordResponseHandler(eng))
		pr.With(rbac.Require(rbac.PermAttemptSave)).
			Post("/attempts/{attemptID}/focus", FocusHandler(eng))
		pr.With(rbac.Require(rbac.PermAttemptSave)).
			Put("/attempts/{attemptID}/flags/{questionID}", FlagHandler(eng))
		pr.With(rbac.Require(rbac.PermAttemptSubmit)).
			Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(eng))

		pr.With(rbac.Require(rbac.PermAttemptGrade)).
			Post("/attempts/{attemptID}/grade", GradeAttemptHandler(eng))
		pr.With(rbac.Require(rbac.PermAttemptGrade)).
			Post("/attempts/{attemptID}/responses/{responseID}/grade", ManualGradeHandler(eng))
		pr.With(rbac.Require(rbac.PermGradingQueue)).
			Get("/grading/queue", GradingQueueHandler(eng))

		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermHistoryViewAll)).
			Get("/learners/{learnerID}/history", LearnerHistoryHandler(eng))
	})
}
