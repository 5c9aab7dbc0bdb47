package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-assess/internal/exam"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorBody struct {
	Error  string   `json:"error"`
	Reason string   `json:"reason,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// badRequest carries request validation failures.
type badRequest struct {
	msg    string
	fields []string
}

func (e *badRequest) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &badRequest{msg: "bad json: " + err.Error()}
	}
	return check(dst)
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return &badRequest{msg: err.Error()}
	}
	br := &badRequest{msg: "invalid request"}
	for _, fe := range ve {
		br.fields = append(br.fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return br
}

// writeError maps engine and ledger errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var br *badRequest
	if errors.As(err, &br) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: br.msg, Fields: br.fields})
		return
	}
	if reason, ok := exam.ReasonOf(err); ok {
		status := http.StatusConflict
		if reason == exam.ReasonExamNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: reason.Message(), Reason: string(reason)})
		return
	}

	status, reason := http.StatusInternalServerError, ""
	switch {
	case errors.Is(err, exam.ErrExamNotFound):
		status, reason = http.StatusNotFound, "exam_not_found"
	case errors.Is(err, exam.ErrAttemptNotFound):
		status, reason = http.StatusNotFound, "attempt_not_found"
	case errors.Is(err, exam.ErrResponseNotFound):
		status, reason = http.StatusNotFound, "response_not_found"
	case errors.Is(err, exam.ErrAttemptNotActive):
		status, reason = http.StatusConflict, "attempt_not_active"
	case errors.Is(err, exam.ErrAttemptNotTerminal):
		status, reason = http.StatusConflict, "attempt_not_terminal"
	case errors.Is(err, exam.ErrNotPendingManual):
		status, reason = http.StatusConflict, "not_pending_manual"
	case errors.Is(err, exam.ErrQuestionNotInAttempt):
		status, reason = http.StatusUnprocessableEntity, "question_not_in_attempt"
	case errors.Is(err, exam.ErrInvalidPoints):
		status, reason = http.StatusUnprocessableEntity, "invalid_points"
	case errors.Is(err, exam.ErrInvalidAnswer):
		status, reason = http.StatusUnprocessableEntity, "invalid_answer"
	}
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Reason: reason})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
