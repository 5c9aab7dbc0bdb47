package http

import (
	"errors"
	"net/http"

	authmw "github.com/mind-engage/mindengage-assess/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

type loginReq struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
	Role     string `json:"role" validate:"omitempty,oneof=learner instructor admin"`
}

// POST /auth/login  { "username": "...", "password": "...", "role": "learner|instructor" }
func LoginHandler(a *authmw.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		tok, role, err := a.Login(req.Username, req.Password, rbac.Role(req.Role))
		if errors.Is(err, authmw.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": tok, "role": string(role)})
	}
}
