package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Options struct {
	Secret        string
	TTL           time.Duration
	AdminUser     string
	AdminPassHash string
	// DevLogin accepts username == password for learners and instructors.
	DevLogin bool
}

type AuthService struct {
	hmac      []byte
	ttl       time.Duration
	adminUser string
	adminHash []byte
	devLogin  bool
	now       func() time.Time
}

func NewAuthService(o Options) *AuthService {
	if o.TTL <= 0 {
		o.TTL = 8 * time.Hour
	}
	return &AuthService{
		hmac:      []byte(o.Secret),
		ttl:       o.TTL,
		adminUser: o.AdminUser,
		adminHash: []byte(o.AdminPassHash),
		devLogin:  o.DevLogin,
		now:       time.Now,
	}
}

type Claims struct {
	Sub  string    `json:"sub"`
	Role rbac.Role `json:"role"`
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub string, role rbac.Role) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:  sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mindengage-assess",
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if _, ok := rbac.ParseRole(string(c.Role)); !ok || c.Sub == "" {
		return nil, fmt.Errorf("token carries unknown role %q", c.Role)
	}
	return c, nil
}

// Login checks credentials and returns a signed token and the granted role.
// The administrator is verified against a bcrypt hash. Other roles are only
// available through dev login.
func (a *AuthService) Login(username, password string, role rbac.Role) (string, rbac.Role, error) {
	switch {
	case username == a.adminUser && len(a.adminHash) > 0:
		if bcrypt.CompareHashAndPassword(a.adminHash, []byte(password)) != nil {
			return "", "", ErrInvalidCredentials
		}
		role = rbac.RoleAdmin
	case a.devLogin && username != "" && username == password && (role == rbac.RoleLearner || role == rbac.RoleInstructor):
	default:
		return "", "", ErrInvalidCredentials
	}
	tok, err := a.IssueJWT(username, role)
	if err != nil {
		return "", "", fmt.Errorf("issue token: %w", err)
	}
	return tok, role, nil
}

// HashPassword returns the bcrypt hash used for the admin-pass-hash setting.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, "{%q:%q}\n", "error", msg)
}

// JWTMiddleware authenticates the bearer token and stores the caller in the
// request context for rbac checks.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				unauthorized(w, "missing bearer")
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				unauthorized(w, "bad token")
				return
			}
			ctx := rbac.WithPrincipal(r.Context(), rbac.Principal{Subject: c.Sub, Role: c.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
