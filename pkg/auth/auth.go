// Package auth resolves the caller's identity and gates the API on it.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// Strategy is a pluggable login scheme.
type Strategy interface {
	// User returns the identity carried by the request, or "" when there is none.
	User(r *http.Request) string
	IsLoggedIn(user string) bool
	// OverrideConfig adjusts the front-end configuration for a user.
	OverrideConfig(user string, cfg models.UIConfig) models.UIConfig
	// LoginForm is the HTML sent to callers that are not logged in.
	LoginForm() string
	Login(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	CheckSession(w http.ResponseWriter, r *http.Request)
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying the identity.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFrom returns the identity placed on ctx by Require, or "".
func UserFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

// Require short-circuits callers that are not logged in with a 401 carrying
// the login form. Logged-in callers continue with their identity on the context.
func Require(s Strategy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := s.User(r)
			if !s.IsLoggedIn(user) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"type":  "not_logged_in",
					"code":  string(apperr.NotAuthenticated),
					"html":  s.LoginForm(),
					"error": "not logged in",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// FromConfig builds the strategy named by cfg.Auth.Strategy.
func FromConfig(cfg *config.Config) (Strategy, error) {
	users := cfg.Auth.Users
	switch cfg.Auth.Strategy {
	case "", "none":
		return NoAuth{}, nil
	case "cookie":
		return NewCookieAuth(cfg.Auth.Secret, users, cfg.Auth.RedirectURL, cfg.Auth.CookieSecure), nil
	case "session":
		return NewSessionAuth(cfg.DBPath, users, SessionOptions{
			TTL:         cfg.Auth.SessionTTL,
			RedirectURL: cfg.Auth.RedirectURL,
			Secure:      cfg.Auth.CookieSecure,
		})
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", cfg.Auth.Strategy)
	}
}

// userTable maps usernames to plain or bcrypt-hashed passwords.
type userTable map[string]string

func newUserTable(users []config.UserConfig) userTable {
	t := make(userTable, len(users))
	for _, u := range users {
		t[u.Username] = u.Password
	}
	return t
}

func (t userTable) has(user string) bool {
	_, ok := t[user]
	return ok
}

func (t userTable) verify(user, password string) bool {
	stored, ok := t[user]
	if !ok || password == "" {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// credentials reads a login from a JSON body or a form post.
func credentials(r *http.Request, userField string) (user, password string) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", ""
		}
		return strings.TrimSpace(body[userField]), body["password"]
	}
	if err := r.ParseForm(); err != nil {
		return "", ""
	}
	return strings.TrimSpace(r.PostForm.Get(userField)), r.PostForm.Get("password")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

const loginForm = `<div class="p-4 sm:p-7">
  <div class="text-center"><h1 class="block text-2xl font-bold">Sign in</h1></div>
  <form action="/auth/login" method="POST">
    <label for="email">Email address</label>
    <input type="email" id="email" name="email" required>
    <label for="password">Password</label>
    <input type="password" id="password" name="password" required>
    <button type="submit">Sign in</button>
  </form>
</div>`

const sessionLoginForm = `<form action="/auth/login" method="post">
  <input name="username">
  <input name="password" type="password">
  <button type="submit">Login</button>
</form>`
