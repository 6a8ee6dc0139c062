package auth

import (
	"net/http"

	"github.com/sqldesk/sqldesk/pkg/models"
)

// Anonymous is the identity of every caller under NoAuth.
const Anonymous = "anonymous"

// NoAuth lets everyone in.
type NoAuth struct{}

var _ Strategy = NoAuth{}

func (NoAuth) User(*http.Request) string { return Anonymous }

func (NoAuth) IsLoggedIn(string) bool { return true }

func (NoAuth) OverrideConfig(_ string, cfg models.UIConfig) models.UIConfig { return cfg }

func (NoAuth) LoginForm() string { return "" }

func (NoAuth) Login(w http.ResponseWriter, _ *http.Request) { noLogin(w) }

func (NoAuth) Callback(w http.ResponseWriter, _ *http.Request) { noLogin(w) }

func (NoAuth) Logout(w http.ResponseWriter, _ *http.Request) { noLogin(w) }

func (NoAuth) CheckSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logged_in": true, "user": Anonymous})
}

func noLogin(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "No login required"})
}
