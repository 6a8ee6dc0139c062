package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/sqldesk/sqldesk/pkg/apperr"
	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// UserCookie names the cookie set by CookieAuth.
const UserCookie = "user"

// CookieAuth keeps the signed email of a configured user in a cookie.
// The value is "<email>.<hex hmac-sha256(secret, email)>".
type CookieAuth struct {
	secret      []byte
	users       userTable
	redirectURL string
	secure      bool
}

var _ Strategy = (*CookieAuth)(nil)

func NewCookieAuth(secret string, users []config.UserConfig, redirectURL string, secure bool) *CookieAuth {
	return &CookieAuth{secret: []byte(secret), users: newUserTable(users), redirectURL: redirectURL, secure: secure}
}

// Token returns the signature proving user was issued by this server.
func (a *CookieAuth) Token(user string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(user))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *CookieAuth) User(r *http.Request) string {
	c, err := r.Cookie(UserCookie)
	if err != nil {
		return ""
	}
	i := strings.LastIndexByte(c.Value, '.')
	if i <= 0 {
		return ""
	}
	user, sig := c.Value[:i], c.Value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(a.Token(user))) || !a.users.has(user) {
		return ""
	}
	return user
}

func (a *CookieAuth) IsLoggedIn(user string) bool {
	return user != ""
}

func (a *CookieAuth) OverrideConfig(_ string, cfg models.UIConfig) models.UIConfig {
	return cfg
}

func (a *CookieAuth) LoginForm() string {
	return loginForm
}

func (a *CookieAuth) Login(w http.ResponseWriter, r *http.Request) {
	email, password := credentials(r, "email")
	if !a.users.verify(email, password) {
		logx.Info().Str("user", email).Msg("login failed")
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"type": "error", "code": string(apperr.NotAuthenticated), "error": "Login failed",
		})
		return
	}
	a.setCookie(w, email)
	logx.Info().Str("user", email).Msg("logged in")
	if a.redirectURL != "" {
		http.Redirect(w, r, a.redirectURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged in as " + email})
}

// Callback completes an out-of-band login: user plus a token issued by Token.
func (a *CookieAuth) Callback(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	token := r.URL.Query().Get("token")
	if user == "" || !a.users.has(user) || !hmac.Equal([]byte(token), []byte(a.Token(user))) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"type": "error", "code": string(apperr.NotAuthenticated), "error": "invalid callback",
		})
		return
	}
	a.setCookie(w, user)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged in as " + user})
}

func (a *CookieAuth) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: UserCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (a *CookieAuth) CheckSession(w http.ResponseWriter, r *http.Request) {
	if user := a.User(r); user != "" {
		writeJSON(w, http.StatusOK, map[string]any{"logged_in": true, "user": user})
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"logged_in": false})
}

func (a *CookieAuth) setCookie(w http.ResponseWriter, user string) {
	http.SetCookie(w, &http.Cookie{
		Name:     UserCookie,
		Value:    user + "." + a.Token(user),
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
