package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/models"
)

// SessionCookie names the cookie carrying the server-side session id.
const SessionCookie = "sqldesk_session"

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auth_sessions_expiry ON auth_sessions(expires_at);
`

// SessionOptions tunes SessionAuth.
type SessionOptions struct {
	TTL         time.Duration
	RedirectURL string
	Secure      bool
}

// SessionAuth logs users in with username and password and keeps the session
// server-side in SQLite.
type SessionAuth struct {
	db    *sql.DB
	users userTable
	opts  SessionOptions
	now   func() time.Time
}

var _ Strategy = (*SessionAuth)(nil)

// NewSessionAuth opens the session table stored at dbPath.
func NewSessionAuth(dbPath string, users []config.UserConfig, opts SessionOptions) (*SessionAuth, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(createSessionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	if opts.RedirectURL == "" {
		opts.RedirectURL = "/"
	}
	return &SessionAuth{db: db, users: newUserTable(users), opts: opts, now: time.Now}, nil
}

func (a *SessionAuth) User(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	user, err := a.lookup(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logx.Error().Err(err).Msg("session lookup failed")
		}
		return ""
	}
	return user
}

func (a *SessionAuth) IsLoggedIn(user string) bool {
	return user != ""
}

func (a *SessionAuth) OverrideConfig(_ string, cfg models.UIConfig) models.UIConfig {
	return cfg
}

func (a *SessionAuth) LoginForm() string {
	return sessionLoginForm
}

func (a *SessionAuth) Login(w http.ResponseWriter, r *http.Request) {
	username, password := credentials(r, "username")
	if username == "" || password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Username and password are required"})
		return
	}
	if !a.users.verify(username, password) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid username or password"})
		return
	}

	id := uuid.NewString()
	now := a.now().UTC()
	expires := now.Add(a.opts.TTL)
	_, err := a.db.ExecContext(r.Context(),
		`INSERT INTO auth_sessions (id, username, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		id, username, now, expires,
	)
	if err != nil {
		logx.Error().Err(err).Str("user", username).Msg("create session failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create session"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	logx.Info().Str("user", username).Msg("session created")
	writeJSON(w, http.StatusOK, map[string]string{
		"message":      username + " logged in successfully.",
		"redirect_url": a.opts.RedirectURL,
	})
}

func (a *SessionAuth) Callback(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Callback handler invoked"})
}

// Logout always succeeds, whether or not a session existed.
func (a *SessionAuth) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if _, err := a.db.ExecContext(r.Context(), `DELETE FROM auth_sessions WHERE id = ?`, c.Value); err != nil {
			logx.Error().Err(err).Msg("delete session failed")
		}
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully."})
}

func (a *SessionAuth) CheckSession(w http.ResponseWriter, r *http.Request) {
	if user := a.User(r); user != "" {
		writeJSON(w, http.StatusOK, map[string]any{"logged_in": true, "username": user})
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{"logged_in": false})
}

// PurgeExpired deletes sessions past their expiry.
func (a *SessionAuth) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= ?`, a.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (a *SessionAuth) Close() error {
	return a.db.Close()
}

func (a *SessionAuth) lookup(ctx context.Context, id string) (string, error) {
	var user string
	var expires time.Time
	err := a.db.QueryRowContext(ctx,
		`SELECT username, expires_at FROM auth_sessions WHERE id = ?`, id,
	).Scan(&user, &expires)
	if err != nil {
		return "", err
	}
	if !a.now().Before(expires) {
		return "", sql.ErrNoRows
	}
	return user, nil
}
