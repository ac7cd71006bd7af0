package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/scalableinternetservicesarchive/tindawg/internal/logctx"
	"github.com/scalableinternetservicesarchive/tindawg/session"
	"github.com/scalableinternetservicesarchive/tindawg/users"
)

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// resolveIdentity turns the request's session token, if any, into an
// identity record. The cookie takes precedence over the x-authtoken header.
// A missing token yields a nil identity and nil error (anonymous context); a
// non-nil error means the session store itself failed and the request must
// be treated as an authentication failure, not as anonymous.
func (h *Handler) resolveIdentity(r *http.Request) (*session.Record, error) {
	var token string
	if c, err := r.Cookie(session.CookieName); err == nil {
		token = c.Value
	}
	if token == "" {
		token = r.Header.Get(authTokenHeader)
	}
	if token == "" {
		return nil, nil
	}

	rec, err := h.sessions.Resolve(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return rec, nil
}

// issueSession mints a session for the user and sets the auth cookie.
func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, u *users.User) error {
	token := session.NewToken()
	rec := session.Record{
		UserID:         u.ID,
		Email:          u.Email,
		Role:           u.Role,
		CredentialEcho: u.PasswordHash,
	}
	if err := h.sessions.Create(r.Context(), token, rec, h.sessionTTL); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	session.SetCookie(w, token, h.sessionTTL, session.CookieOptions{HttpOnly: true, Secure: h.cookieSecure})
	return nil
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.log.InfoContext(ctx, "auth.create_user.start")

	if !h.requireJSON(w, r) {
		return
	}
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := h.users.Create(ctx, body.Email, body.Password)
	if err == users.ErrEmailTaken {
		writeJSONError(w, http.StatusConflict, "email already registered")
		h.log.InfoContext(ctx, "auth.create_user.conflict")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create user")
		h.log.ErrorContext(ctx, "auth.create_user.fail", slog.String("err", err.Error()))
		return
	}

	if err := h.issueSession(w, r, u); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{UserID: u.ID, Email: u.Email})
	h.log.InfoContext(ctx, "auth.create_user.ok")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Success!"))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.log.InfoContext(ctx, "auth.login.start")

	if !h.requireJSON(w, r) {
		return
	}
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := h.users.Authenticate(ctx, body.Email, body.Password)
	if err == users.ErrBadCredentials {
		h.log.InfoContext(ctx, "auth.login.reject")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to authenticate")
		h.log.ErrorContext(ctx, "auth.login.fail", slog.String("err", err.Error()))
		return
	}

	if err := h.issueSession(w, r, u); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{UserID: u.ID, Email: u.Email})
	h.log.InfoContext(ctx, "auth.login.ok")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Success!"))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.log.InfoContext(ctx, "auth.logout.start")

	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		if err := h.sessions.Destroy(ctx, c.Value); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to destroy session")
			h.log.ErrorContext(ctx, "session.destroy.fail", slog.String("err", err.Error()))
			return
		}
	}
	session.ClearCookie(w, session.CookieOptions{HttpOnly: true, Secure: h.cookieSecure})
	h.log.InfoContext(ctx, "auth.logout.ok")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Success!"))
}
