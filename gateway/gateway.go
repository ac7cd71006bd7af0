// Package gateway mounts the application's HTTP surface as a standard
// net/http handler: the auth endpoints that mint session cookies, the
// /graphql query endpoint behind the session-resolving middleware, and the
// /graphqlsubscription endpoints that drive the subscription protocol state
// machine over discrete POSTs, with a streaming GET draining each
// connection's delivery channel (Server-Sent Events style).
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/scalableinternetservicesarchive/tindawg/graphqlapi"
	"github.com/scalableinternetservicesarchive/tindawg/internal/logctx"
	"github.com/scalableinternetservicesarchive/tindawg/session"
	"github.com/scalableinternetservicesarchive/tindawg/subscriptions"
	"github.com/scalableinternetservicesarchive/tindawg/users"
)

var _ http.Handler = (*Handler)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	// connIDHeader carries the request-scoped identifier that is stable
	// across a subscription connection's lifetime.
	connIDHeader = "X-Connection-Id"
	// authTokenHeader is the cookie fallback for non-browser clients.
	authTokenHeader = "x-authtoken"
	// subProtocolHeader echoes the sub-protocol acknowledgment on connect.
	subProtocolHeader = "Sec-WebSocket-Protocol"
	subProtocol       = "graphql-ws"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger used by the handler. If not provided,
// logs go to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithSessionTTL overrides the session lifetime used when minting cookies.
func WithSessionTTL(ttl time.Duration) Option {
	return func(h *Handler) { h.sessionTTL = ttl }
}

// WithCookieSecure marks issued session cookies Secure. Leave unset for
// plain-HTTP development setups.
func WithCookieSecure(secure bool) Option {
	return func(h *Handler) { h.cookieSecure = secure }
}

// Handler is the gateway's HTTP entry point.
type Handler struct {
	mux *http.ServeMux
	log *slog.Logger

	sessions session.Store
	users    users.Store
	engine   *graphqlapi.Engine
	subs     *subscriptions.Manager

	sessionTTL   time.Duration
	cookieSecure bool
}

// New constructs the gateway handler over its collaborators: the session
// store, the user store behind the auth endpoints, the query engine, and
// the subscription manager.
func New(sessions session.Store, userStore users.Store, engine *graphqlapi.Engine, subs *subscriptions.Manager, opts ...Option) *Handler {
	h := &Handler{
		sessions:   sessions,
		users:      userStore,
		engine:     engine,
		subs:       subs,
		sessionTTL: session.DefaultTTL,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/createUser", h.handleCreateUser)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /graphql", h.handleGraphQL)
	mux.HandleFunc("POST /graphqlsubscription/connect", h.handleSubConnect)
	mux.HandleFunc("POST /graphqlsubscription/connection_init", h.handleSubConnectionInit)
	mux.HandleFunc("POST /graphqlsubscription/start", h.handleSubStart)
	mux.HandleFunc("POST /graphqlsubscription/stop", h.handleSubStop)
	mux.HandleFunc("POST /graphqlsubscription/disconnect", h.handleSubDisconnect)
	mux.HandleFunc("GET /graphqlsubscription/stream", h.handleSubStream)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// requireJSON rejects bodies that aren't application/json.
func (h *Handler) requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(r.Context(), "content_type.unsupported")
		return false
	}
	return true
}
