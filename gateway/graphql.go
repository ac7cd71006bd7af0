package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/scalableinternetservicesarchive/tindawg/graphqlapi"
	"github.com/scalableinternetservicesarchive/tindawg/internal/logctx"
	"github.com/scalableinternetservicesarchive/tindawg/session"
)

// handleGraphQL serves ordinary queries and mutations. The session
// middleware runs first: the token is resolved into an identity attached to
// the execution context before any operation dispatch. Anonymous requests
// proceed with a nil identity; authorization is the resolvers' concern.
func (h *Handler) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.log.InfoContext(ctx, "graphql.post.start")

	if !h.requireJSON(w, r) {
		return
	}

	identity, err := h.resolveIdentity(r)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "authentication unavailable")
		h.log.ErrorContext(ctx, "auth.store.fail", slog.String("err", err.Error()))
		return
	}
	ctx = session.WithIdentity(ctx, identity)
	if identity != nil {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{UserID: identity.UserID, Email: identity.Email})
	}

	var req graphqlapi.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}

	res := h.engine.Execute(ctx, req)

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "graphql.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "graphql.post.ok")
}
