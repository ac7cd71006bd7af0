// Package logctx enriches slog records with request, session, and
// subscription attributes carried on the context, so handlers log events by
// name and the correlation data follows automatically.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.Int64("user_id", sd.UserID),
			slog.String("email", sd.Email),
		))
	}

	if sub, ok := ctx.Value(subDataKey{}).(*SubData); ok {
		r.AddAttrs(slog.Group("sub",
			slog.String("conn_id", sub.ConnID),
			slog.String("op_id", sub.OpID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

type SessionData struct {
	UserID int64
	Email  string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type subDataKey struct{}

type SubData struct {
	ConnID string
	OpID   string
}

func WithSubData(ctx context.Context, data *SubData) context.Context {
	return context.WithValue(ctx, subDataKey{}, data)
}
