package session

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewTokenIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewToken()
		if tok == "" {
			t.Fatal("NewToken() returned empty token")
		}
		if seen[tok] {
			t.Fatalf("NewToken() repeated %q", tok)
		}
		seen[tok] = true
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	rec := &Record{UserID: 7, Email: "dog@example.com", Role: RoleUser}
	ctx := WithIdentity(context.Background(), rec)
	if got := IdentityFrom(ctx); got != rec {
		t.Fatalf("IdentityFrom() = %+v, want the attached record", got)
	}
	if got := IdentityFrom(context.Background()); got != nil {
		t.Fatalf("IdentityFrom(empty) = %+v, want nil", got)
	}
	if got := IdentityFrom(WithIdentity(context.Background(), nil)); got != nil {
		t.Fatalf("IdentityFrom(anonymous) = %+v, want nil", got)
	}
}

func TestSetCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetCookie(rec, "tok-123", time.Hour, CookieOptions{HttpOnly: true, Secure: true})

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || c.Value != "tok-123" {
		t.Fatalf("cookie = %+v", c)
	}
	if c.MaxAge != 3600 {
		t.Fatalf("MaxAge = %d, want 3600", c.MaxAge)
	}
	if !c.HttpOnly || !c.Secure || c.Path != "/" {
		t.Fatalf("cookie attributes = %+v", c)
	}
}

func TestClearCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	ClearCookie(rec, CookieOptions{})

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || c.Value != "" {
		t.Fatalf("cookie = %+v", c)
	}
	if c.MaxAge >= 0 {
		t.Fatalf("MaxAge = %d, want negative to expire", c.MaxAge)
	}
}
