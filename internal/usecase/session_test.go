package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

func TestSessionLoginResolveLogout(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	resolver := newMemoryResolver("default")
	user := resolver["default"].users.add(domain.User{UUID: "u-1", IsActive: true})
	store := newMemorySessionStore()
	svc := NewSessionService(store, resolver, time.Hour, nil)
	svc.WithClock(fixedClock(now))

	state := NewRequestState("default", "client", nil)
	if err := svc.Login(context.Background(), state, user); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if state.SessionID == "" || !state.Authenticated() {
		t.Fatalf("expected authenticated state, got %+v", state)
	}

	next := NewRequestState("default", "client", nil)
	if err := svc.Resolve(context.Background(), next, state.SessionID); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if next.User == nil || next.User.ID != user.ID {
		t.Fatalf("expected user %d resolved, got %+v", user.ID, next.User)
	}

	if err := svc.Logout(context.Background(), next); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if next.Authenticated() || !next.LoggedOut || next.SessionID != "" {
		t.Fatalf("expected logged out state, got %+v", next)
	}
	if err := svc.Logout(context.Background(), next); err != nil {
		t.Fatalf("second Logout returned error: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected one deletion, got %v", store.deleted)
	}
}

func TestSessionResolveLeavesAnonymous(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	resolver := newMemoryResolver("default")
	active := resolver["default"].users.add(domain.User{UUID: "active", IsActive: true})
	inactive := resolver["default"].users.add(domain.User{UUID: "inactive"})
	store := newMemorySessionStore()
	store.sessions["expired"] = domain.Session{ID: "expired", UserID: active.ID, Database: "default", ExpiresAt: now.Add(-time.Minute)}
	store.sessions["inactive"] = domain.Session{ID: "inactive", UserID: inactive.ID, Database: "default", ExpiresAt: now.Add(time.Hour)}
	store.sessions["orphan"] = domain.Session{ID: "orphan", UserID: 999, Database: "default", ExpiresAt: now.Add(time.Hour)}

	svc := NewSessionService(store, resolver, time.Hour, nil)
	svc.WithClock(fixedClock(now))

	for _, id := range []string{"", "missing", "expired", "inactive", "orphan"} {
		state := NewRequestState("default", "client", nil)
		if err := svc.Resolve(context.Background(), state, id); err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", id, err)
		}
		if state.Authenticated() {
			t.Fatalf("Resolve(%q) should leave the request anonymous", id)
		}
	}
}

func TestSessionResolveUnknownDatabase(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store := newMemorySessionStore()
	store.sessions["s"] = domain.Session{ID: "s", UserID: 1, Database: "gone", ExpiresAt: now.Add(time.Hour)}
	svc := NewSessionService(store, newMemoryResolver("default"), time.Hour, nil)
	svc.WithClock(fixedClock(now))

	err := svc.Resolve(context.Background(), NewRequestState("default", "", nil), "s")
	if err == nil {
		t.Fatal("expected error for a session bound to an unknown database")
	}
}
