package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jayceeit/password-expire/internal/core/domain"
)

func TestAuthServiceLoginErrors(t *testing.T) {
	f := newServiceFixture(t, testSettings())
	db := f.resolver["default"]
	db.users.add(domain.User{UUID: "u-1", Username: "alice", IsActive: true, PasswordHash: "plain:secret"})
	db.users.add(domain.User{UUID: "u-2", Username: "bob", PasswordHash: "plain:secret"})

	cases := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{name: "blank", username: "", password: "secret", want: ErrInvalidCredentials},
		{name: "unknown", username: "carol", password: "secret", want: ErrInvalidCredentials},
		{name: "wrong password", username: "alice", password: "nope", want: ErrInvalidCredentials},
		{name: "inactive", username: "bob", password: "secret", want: ErrInactiveAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := NewRequestState("default", "client", nil)
			_, err := f.auth.Login(context.Background(), state, tc.username, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if state.Authenticated() {
				t.Fatal("failed login must not authenticate")
			}
		})
	}
}

func TestAuthServiceLoginKeepsValidSession(t *testing.T) {
	f := newServiceFixture(t, testSettings())
	f.resolver["default"].users.add(domain.User{UUID: "u-1", Username: "alice", IsActive: true, PasswordHash: "plain:secret"})

	state := NewRequestState("default", "client", nil)
	user, err := f.auth.Login(context.Background(), state, "alice", "secret")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if !state.Authenticated() || state.User.UUID != user.UUID || state.RedirectToPasswordChange {
		t.Fatalf("expected authenticated state, got %+v", state)
	}

	if err := f.auth.Logout(context.Background(), state); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if state.Authenticated() {
		t.Fatal("expected anonymous state after logout")
	}
}

func TestAuthServiceLoginExpiredPassword(t *testing.T) {
	f := newServiceFixture(t, testSettings())
	db := f.resolver["default"]
	user := db.users.add(domain.User{UUID: "u-1", Username: "alice", IsActive: true, PasswordHash: "plain:secret"})
	db.changes.records[user.ID] = f.now.Add(-120 * 24 * time.Hour)

	state := NewRequestState("default", "client", nil)
	got, err := f.auth.Login(context.Background(), state, "alice", "secret")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if got.UUID != "u-1" {
		t.Fatalf("expected the user to be returned, got %+v", got)
	}
	if state.Authenticated() || !state.LoggedOut || !state.RedirectToPasswordChange {
		t.Fatalf("expected forced logout with redirect flag, got %+v", state)
	}
	if state.ExpiredUser == nil || state.ExpiredUser.Username != "alice" {
		t.Fatal("expected expired user to be recorded")
	}
	if len(f.store.sessions) != 0 {
		t.Fatalf("expected no stored sessions, got %d", len(f.store.sessions))
	}
}

func TestAuthServiceLoginDropsSessionWhenHandlerFails(t *testing.T) {
	f := newServiceFixture(t, testSettings())
	f.resolver["default"].users.add(domain.User{UUID: "u-1", Username: "alice", IsActive: true, PasswordHash: "plain:secret"})
	handlerErr := errors.New("history unavailable")
	f.registry.ConnectLoginSucceeded("test.failing", func(context.Context, LoginEvent) error {
		return handlerErr
	})

	state := NewRequestState("default", "client", nil)
	_, err := f.auth.Login(context.Background(), state, "alice", "secret")
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if state.Authenticated() || state.SessionID != "" {
		t.Fatalf("expected no session on the request, got %+v", state)
	}
	if len(f.store.sessions) != 0 {
		t.Fatalf("expected the stored session to be removed, got %d", len(f.store.sessions))
	}
}

// upgradingHasher treats "legacy:" hashes as valid but outdated.
type upgradingHasher struct{ plainHasher }

func (h upgradingHasher) Verify(password, encoded string) (bool, error) {
	if strings.HasPrefix(encoded, "legacy:") {
		return encoded == "legacy:"+password, nil
	}
	return h.plainHasher.Verify(password, encoded)
}

func (upgradingHasher) NeedsRehash(encoded string) bool {
	return strings.HasPrefix(encoded, "legacy:")
}

func TestAuthServiceLoginUpgradesOutdatedHash(t *testing.T) {
	f := newServiceFixture(t, testSettings())
	db := f.resolver["default"]
	user := db.users.add(domain.User{UUID: "u-1", Username: "alice", IsActive: true, PasswordHash: "legacy:secret"})
	lastChanged := f.now.Add(-10 * 24 * time.Hour)
	db.changes.records[user.ID] = lastChanged

	auth := NewAuthService(f.resolver, f.sessions, f.registry, upgradingHasher{}, zaptest.NewLogger(t))
	state := NewRequestState("default", "client", nil)
	if _, err := auth.Login(context.Background(), state, "alice", "secret"); err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	stored, err := db.users.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if stored.PasswordHash != "plain:secret" {
		t.Fatalf("expected the hash to be upgraded, got %q", stored.PasswordHash)
	}
	if at, ok := db.changes.lastChanged(user.ID); !ok || !at.Equal(lastChanged) {
		t.Fatal("a rehash must not reset the password history")
	}

	if _, err := auth.Login(context.Background(), NewRequestState("default", "client", nil), "alice", "secret"); err != nil {
		t.Fatalf("login with upgraded hash returned error: %v", err)
	}
}
