package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/jayceeit/password-expire/internal/core/domain"
	"github.com/jayceeit/password-expire/internal/infra/config"
	"github.com/jayceeit/password-expire/internal/infra/security"
	"github.com/jayceeit/password-expire/internal/testutil/memory"
	redisrepo "github.com/jayceeit/password-expire/internal/repository/redis"
	"github.com/jayceeit/password-expire/internal/usecase"
)

const testLogoutPath = "/api/v1/auth/logout"

type expireHarness struct {
	t        *testing.T
	now      time.Time
	db       *memory.Database
	hasher   *security.Argon2Hasher
	sessions *usecase.SessionService
	messages *redisrepo.MessageStore
	auth     *usecase.AuthService
	router   *gin.Engine
}

func newExpireHarness(t *testing.T, wrap int) *expireHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Now().UTC().Truncate(time.Second)
	dbs := memory.NewDatabases("default")
	logger := zaptest.NewLogger(t)

	sessions := usecase.NewSessionService(redisrepo.NewSessionStore(client, "test:session"), dbs, time.Hour, logger)
	sessions.WithClock(func() time.Time { return now })

	settings := config.PasswordExpireSettings{
		Seconds:           int64((90 * 24 * time.Hour).Seconds()),
		WarnSeconds:       int64((7 * 24 * time.Hour).Seconds()),
		Contact:           "support",
		DefaultFromEmail:  "support@example.com",
		ChangeRedirectURL: "/password/change",
		ResetRedirectURL:  "/password/reset?next=/home",
	}
	expiry := usecase.NewExpiryService(settings, dbs, nil, sessions, logger)
	expiry.WithClock(func() time.Time { return now })
	registry := usecase.NewRegistry()
	expiry.Register(registry)

	hasher, err := security.NewArgon2Hasher(security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	auth := usecase.NewAuthService(dbs, sessions, registry, hasher, logger)

	messageStore := redisrepo.NewMessageStore(client, "test:messages")
	router := gin.New()
	router.Use(EnrichContext())
	router.Use(Session(SessionOptions{
		Sessions: sessions,
		Messages: usecase.NewMessageService(messageStore, time.Hour),
		Database: config.DefaultDatabaseAlias,
		TTL:      time.Hour,
	}, logger))
	for i := 0; i < wrap; i++ {
		router.Use(PasswordExpire(PasswordExpireOptions{Expiry: expiry, LogoutPath: testLogoutPath}, logger))
	}

	router.GET("/page", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.POST("/page", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET(testLogoutPath, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.POST("/login", func(c *gin.Context) {
		state := RequestState(c)
		if _, err := auth.Login(c.Request.Context(), state, c.PostForm("username"), c.PostForm("password")); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		SyncSessionCookie(c)
		c.JSON(http.StatusOK, gin.H{"logged_in": state.Authenticated()})
	})

	return &expireHarness{
		t:        t,
		now:      now,
		db:       dbs.Database("default"),
		hasher:   hasher,
		sessions: sessions,
		messages: messageStore,
		auth:     auth,
		router:   router,
	}
}

func (h *expireHarness) addUser(user domain.User, password string, lastChanged time.Time) *domain.User {
	h.t.Helper()
	hash, err := h.hasher.Hash(password)
	if err != nil {
		h.t.Fatalf("hash: %v", err)
	}
	user.PasswordHash = hash
	user.IsActive = true
	stores := h.db.Stores()
	if err := stores.Users.Create(context.Background(), &user); err != nil {
		h.t.Fatalf("create user: %v", err)
	}
	if !lastChanged.IsZero() {
		if err := stores.PasswordChanges.Upsert(context.Background(), domain.PasswordChange{UserID: user.ID, LastChanged: lastChanged}); err != nil {
			h.t.Fatalf("seed history: %v", err)
		}
	}
	return &user
}

// sessionFor logs user in directly and returns the session cookie value.
func (h *expireHarness) sessionFor(user *domain.User) string {
	h.t.Helper()
	state := usecase.NewRequestState("default", "", nil)
	if err := h.sessions.Login(context.Background(), state, user); err != nil {
		h.t.Fatalf("login: %v", err)
	}
	return state.SessionID
}

func (h *expireHarness) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *expireHarness) stored(clientKey string) []domain.Message {
	h.t.Helper()
	messages, err := h.messages.Peek(context.Background(), clientKey)
	if err != nil {
		h.t.Fatalf("peek: %v", err)
	}
	return messages
}

func loginRequest(username, password string) *http.Request {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestPasswordExpireRedirectsExpiredLogin(t *testing.T) {
	cases := []struct {
		name     string
		user     domain.User
		location string
	}{
		{name: "regular user goes to reset", user: domain.User{UUID: "u-1", Username: "alice"}, location: "/password/reset?next=%2Fhome&username=alice"},
		{name: "staff goes to change", user: domain.User{UUID: "u-2", Username: "bob", IsStaff: true}, location: "/password/change?username=bob"},
		{name: "permission goes to change", user: domain.User{UUID: "u-3", Username: "carol", Permissions: []string{domain.PermChangePassword}}, location: "/password/change?username=carol"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newExpireHarness(t, 1)
			h.addUser(tc.user, "correct horse battery", h.now.Add(-91*24*time.Hour))

			clientCookie := &http.Cookie{Name: "messages", Value: "browser-1"}
			rr := h.do(loginRequest(tc.user.Username, "correct horse battery"), clientCookie)

			if rr.Code != http.StatusFound {
				t.Fatalf("expected 302, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := rr.Header().Get("Location"); got != tc.location {
				t.Fatalf("expected location %q, got %q", tc.location, got)
			}
			if strings.Contains(rr.Body.String(), "logged_in") {
				t.Fatal("handler response must be replaced by the redirect")
			}

			session := findCookie(rr, "sessionid")
			if session == nil || session.MaxAge >= 0 {
				t.Fatalf("expected the session cookie to be cleared, got %+v", session)
			}

			messages := h.stored("browser-1")
			if len(messages) != 2 {
				t.Fatalf("expected two stored messages, got %+v", messages)
			}
			if messages[0].Text != usecase.MessagePasswordExpired || !messages[1].HasTag(domain.TagSafe) {
				t.Fatalf("unexpected messages: %+v", messages)
			}
		})
	}
}

func TestPasswordExpireValidLoginPassesThrough(t *testing.T) {
	h := newExpireHarness(t, 1)
	h.addUser(domain.User{UUID: "u-1", Username: "alice"}, "correct horse battery", h.now.Add(-time.Hour))

	rr := h.do(loginRequest("alice", "correct horse battery"))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"logged_in":true`) {
		t.Fatalf("expected 200 with body, got %d %s", rr.Code, rr.Body.String())
	}
	if cookie := findCookie(rr, "sessionid"); cookie == nil || cookie.Value == "" {
		t.Fatal("expected a session cookie")
	}
	if cookie := findCookie(rr, "messages"); cookie == nil || cookie.Value == "" {
		t.Fatal("expected a client cookie for a new browser")
	}
}

func TestPasswordExpireWarnsOnceEvenWhenInstalledTwice(t *testing.T) {
	h := newExpireHarness(t, 2)
	user := h.addUser(domain.User{UUID: "u-1", Username: "alice"}, "correct horse battery", h.now.Add(-85*24*time.Hour))
	cookies := []*http.Cookie{
		{Name: "sessionid", Value: h.sessionFor(user)},
		{Name: "messages", Value: "browser-1"},
	}

	for i := 0; i < 2; i++ {
		rr := h.do(httptest.NewRequest(http.MethodGet, "/page", nil), cookies...)
		if rr.Code != http.StatusOK || rr.Body.String() != `{"ok":true}` {
			t.Fatalf("request %d: unexpected response %d %s", i, rr.Code, rr.Body.String())
		}
	}

	messages := h.stored("browser-1")
	if len(messages) != 1 {
		t.Fatalf("expected a single warning, got %+v", messages)
	}
	if messages[0].Level != domain.MessageWarning || messages[0].Text != "Please change your password. It expires in 5 days." {
		t.Fatalf("unexpected warning: %+v", messages[0])
	}
}

func TestPasswordExpireWarnsExpiredSession(t *testing.T) {
	h := newExpireHarness(t, 1)
	user := h.addUser(domain.User{UUID: "u-1", Username: "alice"}, "correct horse battery", h.now.Add(-100*24*time.Hour))
	cookies := []*http.Cookie{
		{Name: "sessionid", Value: h.sessionFor(user)},
		{Name: "messages", Value: "browser-1"},
	}

	rr := h.do(httptest.NewRequest(http.MethodGet, "/page", nil), cookies...)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	messages := h.stored("browser-1")
	if len(messages) != 1 || messages[0].Text != usecase.MessageChangeExpired {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestPasswordExpireSkipsNonPageRequests(t *testing.T) {
	h := newExpireHarness(t, 1)
	user := h.addUser(domain.User{UUID: "u-1", Username: "alice"}, "correct horse battery", h.now.Add(-85*24*time.Hour))
	cookies := []*http.Cookie{
		{Name: "sessionid", Value: h.sessionFor(user)},
		{Name: "messages", Value: "browser-1"},
	}

	ajax := httptest.NewRequest(http.MethodGet, "/page", nil)
	ajax.Header.Set("X-Requested-With", "XMLHttpRequest")

	requests := []*http.Request{
		ajax,
		httptest.NewRequest(http.MethodPost, "/page", nil),
		httptest.NewRequest(http.MethodGet, testLogoutPath, nil),
	}
	for _, req := range requests {
		h.do(req, cookies...)
	}

	if messages := h.stored("browser-1"); len(messages) != 0 {
		t.Fatalf("expected no warnings, got %+v", messages)
	}
}

func TestPasswordExpireAnonymousRequest(t *testing.T) {
	h := newExpireHarness(t, 1)

	rr := h.do(httptest.NewRequest(http.MethodGet, "/page", nil), &http.Cookie{Name: "sessionid", Value: "unknown"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestPasswordExpirePanicReachesRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zaptest.NewLogger(t)
	dbs := memory.NewDatabases("default")
	sessions := usecase.NewSessionService(redisrepo.NewSessionStore(client, "test:session"), dbs, time.Hour, logger)
	expiry := usecase.NewExpiryService(config.PasswordExpireSettings{Seconds: 60}, dbs, nil, sessions, logger)

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(io.Discard))
	router.Use(EnrichContext())
	router.Use(Session(SessionOptions{Sessions: sessions, Database: config.DefaultDatabaseAlias, TTL: time.Hour}, logger))
	router.Use(PasswordExpire(PasswordExpireOptions{Expiry: expiry, LogoutPath: testLogoutPath}, logger))
	router.GET("/boom", func(c *gin.Context) {
		panic("handler failed")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recovery, got %d", rr.Code)
	}
}
