package middleware

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/core/port"
	appLogger "github.com/jayceeit/password-expire/internal/infra/logger"
)

const messageTooManyAttempts = "too many attempts, try again later"

// KeyFunc names the bucket a request is counted in. An empty key disables
// limiting for that request.
type KeyFunc func(*gin.Context) string

// RateLimitRule is a sliding window of Limit attempts per key.
type RateLimitRule struct {
	Name   string
	Limit  int
	Window time.Duration
	Key    KeyFunc
	// Counts reports whether a finished request used up an attempt. Nil counts
	// every request.
	Counts func(status int) bool
}

// RateLimiter throttles password guessing on login, change and reset.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// AccountKey keys on the account an attempt targets and the client IP, so one
// address guessing many accounts and many addresses guessing one account are
// throttled separately per pair. The account is the session user when there is
// one, otherwise the submitted username. Requests without either fall back to
// the IP alone.
func AccountKey() KeyFunc {
	return func(c *gin.Context) string {
		ip := c.ClientIP()
		username := ""
		if state := RequestState(c); state != nil && state.Authenticated() {
			username = state.User.Username
		} else {
			username = submittedUsername(c)
		}
		username = strings.ToLower(strings.TrimSpace(username))
		if username == "" {
			return ip
		}
		return username + "@" + ip
	}
}

// CountStatus counts only responses with one of the given status codes.
func CountStatus(codes ...int) func(int) bool {
	return func(status int) bool {
		for _, code := range codes {
			if status == code {
				return true
			}
		}
		return false
	}
}

// submittedUsername peeks at the request body and puts it back for the handler.
func submittedUsername(c *gin.Context) string {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return ""
	}

	switch c.ContentType() {
	case binding.MIMEJSON:
		var payload struct {
			Username string `json:"username"`
		}
		if err := binding.JSON.BindBody(raw, &payload); err != nil {
			return ""
		}
		return payload.Username
	case binding.MIMEPOSTForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return ""
		}
		return values.Get("username")
	default:
		return ""
	}
}

// RateLimit rejects a request with 429 once its key has Limit counted attempts
// inside the window. Store failures let the request through.
func (rl *RateLimiter) RateLimit(rule RateLimitRule) gin.HandlerFunc {
	if rule.Key == nil || rule.Limit <= 0 || rule.Window <= 0 || rl.store == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if rule.Name == "" {
		rule.Name = "default"
	}

	return func(c *gin.Context) {
		key := rule.Key(c)
		if key == "" {
			c.Next()
			return
		}
		storageKey := rule.Name + ":" + key
		ctx := c.Request.Context()
		now := rl.now()
		log := rl.logger.With(
			zap.String("rule", rule.Name),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
			zap.String("trace_id", GetTraceID(c)),
		)

		retryAfter, blocked, err := rl.check(ctx, rule, storageKey, now)
		if err != nil {
			log.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if blocked {
			log.Info("rate limit exceeded")
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, newErrorResponse(c, messageTooManyAttempts))
			return
		}

		c.Next()

		if rule.Counts != nil && !rule.Counts(c.Writer.Status()) {
			return
		}
		if err := rl.store.RecordAttempt(ctx, storageKey, now); err != nil {
			log.Warn("rate limit record failed", zap.Error(err))
		}
	}
}

func (rl *RateLimiter) check(ctx context.Context, rule RateLimitRule, key string, now time.Time) (time.Duration, bool, error) {
	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return 0, false, err
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return 0, false, err
	}
	if count < rule.Limit {
		return 0, false, nil
	}

	retryAfter := rule.Window
	oldest, ok, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return 0, false, err
	}
	if ok {
		retryAfter = oldest.Add(rule.Window).Sub(now)
	}
	return max(retryAfter, 0), true, nil
}
