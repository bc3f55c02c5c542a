package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/usecase"
)

const (
	requestStateKey  = "request_state"
	cookieOptionsKey = "session_cookie_options"
	cookieWrittenKey = "session_cookie_written"

	clientCookieMaxAge = 365 * 24 * 60 * 60
)

// SessionOptions configures the cookie backed request state.
type SessionOptions struct {
	Sessions         *usecase.SessionService
	Messages         *usecase.MessageService
	Database         string
	CookieName       string
	ClientCookieName string
	TTL              time.Duration
	Secure           bool
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.CookieName == "" {
		o.CookieName = "sessionid"
	}
	if o.ClientCookieName == "" {
		o.ClientCookieName = "messages"
	}
	if o.TTL <= 0 {
		o.TTL = 12 * time.Hour
	}
	return o
}

// Session resolves the session cookie into a usecase.RequestState and persists
// queued flash messages once the request is done. A second cookie identifies the
// browser so messages survive a forced logout.
func Session(opts SessionOptions, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()

	return func(c *gin.Context) {
		clientKey, err := c.Cookie(opts.ClientCookieName)
		if err != nil || clientKey == "" {
			clientKey = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(opts.ClientCookieName, clientKey, clientCookieMaxAge, "/", "", opts.Secure, true)
		}

		var queue *usecase.MessageQueue
		if opts.Messages != nil {
			queue = opts.Messages.Queue(clientKey)
		}
		state := usecase.NewRequestState(opts.Database, clientKey, queue)

		if sessionID, err := c.Cookie(opts.CookieName); err == nil && opts.Sessions != nil {
			if err := opts.Sessions.Resolve(c.Request.Context(), state, sessionID); err != nil {
				log.Warn("resolve session failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
			}
		}

		reqCtx := GetRequestContext(c)
		reqCtx.Database = state.Database
		if state.User != nil {
			reqCtx.UserID = state.User.UUID
		}

		c.Set(requestStateKey, state)
		c.Set(cookieOptionsKey, opts)

		c.Next()

		if err := state.Messages().Flush(c.Request.Context()); err != nil {
			log.Warn("persist flash messages failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
		}
	}
}

// RequestState returns the state attached by Session, or nil.
func RequestState(c *gin.Context) *usecase.RequestState {
	if value, ok := c.Get(requestStateKey); ok {
		if state, ok := value.(*usecase.RequestState); ok {
			return state
		}
	}
	return nil
}

// SyncSessionCookie writes the session cookie for state: set after a login and
// cleared after a logout. It must run before the response body is written.
func SyncSessionCookie(c *gin.Context) {
	state := RequestState(c)
	value, ok := c.Get(cookieOptionsKey)
	if state == nil || !ok {
		return
	}
	opts := value.(SessionOptions)

	var cookie string
	switch {
	case state.SessionID != "":
		cookie = state.SessionID
	case state.LoggedOut:
		cookie = "-"
	default:
		return
	}
	if written, _ := c.Get(cookieWrittenKey); written == cookie {
		return
	}
	c.Set(cookieWrittenKey, cookie)

	c.SetSameSite(http.SameSiteLaxMode)
	if state.SessionID != "" {
		c.SetCookie(opts.CookieName, state.SessionID, int(opts.TTL.Seconds()), "/", "", opts.Secure, true)
		return
	}
	c.SetCookie(opts.CookieName, "", -1, "/", "", opts.Secure, true)
}
