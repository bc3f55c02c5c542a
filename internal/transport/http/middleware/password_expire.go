package middleware

import (
	"bytes"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/usecase"
)

// PasswordExpireOptions configures PasswordExpire.
type PasswordExpireOptions struct {
	Expiry     *usecase.ExpiryService
	LogoutPath string
}

// PasswordExpire warns users whose password is about to expire and sends users
// whose login was refused to the change or reset page. The downstream response
// is buffered so it can be replaced by the redirect.
func PasswordExpire(opts PasswordExpireOptions, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		state := RequestState(c)
		if state == nil || opts.Expiry == nil {
			c.Next()
			return
		}

		if shouldWarn(c, opts.LogoutPath) {
			if _, err := opts.Expiry.Warn(c.Request.Context(), state); err != nil {
				log.Warn("password expiration check failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
			}
		}

		original := c.Writer
		buffer := &bufferedWriter{ResponseWriter: original, status: http.StatusOK}
		runBuffered(c, original, buffer)

		if !state.RedirectToPasswordChange {
			buffer.flushTo(original)
			return
		}

		target, label := opts.Expiry.RedirectTarget(state.ExpiredUser)
		if err := opts.Expiry.Redirected(c.Request.Context(), state, label); err != nil {
			log.Warn("logout before redirect failed", zap.String("trace_id", GetTraceID(c)), zap.Error(err))
		}
		SyncSessionCookie(c)

		location := target
		if state.ExpiredUser != nil {
			location = withUsername(target, state.ExpiredUser.Username)
		}
		header := original.Header()
		header.Del("Content-Type")
		header.Del("Content-Length")
		c.Redirect(http.StatusFound, location)
	}
}

// runBuffered runs the rest of the chain against buffer. The real writer is
// restored before a panic leaves this frame so an outer recovery handler
// answers on it instead of the discarded buffer.
func runBuffered(c *gin.Context, original gin.ResponseWriter, buffer *bufferedWriter) {
	c.Writer = buffer
	defer func() {
		c.Writer = original
	}()
	c.Next()
}

func shouldWarn(c *gin.Context, logoutPath string) bool {
	if c.Request.Method != http.MethodGet {
		return false
	}
	if c.GetHeader("X-Requested-With") == "XMLHttpRequest" {
		return false
	}
	if logoutPath == "" {
		return true
	}
	return c.FullPath() != logoutPath && c.Request.URL.Path != logoutPath
}

func withUsername(target, username string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	query := u.Query()
	query.Set("username", username)
	u.RawQuery = query.Encode()
	return u.String()
}

// bufferedWriter holds the status and body until flushTo is called.
type bufferedWriter struct {
	gin.ResponseWriter
	status  int
	written bool
	body    bytes.Buffer
}

func (w *bufferedWriter) WriteHeader(code int) {
	if code > 0 {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	w.written = true
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	w.written = true
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	w.written = true
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	if !w.written {
		return -1
	}
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.written
}

func (w *bufferedWriter) Flush() {}

func (w *bufferedWriter) flushTo(dst gin.ResponseWriter) {
	dst.WriteHeader(w.status)
	if w.body.Len() > 0 {
		_, _ = dst.Write(w.body.Bytes())
		return
	}
	if w.written {
		dst.WriteHeaderNow()
	}
}
