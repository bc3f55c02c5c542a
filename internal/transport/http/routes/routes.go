package routes

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jayceeit/password-expire/internal/infra/config"
	"github.com/jayceeit/password-expire/internal/transport/http/handlers"
	"github.com/jayceeit/password-expire/internal/transport/http/middleware"
	"github.com/jayceeit/password-expire/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth          *usecase.AuthService
	Users         *usecase.UserService
	Expiry        *usecase.ExpiryService
	Sessions      *usecase.SessionService
	Messages      *usecase.MessageService
	PasswordReset *usecase.PasswordResetService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
	Services    ServiceSet
	Databases   map[string]DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}

	healthHandler := newHealthHandler(deps)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Services.Sessions == nil || deps.Services.Expiry == nil {
		log.Warn("session or expiry service missing, api routes disabled")
		return r
	}

	logoutPath := deps.Config.PasswordExpire.LogoutPath
	if logoutPath == "" {
		logoutPath = defaultLogoutPath
	}

	api := r.Group("/api/v1")
	api.Use(middleware.Session(middleware.SessionOptions{
		Sessions:         deps.Services.Sessions,
		Messages:         deps.Services.Messages,
		Database:         deps.Config.CurrentDatabase(),
		CookieName:       deps.Config.Session.CookieName,
		ClientCookieName: deps.Config.Session.ClientCookieName,
		TTL:              deps.Config.Session.TTL,
		Secure:           deps.Config.Session.Secure,
	}, log))
	api.Use(middleware.PasswordExpire(middleware.PasswordExpireOptions{
		Expiry:     deps.Services.Expiry,
		LogoutPath: logoutPath,
	}, log))
	{
		isDev := deps.Config.App.Env != "production"
		notificationDispatcher := handlers.NewLoggingNotificationDispatcher(log)

		authHandler := handlers.NewAuthHandler(deps.Services.Auth)
		authHandler.RegisterRoutes(api.Group("/auth"), buildLimit(deps, "auth_login", deps.Config.RateLimit.LoginMaxAttempts, http.StatusUnauthorized)...)

		messagesHandler := handlers.NewMessagesHandler(deps.Services.Messages)
		api.GET("/messages", messagesHandler.List)

		passwordHandler := handlers.NewPasswordHandler(deps.Services.Users, deps.Services.Expiry, deps.Services.PasswordReset, notificationDispatcher, isDev)

		passwordGroup := api.Group("/password")
		passwordGroup.GET("/status", middleware.RequireUser(), passwordHandler.Status)

		changeHandlers := buildLimit(deps, "password_change", deps.Config.RateLimit.PasswordChangeMaxAttempts, http.StatusUnauthorized)
		changeHandlers = append(changeHandlers, passwordHandler.ChangePassword)
		passwordGroup.POST("/change", changeHandlers...)

		resetGroup := passwordGroup.Group("/reset")
		if resetMiddlewares := buildLimit(deps, "password_reset", deps.Config.RateLimit.PasswordResetMaxAttempts); len(resetMiddlewares) > 0 {
			resetGroup.Use(resetMiddlewares...)
		}
		resetGroup.POST("/request", passwordHandler.ResetPassword)
		resetGroup.POST("/confirm", passwordHandler.ConfirmReset)

		adminGroup := api.Group("/admin")
		adminGroup.Use(middleware.RequireSuperuser())
		handlers.NewAdminHandler(deps.Services.Users, deps.Services.Expiry).RegisterRoutes(adminGroup)
	}

	return r
}

const defaultLogoutPath = "/api/v1/auth/logout"

func newHealthHandler(deps Dependencies) *handlers.HealthHandler {
	options := make([]handlers.HealthOption, 0, len(deps.Databases)+1)

	aliases := make([]string, 0, len(deps.Databases))
	for alias := range deps.Databases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		options = append(options, handlers.WithReadinessCheck("database:"+alias, deps.Databases[alias].Ping))
	}

	if deps.Cache != nil {
		options = append(options, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	return handlers.NewHealthHandler(options...)
}

// buildLimit keys attempts on account and IP. When counted is set only
// responses with those statuses use up an attempt, so a user who types the
// right password is never locked out by earlier successes.
func buildLimit(deps Dependencies, name string, limit int, counted ...int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:   name,
		Limit:  limit,
		Window: window,
		Key:    middleware.AccountKey(),
	}
	if len(counted) > 0 {
		rule.Counts = middleware.CountStatus(counted...)
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
