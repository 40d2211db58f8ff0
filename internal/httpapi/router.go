// Package httpapi exposes the gatekeeper over HTTP using gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amirk1998/login-gatekeeper/internal/logging"
	"github.com/amirk1998/login-gatekeeper/internal/metrics"
	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/internal/ratelimit"
	"github.com/amirk1998/login-gatekeeper/internal/service"
)

const (
	sessionCookie = "gk_session"
	sessionHeader = "X-Session-ID"
)

// AuthService is the application surface the handlers call.
type AuthService interface {
	NewSession() string
	IssueChallenge(ctx context.Context, sessionID string) ([]byte, error)
	Register(ctx context.Context, req *models.RegisterRequest) (*models.Account, error)
	Login(ctx context.Context, req *models.LoginRequest) *service.LoginResult
	Authenticate(token string) (string, error)
	ChangePassword(ctx context.Context, username string, req *models.ChangePasswordRequest) error
}

type Config struct {
	AllowedOrigins []string
	TrustedProxies []string
	SecureCookies  bool
	SessionTTL     time.Duration
}

type Router struct {
	svc     AuthService
	limiter ratelimit.Limiter
	metrics *metrics.Metrics
	log     logging.Logger
	cfg     Config
	engine  *gin.Engine
}

// NewRouter wires the routes. limiter and m may be nil; gatherer nil
// disables /metrics.
func NewRouter(svc AuthService, limiter ratelimit.Limiter, m *metrics.Metrics, gatherer prometheus.Gatherer, log logging.Logger, cfg Config) *Router {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}

	r := &Router{
		svc:     svc,
		limiter: limiter,
		metrics: m,
		log:     log,
		cfg:     cfg,
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn(context.Background(), "invalid trusted proxies, ignoring forwarded headers", "error", err)
		_ = engine.SetTrustedProxies(nil)
	}
	engine.Use(r.recovery(), r.requestLogger())

	if len(cfg.AllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", sessionHeader)
		corsCfg.ExposeHeaders = []string{"Retry-After", sessionHeader}
		engine.Use(cors.New(corsCfg))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/api/v1").Use(r.rateLimit())
	{
		api.GET("/captcha", r.handleCaptcha)
		api.POST("/login", r.handleLogin)
		api.POST("/register", r.handleRegister)
		api.POST("/password", r.requireAuth(), r.handleChangePassword)
	}

	r.engine = engine
	return r
}

// Handler returns the http.Handler serving all routes.
func (r *Router) Handler() http.Handler {
	return r.engine
}
