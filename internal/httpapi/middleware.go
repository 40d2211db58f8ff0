package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

const usernameKey = "username"

func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		if r.metrics != nil {
			r.metrics.ObserveRequest(c.Request.Method, route, status, elapsed)
		}
		r.log.Info(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"client_ip", c.ClientIP(),
		)
	}
}

func (r *Router) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		r.log.Error(c.Request.Context(), "panic in handler", "route", c.FullPath(), "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal error"))
	})
}

// rateLimit throttles per client IP.
func (r *Router) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.limiter == nil || r.limiter.Allow(c.Request.Context(), "ip:"+c.ClientIP()) {
			c.Next()
			return
		}

		if r.metrics != nil {
			r.metrics.IncRateLimited(c.FullPath())
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody("too many requests"))
	}
}

// requireAuth accepts "Authorization: Bearer <token>" and stores the
// token's username in the context.
func (r *Router) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(errors.ErrUnauthorized.Error()))
			return
		}

		username, err := r.svc.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(err.Error()))
			return
		}

		c.Set(usernameKey, username)
		c.Next()
	}
}

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}
