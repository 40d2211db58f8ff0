package httpapi

import (
	stderrors "errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amirk1998/login-gatekeeper/internal/gatekeeper"
	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
	"github.com/amirk1998/login-gatekeeper/pkg/validator"
)

var inputValidator = validator.New()

func (r *Router) handleCaptcha(c *gin.Context) {
	sessionID, err := c.Cookie(sessionCookie)
	if err != nil || inputValidator.ValidateSessionID(sessionID) != nil {
		sessionID = r.svc.NewSession()
	}

	img, err := r.svc.IssueChallenge(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("challenge unavailable"))
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookie, sessionID, int(r.cfg.SessionTTL/time.Second), "/", "", r.cfg.SecureCookies, true)
	c.Header("Cache-Control", "no-store")
	c.Header(sessionHeader, sessionID)
	c.Data(http.StatusOK, "image/png", img)
}

func (r *Router) sessionID(c *gin.Context) string {
	if id, err := c.Cookie(sessionCookie); err == nil && id != "" {
		return id
	}
	return c.GetHeader(sessionHeader)
}

func (r *Router) handleLogin(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("malformed request"))
		return
	}

	req.SessionID = r.sessionID(c)
	req.RemoteAddr = c.ClientIP()

	res := r.svc.Login(c.Request.Context(), &req)
	out := res.Outcome

	switch out.Kind {
	case gatekeeper.Success:
		c.JSON(http.StatusOK, gin.H{
			"token":      res.Token,
			"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
		})
	case gatekeeper.ChallengeFailed:
		c.JSON(http.StatusBadRequest, errorBody(out.PublicMessage()))
	case gatekeeper.AccountNotFound, gatekeeper.InvalidCredentials:
		c.JSON(http.StatusUnauthorized, errorBody(out.PublicMessage()))
	case gatekeeper.Locked, gatekeeper.LockedJustNow:
		seconds := retryAfterSeconds(out.RetryAfter)
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		c.JSON(http.StatusLocked, gin.H{
			"error":       out.PublicMessage(),
			"retry_after": seconds,
		})
	default:
		if out.Retryable() {
			c.Header("Retry-After", "1")
		}
		c.JSON(http.StatusServiceUnavailable, errorBody(out.PublicMessage()))
	}
}

func retryAfterSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

func (r *Router) handleRegister(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("malformed request"))
		return
	}

	account, err := r.svc.Register(c.Request.Context(), &req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, account)
	case stderrors.Is(err, errors.ErrInvalidUsername), stderrors.Is(err, errors.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case stderrors.Is(err, errors.ErrAccountExists):
		c.JSON(http.StatusConflict, errorBody(err.Error()))
	case stderrors.Is(err, errors.ErrRateLimitExceeded):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, errorBody(err.Error()))
	default:
		r.log.Error(c.Request.Context(), "registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

func (r *Router) handleChangePassword(c *gin.Context) {
	var req models.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("malformed request"))
		return
	}

	username := c.GetString(usernameKey)
	err := r.svc.ChangePassword(c.Request.Context(), username, &req)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case stderrors.Is(err, errors.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case stderrors.Is(err, errors.ErrInvalidCredentials), stderrors.Is(err, errors.ErrAccountNotFound):
		c.JSON(http.StatusUnauthorized, errorBody(errors.ErrInvalidCredentials.Error()))
	case stderrors.Is(err, errors.ErrAccountLocked):
		c.JSON(http.StatusLocked, errorBody(err.Error()))
	case stderrors.Is(err, errors.ErrVersionConflict):
		c.JSON(http.StatusConflict, errorBody("account changed concurrently, retry"))
	default:
		r.log.Error(c.Request.Context(), "password change failed", "username", username, "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}
