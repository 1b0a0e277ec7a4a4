package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"finance-saas-go/internal/ai"
	"finance-saas-go/internal/auth"
	"finance-saas-go/internal/ledger"
	"finance-saas-go/internal/logger"
	"finance-saas-go/internal/payments"
	"finance-saas-go/internal/subscription"
)

const upgradeMessage = "Subscription limit reached. Please upgrade your plan."

// upstreamError marks a failure of an external service.
type upstreamError struct {
	code string
	err  error
}

func (e *upstreamError) Error() string { return e.code + ": " + e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

func upstream(code string, err error) error {
	return &upstreamError{code: code, err: err}
}

// respondError maps an error to its HTTP status and JSON body. Unexpected
// errors are logged and reported without detail in production.
func (s *Server) respondError(c *gin.Context, err error) {
	log := logger.FromContext(c.Request.Context())
	var (
		verr  *ledger.ValidationError
		quota *subscription.QuotaError
		up    *upstreamError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": verr.Fields})
	case errors.As(err, &quota):
		c.JSON(http.StatusForbidden, gin.H{
			"error":              "quota_exceeded",
			"message":            upgradeMessage,
			"reason":             quota.Reason,
			"subscriptionStatus": quota.Status,
			"needsUpgrade":       true,
		})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found"})
	case errors.Is(err, ledger.ErrBadCSV):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_csv", "message": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "user_already_exists"})
	case errors.Is(err, auth.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{"password": err.Error()}})
	case errors.Is(err, subscription.ErrInvalidPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": err.Error()})
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_active_subscription", "message": err.Error()})
	case errors.Is(err, subscription.ErrAlreadyActive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "already_active", "message": err.Error()})
	case errors.Is(err, subscription.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account_not_found"})
	case errors.Is(err, ai.ErrNotConfigured), errors.Is(err, payments.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service_not_configured"})
	case errors.As(err, &up):
		log.Warn().Err(err).Msg("upstream failure")
		body := gin.H{"error": up.code}
		if !s.cfg.Production() {
			body["detail"] = up.err.Error()
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, subscription.ErrCheckoutFailed):
		log.Warn().Err(err).Msg("checkout failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment_provider_error"})
	default:
		log.Error().Err(err).Msg("request failed")
		body := gin.H{"error": "internal_error"}
		if !s.cfg.Production() {
			body["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": message})
}
