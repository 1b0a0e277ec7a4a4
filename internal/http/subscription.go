package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"finance-saas-go/internal/logger"
	"finance-saas-go/internal/models"
	"finance-saas-go/internal/payments"
	"finance-saas-go/internal/subscription"
)

const maxWebhookBytes = 1 << 20

// GET /api/subscription/plans
func (s *Server) listPlans(c *gin.Context) {
	c.JSON(200, gin.H{"plans": subscription.Plans()})
}

// GET /api/subscription/status
func (s *Server) subscriptionStatus(c *gin.Context) {
	c.JSON(200, subscription.Status(*account(c), s.now()))
}

// POST /api/subscription/create-checkout
func (s *Server) createCheckout(c *gin.Context) {
	var input struct {
		Plan string `json:"plan" binding:"required,paid_plan"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_plan", "Invalid plan selected")
		return
	}

	link, err := s.subs.StartCheckout(c.Request.Context(), account(c), models.PlanID(input.Plan))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"paymentId": link.ID, "url": link.URL})
}

// POST /api/subscription/cancel
func (s *Server) cancelSubscription(c *gin.Context) {
	periodEnd, err := s.subs.Cancel(c.Request.Context(), account(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, gin.H{
		"message":          "Subscription cancelled. Access will continue until the end of the billing period.",
		"currentPeriodEnd": periodEnd,
	})
}

// POST /api/subscription/reactivate
func (s *Server) reactivateSubscription(c *gin.Context) {
	if err := s.subs.Reactivate(*account(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(200, gin.H{
		"message":    "Please select a plan to reactivate your subscription",
		"redirectTo": "/pricing",
	})
}

// POST /api/subscription/webhook
func (s *Server) paymentWebhook(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		badRequest(c, "invalid_request", "failed to read body")
		return
	}
	if !payments.VerifySignature(s.cfg.ZiinaWebhookSecret, body, c.GetHeader(payments.SignatureHeader)) {
		log.Warn().Msg("webhook signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	ev, err := payments.ParseEvent(body)
	if err != nil {
		badRequest(c, "invalid_event", err.Error())
		return
	}

	handled, err := s.subs.ApplyEvent(c.Request.Context(), ev, s.now())
	switch {
	case errors.Is(err, subscription.ErrAccountNotFound):
		log.Warn().Str("event", ev.Type).Str("user_id", ev.Data.Metadata.UserID).Msg("webhook for unknown account")
	case err != nil:
		s.respondError(c, err)
		return
	case !handled:
		log.Info().Str("event", ev.Type).Msg("webhook event ignored")
	default:
		log.Info().Str("event", ev.Type).Str("user_id", ev.Data.Metadata.UserID).Msg("webhook event applied")
	}
	c.JSON(200, gin.H{"received": true})
}
