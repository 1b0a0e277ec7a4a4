package http

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"finance-saas-go/internal/ai"
	"finance-saas-go/internal/analytics"
	"finance-saas-go/internal/auth"
	"finance-saas-go/internal/config"
	"finance-saas-go/internal/ledger"
	"finance-saas-go/internal/receipts"
	"finance-saas-go/internal/subscription"
)

// Deps are the collaborators the HTTP layer calls into. Enricher may be nil
// when no model provider is configured.
type Deps struct {
	Ledger    *ledger.Store
	Subs      *subscription.Service
	Analytics *analytics.Engine
	Accounts  *auth.Accounts
	Tokens    *auth.Tokens
	Enricher  ai.Enricher
	Receipts  receipts.Store
	Log       zerolog.Logger
	Now       func() time.Time
}

type Server struct {
	cfg       *config.Config
	ledger    *ledger.Store
	subs      *subscription.Service
	analytics *analytics.Engine
	accounts  *auth.Accounts
	tokens    *auth.Tokens
	enricher  ai.Enricher
	receipts  receipts.Store
	log       zerolog.Logger
	now       func() time.Time
	limiter   *accountLimiter
}

func NewServer(cfg *config.Config, d Deps) *gin.Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	registerValidators()
	s := &Server{
		cfg:       cfg,
		ledger:    d.Ledger,
		subs:      d.Subs,
		analytics: d.Analytics,
		accounts:  d.Accounts,
		tokens:    d.Tokens,
		enricher:  d.Enricher,
		receipts:  d.Receipts,
		log:       d.Log,
		now:       d.Now,
		limiter:   newAccountLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(logging(s.log))
	r.Use(cors(cfg))
	r.Use(bodyLimit(cfg.MaxBodyKB * 1024))

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC()}) })

	// Auth
	api.POST("/auth/register", s.authRegister)
	api.POST("/auth/login", s.authLogin)

	api.GET("/subscription/plans", s.listPlans)
	api.POST("/subscription/webhook", s.paymentWebhook)

	authorized := api.Group("")
	authorized.Use(s.AuthMiddleware())
	{
		authorized.GET("/auth/me", s.authMe)

		authorized.GET("/transactions", s.listTransactions)
		authorized.GET("/transactions/:id", s.getTransaction)
		authorized.PUT("/transactions/:id", s.updateTransaction)
		authorized.DELETE("/transactions/:id", s.deleteTransaction)

		gated := authorized.Group("")
		gated.Use(s.GateMiddleware())
		{
			gated.POST("/transactions", s.createTransaction)
			gated.POST("/transactions/import-csv", s.importCSV)
			gated.POST("/transactions/scan-receipt", s.rateLimit(), s.scanReceipt)
		}

		authorized.GET("/reports/analytics", s.getAnalytics)
		authorized.GET("/reports/monthly", s.rateLimit(), s.getMonthlyReport)

		authorized.GET("/subscription/status", s.subscriptionStatus)
		authorized.POST("/subscription/create-checkout", s.createCheckout)
		authorized.POST("/subscription/cancel", s.cancelSubscription)
		authorized.POST("/subscription/reactivate", s.reactivateSubscription)
	}

	if _, ok := s.receipts.(*receipts.LocalStore); ok {
		r.Static("/uploads", filepath.Clean(cfg.UploadDir))
	}
	return r
}

// uploadLimit is the byte cap for multipart routes.
func (s *Server) uploadLimit() int64 {
	return s.cfg.MaxUploadMB * 1024 * 1024
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
