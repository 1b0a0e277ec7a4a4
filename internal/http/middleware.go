package http

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"finance-saas-go/internal/config"
	"finance-saas-go/internal/logger"
	"finance-saas-go/internal/models"
	"finance-saas-go/internal/subscription"
)

const (
	ctxAccount   = "account"
	ctxUserID    = "userID"
	ctxRequestID = "requestID"

	requestIDHeader = "X-Request-ID"
)

// AuthMiddleware resolves the bearer token to an account and stores it in
// the context.
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "authorization_header_missing"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(401, gin.H{"error": "authorization_header_invalid"})
			return
		}

		id, err := s.tokens.Parse(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid_token"})
			return
		}

		acct, err := s.subs.Load(c.Request.Context(), id)
		if errors.Is(err, subscription.ErrAccountNotFound) {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid_token_user_not_found"})
			return
		}
		if err != nil {
			s.respondError(c, err)
			c.Abort()
			return
		}

		c.Set(ctxAccount, acct)
		c.Set(ctxUserID, acct.ID)
		log := logger.FromContext(c.Request.Context()).With().Uint("account_id", acct.ID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), log))

		c.Next()
	}
}

func account(c *gin.Context) *models.Account {
	return c.MustGet(ctxAccount).(*models.Account)
}

// GateMiddleware rejects transaction-creating requests the account's
// subscription does not allow, and persists any expiry that is due.
func (s *Server) GateMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.subs.Gate(c.Request.Context(), account(c), s.now()); err != nil {
			s.respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// logging writes one access log line per request and hands a request-scoped
// logger to the handlers through the request context.
func logging(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		log := base.With().Str("request_id", c.GetString(ctxRequestID)).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), log))

		c.Next()

		ev := log.Info()
		if c.Writer.Status() >= 500 {
			ev = log.Error()
		}
		if id, ok := c.Get(ctxUserID); ok {
			ev = ev.Uint("account_id", id.(uint))
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func cors(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.AllowOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// bodyLimit caps JSON request bodies. Multipart uploads have their own
// limit and the payment webhook reads its raw body for signature checks.
func bodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil &&
			!isMultipart(c.Request) && !strings.HasSuffix(c.Request.URL.Path, "/subscription/webhook") {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// accountLimiter hands out one token bucket per account.
type accountLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[uint]*rate.Limiter
}

func newAccountLimiter(rps float64, burst int) *accountLimiter {
	if burst < 1 {
		burst = 1
	}
	return &accountLimiter{limit: rate.Limit(rps), burst: burst, limiters: map[uint]*rate.Limiter{}}
}

func (l *accountLimiter) allow(id uint) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimit throttles the routes that call the language model.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(account(c).ID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests, please slow down.",
			})
			return
		}
		c.Next()
	}
}
