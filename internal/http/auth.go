package http

import (
	"github.com/gin-gonic/gin"

	"finance-saas-go/internal/models"
	"finance-saas-go/internal/subscription"
)

// Auth Response Wrapper
type AuthResponse struct {
	Token string          `json:"token"`
	User  *models.Account `json:"user"`
}

// POST /api/auth/register
func (s *Server) authRegister(c *gin.Context) {
	var input struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}

	acct, err := s.accounts.Register(c.Request.Context(), input.Name, input.Email, input.Password, s.now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.issueToken(c, 201, acct)
}

// POST /api/auth/login
func (s *Server) authLogin(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}

	acct, err := s.accounts.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.issueToken(c, 200, acct)
}

func (s *Server) issueToken(c *gin.Context, status int, acct *models.Account) {
	token, err := s.tokens.Issue(acct.ID, s.now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(status, AuthResponse{Token: token, User: acct})
}

// GET /api/auth/me
func (s *Server) authMe(c *gin.Context) {
	acct := account(c)
	c.JSON(200, gin.H{
		"user":         acct,
		"subscription": subscription.Status(*acct, s.now()),
	})
}
