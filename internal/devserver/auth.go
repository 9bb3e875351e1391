package devserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hopon-app/hopon-go/internal/api"
)

const contextKeyUserID = "user_id"

// accessClaims is the access-token payload.
type accessClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// tokenIssuer mints and validates the dev token pair. Access and refresh
// tokens use distinct secrets so one can never stand in for the other.
type tokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		accessSecret:  []byte(uuid.NewString()),
		refreshSecret: []byte(uuid.NewString()),
		accessTTL:     15 * time.Minute,
		refreshTTL:    7 * 24 * time.Hour,
		issuer:        "hopon-dev",
	}
}

func (t *tokenIssuer) mintAccess(userID int64, email string) (string, error) {
	nowTS := time.Now()
	claims := accessClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(nowTS.Add(t.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(nowTS),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.accessSecret)
}

func (t *tokenIssuer) mintRefresh(userID int64) (string, error) {
	nowTS := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   strconv.FormatInt(userID, 10),
		ExpiresAt: jwt.NewNumericDate(nowTS.Add(t.refreshTTL)),
		IssuedAt:  jwt.NewNumericDate(nowTS),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.refreshSecret)
}

func (t *tokenIssuer) validateAccess(tokenString string) (*accessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.accessSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func (t *tokenIssuer) validateRefresh(tokenString string) (int64, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.refreshSecret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	return strconv.ParseInt(claims.Subject, 10, 64)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := s.tokens.validateAccess(parts[1])
		if err != nil {
			s.log.Debug().Err(err).Msg("invalid access token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(contextKeyUserID)
}

// RegisterRequest is the signup body.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest is the password-grant body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /auth/register
func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	s.mu.Lock()
	if _, exists := s.usersByEmail[req.Email]; exists {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		return
	}
	u := &user{
		User: api.User{
			ID:        s.allocID(),
			Name:      req.Name,
			Email:     req.Email,
			CreatedAt: now(),
		},
		passwordHash: string(hash),
	}
	s.users[u.ID] = u
	s.usersByEmail[req.Email] = u.ID
	s.mu.Unlock()

	s.log.Info().Str("email", req.Email).Int64("user_id", u.ID).Msg("user registered")
	s.issueTokens(c, &u.User)
}

// POST /auth/login
func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s.mu.Lock()
	id, ok := s.usersByEmail[req.Email]
	var u *user
	if ok {
		u = s.users[id]
	}
	s.mu.Unlock()

	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}

	s.issueTokens(c, &u.User)
}

func (s *Server) issueTokens(c *gin.Context, u *api.User) {
	access, err := s.tokens.mintAccess(u.ID, u.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	refresh, err := s.tokens.mintRefresh(u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, api.Credentials{AccessToken: access, RefreshToken: refresh})
}

// POST /auth/refresh
func (s *Server) handleRefresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	userID, err := s.tokens.validateRefresh(req.RefreshToken)
	if err != nil {
		s.log.Debug().Err(err).Msg("invalid refresh token")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid refresh token"})
		return
	}

	s.mu.Lock()
	u := s.users[userID]
	s.mu.Unlock()
	if u == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unknown user"})
		return
	}

	access, err := s.tokens.mintAccess(u.ID, u.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": access})
}

// GET /auth/me
func (s *Server) handleMe(c *gin.Context) {
	s.mu.Lock()
	u := s.users[currentUserID(c)]
	s.mu.Unlock()
	if u == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unknown user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u.User})
}
