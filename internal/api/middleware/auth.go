package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printapp/internal/db"
)

const (
	cookieName    = "printapp_auth"
	issuer        = "printapp"
	adminUser     = "admin"
	adminTokenTTL = 24 * time.Hour
	identityKey   = "identity"

	settingPasswordHash = "admin_password"
	settingTokenSecret  = "jwt_secret"
)

// Identity is who a request acts as. An admin manages printers and the
// server. An operator may submit to the printers named in its token and
// manage only the jobs it owns.
type Identity struct {
	User     string   `json:"user"`
	Admin    bool     `json:"admin"`
	Printers []string `json:"printers,omitempty"`
}

// CanUsePrinter reports whether the identity may see and print to name.
// An operator token without printers is not limited.
func (id Identity) CanUsePrinter(name string) bool {
	return id.Admin || len(id.Printers) == 0 || slices.Contains(id.Printers, name)
}

// CanManageJob reports whether the identity may cancel, release or delete a
// job submitted by owner.
func (id Identity) CanManageJob(owner string) bool {
	return id.Admin || id.User == owner
}

// CurrentIdentity returns the identity RequireAuth stored on the request.
// Routes served without authentication act as an anonymous admin.
func CurrentIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{Admin: true}
}

type Claims struct {
	jwt.RegisteredClaims
	Admin    bool     `json:"adm,omitempty"`
	Printers []string `json:"printers,omitempty"`
}

type AuthMiddleware struct {
	secret []byte
	now    func() time.Time
}

type SetupRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	// User names the admin session in job ownership and the audit log.
	User     string `json:"user" binding:"max=255"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

// IssueTokenRequest asks for an operator token. Hours defaults to 24.
type IssueTokenRequest struct {
	User     string   `json:"user" binding:"required,max=255"`
	Printers []string `json:"printers"`
	Hours    int      `json:"hours" binding:"min=0,max=8760"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StatusResponse struct {
	Authenticated bool      `json:"authenticated"`
	SetupRequired bool      `json:"setup_required"`
	Identity      *Identity `json:"identity,omitempty"`
}

// NewAuthMiddleware loads the token signing key, creating it on first start.
func NewAuthMiddleware(ctx context.Context) (*AuthMiddleware, error) {
	secret, err := loadSecret(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load token secret: %w", err)
	}
	return &AuthMiddleware{secret: secret, now: time.Now}, nil
}

func loadSecret(ctx context.Context) ([]byte, error) {
	s, err := db.Settings.GetSetting(ctx, settingTokenSecret)
	if err == nil {
		return hex.DecodeString(s.Value)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := db.Settings.SetSetting(ctx, settingTokenSecret, hex.EncodeToString(secret), false); err != nil {
		return nil, err
	}
	return secret, nil
}

func (a *AuthMiddleware) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/setup", a.Setup)
	r.POST("/login", a.Login)
	r.POST("/logout", a.Logout)
	r.GET("/status", a.Status)
	r.POST("/password", a.RequireAuth(), RequireAdmin(), a.ChangePassword)
	r.POST("/tokens", a.RequireAuth(), RequireAdmin(), a.IssueToken)
}

func (a *AuthMiddleware) issue(id Identity, ttl time.Duration) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   id.User,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Admin:    id.Admin,
		Printers: id.Printers,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	return token, expires, err
}

func (a *AuthMiddleware) parse(raw string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return Identity{User: claims.Subject, Admin: claims.Admin, Printers: claims.Printers}, nil
}

func tokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if v, err := c.Cookie(cookieName); err == nil {
		return v
	}
	return ""
}

// RequireAuth rejects requests without a valid token and stores the token's
// identity on the context.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFrom(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authentication required"})
			return
		}
		id, err := a.parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid or expired token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentIdentity(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Admin access required"})
			return
		}
		c.Next()
	}
}

func passwordHash(ctx context.Context) (string, error) {
	s, err := db.Settings.GetSetting(ctx, settingPasswordHash)
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

func setPassword(ctx context.Context, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.Settings.SetSetting(ctx, settingPasswordHash, string(hash), false)
}

// startSession issues an admin token and sets it as the session cookie.
func (a *AuthMiddleware) startSession(c *gin.Context, user string) {
	token, _, err := a.issue(Identity{User: user, Admin: true}, adminTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Failed to issue token"})
		return
	}
	c.SetCookie(cookieName, token, int(adminTokenTTL.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Token: token})
}

func (a *AuthMiddleware) Setup(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := passwordHash(ctx); !errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Password must be at least 6 characters"})
		return
	}
	if err := setPassword(ctx, req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Failed to save password"})
		return
	}
	a.startSession(c, adminUser)
}

func (a *AuthMiddleware) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Invalid request"})
		return
	}

	hash, err := passwordHash(c.Request.Context())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusForbidden, LoginResponse{Message: "Setup required"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Server error"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Invalid password"})
		return
	}

	user := req.User
	if user == "" {
		user = adminUser
	}
	a.startSession(c, user)
}

func (a *AuthMiddleware) Logout(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: "Logged out"})
}

func (a *AuthMiddleware) Status(c *gin.Context) {
	_, err := passwordHash(c.Request.Context())
	resp := StatusResponse{SetupRequired: errors.Is(err, sql.ErrNoRows)}
	if raw := tokenFrom(c); raw != "" {
		if id, err := a.parse(raw); err == nil {
			resp.Authenticated = true
			resp.Identity = &id
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *AuthMiddleware) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	hash, err := passwordHash(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Server error"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.CurrentPassword)) != nil {
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Current password is incorrect"})
		return
	}
	if err := setPassword(ctx, req.NewPassword); err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Failed to update password"})
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: "Password changed"})
}

// IssueToken mints an operator token for a print client or kiosk.
func (a *AuthMiddleware) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	ttl := adminTokenTTL
	if req.Hours > 0 {
		ttl = time.Duration(req.Hours) * time.Hour
	}
	id := Identity{User: req.User, Printers: req.Printers}
	token, expires, err := a.issue(id, ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_error", "message": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusCreated, TokenResponse{Token: token, Identity: id, ExpiresAt: expires})
}
