package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"slotly-backend/config"
	"slotly-backend/internal/model"
)

const (
	authorizationHeaderKey  = "Authorization"
	authorizationTypeBearer = "Bearer"
	identityKey             = "identity"
)

// Identity is the caller, as asserted by the identity provider's token.
type Identity struct {
	UserID   int64
	Username string
	FullName string
	Email    string
	Role     string
}

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == model.RoleAdmin
}

// Claims is the payload of an identity token.
type Claims struct {
	Role     string `json:"role"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserSyncer persists the profile carried by a token.
type UserSyncer interface {
	UpsertUser(ctx context.Context, user *model.User) error
}

// Authenticator verifies HS256 bearer tokens and mirrors the caller's
// profile into the user table.
type Authenticator struct {
	secret []byte
	issuer string
	users  UserSyncer
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg config.AuthConfig, users UserSyncer) *Authenticator {
	return &Authenticator{secret: []byte(cfg.Secret), issuer: cfg.Issuer, users: users}
}

// Parse validates a token and returns the identity it carries.
func (a *Authenticator) Parse(token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return Identity{}, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	if claims.Username == "" {
		return Identity{}, errors.New("token has no username")
	}
	role := claims.Role
	if role != model.RoleAdmin {
		role = model.RoleUser
	}
	return Identity{
		UserID:   id,
		Username: claims.Username,
		FullName: claims.Name,
		Email:    claims.Email,
		Role:     role,
	}, nil
}

// Authenticate rejects requests without a valid bearer token.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := strings.Fields(c.GetHeader(authorizationHeaderKey))
		if len(fields) != 2 || !strings.EqualFold(fields[0], authorizationTypeBearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		identity, err := a.Parse(fields[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if err := a.users.UpsertUser(c.Request.Context(), &model.User{
			ID:       identity.UserID,
			Username: identity.Username,
			FullName: identity.FullName,
			Email:    identity.Email,
			Role:     identity.Role,
		}); err != nil {
			log.Printf("failed to sync user %d: %v", identity.UserID, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": http.StatusText(http.StatusServiceUnavailable)})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireAdmin rejects authenticated callers without the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !callerIdentity(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func callerIdentity(c *gin.Context) Identity {
	v, _ := c.Get(identityKey)
	identity, _ := v.(Identity)
	return identity
}
