package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/config"
	"github.com/Cloudwith-mo/taxdoc-microservice-sub001/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims carries the anonymous client id that scopes job history.
type SessionClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token for the given client id.
func IssueToken(clientID string, cfg *config.SessionConfig) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := SessionClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// Session resolves the anonymous client id for the request. There is no
// login: a request carrying a valid session token keeps its client id, and
// any other request is assigned a fresh one. The (possibly new) token is
// always echoed in X-Session-Token so callers can persist it.
func Session(cfg *config.SessionConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := resolveClientID(c, cfg)

		token, _, err := IssueToken(clientID, cfg)
		if err == nil {
			c.Header("X-Session-Token", token)
		}

		c.Set("client_id", clientID)

		// Add to request context for logger
		ctx := context.WithValue(c.Request.Context(), logger.ClientIDKey, clientID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func resolveClientID(c *gin.Context, cfg *config.SessionConfig) string {
	tokenString := c.GetHeader("X-Session-Token")
	if tokenString == "" {
		// Bearer form is accepted too
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}

	if tokenString != "" {
		claims := &SessionClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.Secret), nil
		})
		if err == nil && token.Valid && claims.ClientID != "" {
			return claims.ClientID
		}
	}

	return uuid.New().String()
}

// GetClientID gets the client id from context. Callers outside a session
// scope get the documented default "anonymous".
func GetClientID(c *gin.Context) string {
	if clientID, exists := c.Get("client_id"); exists {
		return clientID.(string)
	}
	return "anonymous"
}
