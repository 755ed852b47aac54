package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
)

const actorKey = "actor"

// TokenValidator resolves a bearer token to the caller it was issued to.
type TokenValidator interface {
	Validate(token string) (domain.Actor, error)
}

// AuthMiddleware resolves the bearer token, if any, into an actor on the
// context. Requests without an Authorization header continue anonymously;
// routes that need a caller add RequireRoles.
func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}

		actor, err := tokens.Validate(token)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
			return
		}

		SetActor(c, actor)
		c.Next()
	}
}

// RequireRoles rejects anonymous callers, and callers whose role is not
// one of roles. With no roles any authenticated caller is allowed.
func RequireRoles(roles ...domain.UserRole) gin.HandlerFunc {
	allowed := make(map[domain.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "Unauthorized", "authorization required")
			return
		}
		if len(allowed) > 0 {
			if _, ok := allowed[actor.Role]; !ok {
				abortJSON(c, http.StatusForbidden, "Forbidden", "insufficient role")
				return
			}
		}
		c.Next()
	}
}

// SetActor stores the caller on the request context.
func SetActor(c *gin.Context, actor domain.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the authenticated caller, if any.
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok && actor.ID != ""
}

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("invalid Authorization header format")
	}
	return parts[1], nil
}

// abortJSON stops the chain with the error body handlers use.
func abortJSON(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   kind,
		"message": message,
	})
}
