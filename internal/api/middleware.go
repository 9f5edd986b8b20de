package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"veridoc/verification-backend/internal/verification"
)

const identityKey = "identity"

// Identity is the authenticated principal attached to the request context.
type Identity struct {
	UserID         uuid.UUID
	OrganizationID *uuid.UUID
	Role           string
}

// Caller converts the identity into the orchestrator's caller shape.
func (i Identity) Caller() verification.Caller {
	return verification.Caller{
		UserID:         i.UserID,
		OrganizationID: i.OrganizationID,
		Role:           i.Role,
	}
}

type authClaims struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates the bearer token and stores the caller identity.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			FailWith(c, verification.CodeForbidden, "missing bearer token")
			c.Abort()
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims := &authClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			FailWith(c, verification.CodeForbidden, "invalid token")
			c.Abort()
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			FailWith(c, verification.CodeForbidden, "invalid token subject")
			c.Abort()
			return
		}
		identity := Identity{UserID: userID, Role: claims.Role}
		if claims.OrganizationID != "" {
			if orgID, err := uuid.Parse(claims.OrganizationID); err == nil {
				identity.OrganizationID = &orgID
			}
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newIPLimiter(r float64, burst int) *ipLimiter {
	if r <= 0 {
		r = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		burst:    burst,
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// RateLimitMiddleware throttles unauthenticated endpoints per source IP.
// Throttling is a transport concern, not a verification outcome, so the
// response carries its own code rather than one from the domain taxonomy.
func RateLimitMiddleware(perSecond float64, burst int) gin.HandlerFunc {
	limiter := newIPLimiter(perSecond, burst)
	return func(c *gin.Context) {
		if !limiter.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
				Success: false,
				Error:   &ErrorBody{Code: "rate_limited", Message: "rate limit exceeded"},
			})
			return
		}
		c.Next()
	}
}
