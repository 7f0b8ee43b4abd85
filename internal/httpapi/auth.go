package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/safeguard-project/safeguard/pkg/config"
	"github.com/safeguard-project/safeguard/pkg/errclass"
	"github.com/safeguard-project/safeguard/pkg/model"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// agentContextKey is where the middleware stores the verified descriptor on
// the gin context.
const agentContextKey = "safeguard.agent"

// AgentClaims is the only supported token shape. A token authenticates one
// agent; there is no user or tenant dimension.
type AgentClaims struct {
	jwt.RegisteredClaims

	AgentID     string          `json:"agent_id"`
	AgentName   string          `json:"agent_name"`
	AgentType   model.AgentType `json:"agent_type"`
	SuccessRate float64         `json:"success_rate"`
}

// Descriptor converts the claims back into the model type handlers consume.
func (c AgentClaims) Descriptor() model.AgentDescriptor {
	return model.AgentDescriptor{
		ID:          c.AgentID,
		Name:        c.AgentName,
		Type:        c.AgentType,
		SuccessRate: c.SuccessRate,
	}
}

// TokenManager issues and verifies agent bearer tokens.
type TokenManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewTokenManager builds a manager from the auth config. The secret is
// required; issuer and audience are enforced only when set.
func NewTokenManager(cfg config.AuthConfig) (*TokenManager, error) {
	if cfg.JWTSecret == "" {
		return nil, errclass.ErrInvalidInput.WithMessage("SAFEGUARD_JWT_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenManager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
	}, nil
}

// Issue signs a token for the given agent descriptor.
func (m *TokenManager) Issue(now time.Time, agent model.AgentDescriptor) (string, error) {
	if agent.ID == "" {
		return "", errclass.ErrInvalidInput.WithMessage("agent id is required")
	}

	claims := AgentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Audience:  audienceOrNil(m.audience),
			Subject:   agent.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		AgentID:     agent.ID,
		AgentName:   agent.Name,
		AgentType:   agent.Type,
		SuccessRate: agent.SuccessRate,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

// Verify parses and validates a token and returns its claims.
func (m *TokenManager) Verify(tokenString string, now time.Time) (AgentClaims, error) {
	var claims AgentClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return AgentClaims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	validator := jwt.NewValidator(opts...)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return AgentClaims{}, err
	}

	if claims.AgentID == "" {
		return AgentClaims{}, errclass.ErrInvalidInput.WithMessage("agent_id missing")
	}
	if claims.SuccessRate < 0 || claims.SuccessRate > 1 {
		return AgentClaims{}, errclass.ErrInvalidInput.WithMessage("success_rate out of range")
	}

	return claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}

// RequireAgentToken verifies the bearer token and stores the agent
// descriptor on the context for handlers.
func RequireAgentToken(m *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(agentContextKey, claims.Descriptor())
		c.Next()
	}
}

// agentFrom returns the descriptor placed by RequireAgentToken.
func agentFrom(c *gin.Context) (model.AgentDescriptor, bool) {
	v, ok := c.Get(agentContextKey)
	if !ok {
		return model.AgentDescriptor{}, false
	}
	agent, ok := v.(model.AgentDescriptor)
	return agent, ok
}
