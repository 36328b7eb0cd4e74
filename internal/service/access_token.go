package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/localmart/localmart-api/internal/models"
	appErrors "github.com/localmart/localmart-api/pkg/errors"
)

// IssuerConfig configures access token signing. The secret is loaded once at
// process start and never mutated or logged afterwards.
type IssuerConfig struct {
	Secret   string
	Issuer   string
	Audience []string
	TTL      time.Duration
}

// AccessTokenIssuer signs short-lived HS256 tokens embedding user identity,
// role and operation claims. Tokens are never persisted; any holder of the
// shared secret can verify them without touching storage.
type AccessTokenIssuer struct {
	config IssuerConfig
}

// NewAccessTokenIssuer constructs the issuer. A missing signing secret is a
// configuration error and should be fatal at startup.
func NewAccessTokenIssuer(config IssuerConfig) (*AccessTokenIssuer, error) {
	if config.Secret == "" {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "access token signing secret is not configured")
	}
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	return &AccessTokenIssuer{config: config}, nil
}

// Issue builds and signs an access token for the user with the resolved
// claim names embedded.
func (i *AccessTokenIssuer) Issue(user *models.User, claims []string) (string, time.Time, error) {
	if i.config.Secret == "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrConfiguration, "access token signing secret is not configured")
	}

	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(i.config.TTL)
	payload := &models.JWTClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		Claims:   claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Subject:   user.ID,
			Audience:  i.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString([]byte(i.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies an access token, returning its claims.
func (i *AccessTokenIssuer) Validate(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.config.Secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}

	return claims, nil
}
