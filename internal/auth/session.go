package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/hms-sentinel/internal/config"
	"github.com/BradenHooton/hms-sentinel/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// SessionVerifier checks identity provider session tokens.
// The provider owns sign-in; this service only verifies what it issued.
type SessionVerifier struct {
	parser  *jwt.Parser
	keyFunc jwt.Keyfunc
}

// NewSessionVerifier builds a verifier from the configured public key (RS256)
// or, when no key is configured, the shared secret (HS256)
func NewSessionVerifier(cfg config.IdPConfig) (*SessionVerifier, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var keyFunc jwt.Keyfunc

	switch {
	case cfg.JWTPublicKeyPEM != "":
		// Env files often carry PEM blocks with escaped newlines
		pem := strings.ReplaceAll(cfg.JWTPublicKeyPEM, `\n`, "\n")
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("failed to parse IdP public key: %w", err)
		}
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return pub, nil
		}
	case cfg.JWTSecret != "":
		secret := []byte(cfg.JWTSecret)
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		}
	default:
		return nil, errors.New("no IdP verification key configured")
	}

	return &SessionVerifier{parser: jwt.NewParser(opts...), keyFunc: keyFunc}, nil
}

// Verify validates the token signature and lifetime and returns its claims
func (v *SessionVerifier) Verify(tokenString string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}

	token, err := v.parser.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	if !token.Valid || claims.Subject == "" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
