// Package auth verifies bearer tokens for the control API.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). The "scopes" claim grants access: read for state queries, control
// for velocity and brake commands, telemetry for the event streams.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
)

// Role constants
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Scope constants
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// HasScopes reports whether every required scope is granted.
func (c *Claims) HasScopes(required ...string) bool {
	if c == nil {
		return false
	}
	for _, r := range required {
		found := false
		for _, s := range c.Scopes {
			if s == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type tokenClaims struct {
	Roles  []string `json:"roles"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// HS256 shared secret.
	HMACSecret string

	// RS256 public key in PEM form.
	PublicKeyPEM string

	// Leeway tolerated on exp/nbf.
	Leeway time.Duration
}

// Verifier handles JWT token verification.
type Verifier struct {
	hmacKey   []byte
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier creates a verifier. At least one key must be configured.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{}
	var methods []string

	if cfg.HMACSecret != "" {
		v.hmacKey = []byte(cfg.HMACSecret)
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.PublicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.publicKey = key
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("no verification key configured")
	}

	v.parser = jwt.NewParser(
		jwt.WithValidMethods(methods),
		jwt.WithLeeway(cfg.Leeway),
	)
	return v, nil
}

// NewVerifierFromConfig builds a verifier from the service configuration.
func NewVerifierFromConfig(cfg config.AuthConfig) (*Verifier, error) {
	vc := VerifierConfig{HMACSecret: cfg.HMACSecret, Leeway: 30 * time.Second}
	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		vc.PublicKeyPEM = string(pem)
	}
	return NewVerifier(vc)
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var tc tokenClaims
	_, err := v.parser.ParseWithClaims(tokenString, &tc, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", ErrInvalidToken)
	}
	if !validScopes(tc.Scopes) {
		return nil, fmt.Errorf("%w: invalid scopes %v", ErrInvalidToken, tc.Scopes)
	}
	if !validRoles(tc.Roles) {
		return nil, fmt.Errorf("%w: invalid roles %v", ErrInvalidToken, tc.Roles)
	}

	return &Claims{Subject: tc.Subject, Roles: tc.Roles, Scopes: tc.Scopes}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if v.hmacKey == nil {
			return nil, errors.New("HS256 not enabled")
		}
		return v.hmacKey, nil
	case *jwt.SigningMethodRSA:
		if v.publicKey == nil {
			return nil, errors.New("RS256 not enabled")
		}
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

func validScopes(scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	for _, s := range scopes {
		switch s {
		case ScopeRead, ScopeControl, ScopeTelemetry:
		default:
			return false
		}
	}
	return true
}

// validRoles accepts an absent roles claim; scopes carry the grant.
func validRoles(roles []string) bool {
	for _, r := range roles {
		switch r {
		case RoleViewer, RoleOperator:
		default:
			return false
		}
	}
	return true
}
