// Package identity mints short-lived access tokens for granted decisions.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/digitaldna/pkg/policy"
)

const (
	tokenIssuer   = "digitaldna/identity"
	tokenAudience = "digitaldna.access"
)

var (
	// ErrDecisionNotGrantable is returned when asked to mint a token for a
	// DENY or QUARANTINE decision.
	ErrDecisionNotGrantable = errors.New("identity: decision does not grant access")
	// ErrInvalidToken is returned for tokens that fail parsing or validation.
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrWeakSecret is returned when the signing secret is too short for HS256.
	ErrWeakSecret = errors.New("identity: signing secret must be at least 32 bytes")
)

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Decision        policy.Decision `json:"decision"`
	DecisionID      string          `json:"decision_id"`
	Confidence      float64         `json:"confidence"`
	DNAHash         string          `json:"dna_hash"`
	ChallengeMethod string          `json:"challenge_method,omitempty"`
}

// TokenIssuer signs and validates HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with a shared secret.
func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	return &TokenIssuer{secret: append([]byte(nil), secret...), now: time.Now}, nil
}

// Issue mints a token for a granted decision, valid for ttl.
func (ti *TokenIssuer) Issue(d policy.AccessDecision, dnaHash string, ttl time.Duration) (string, error) {
	if !d.Grantable() {
		return "", fmt.Errorf("%w: %s", ErrDecisionNotGrantable, d.Decision)
	}
	now := ti.now().UTC()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        d.DecisionID,
			Subject:   d.EntityID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
		},
		Decision:        d.Decision,
		DecisionID:      d.DecisionID,
		Confidence:      d.ConfidenceScore,
		DNAHash:         dnaHash,
		ChallengeMethod: d.ChallengeMethod,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and checks signature, expiry, issuer and audience.
func (ti *TokenIssuer) Validate(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{},
		func(t *jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
