package scraping

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "viralspy"

// CallbackTokens issues and verifies the HS256 tokens that authorize the
// workflow engine to report progress for a single job.
type CallbackTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCallbackTokens returns a CallbackTokens signing with secret. Tokens expire after ttl.
func NewCallbackTokens(secret string, ttl time.Duration) *CallbackTokens {
	return &CallbackTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a token whose subject is jobID.
func (t *CallbackTokens) Issue(jobID uuid.UUID) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   jobID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing callback token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and issuer of token and that it was
// issued for jobID.
func (t *CallbackTokens) Verify(token string, jobID uuid.UUID) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(jobID.String()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	parsed, err := parser.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
