package overrides

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultGrantTTL bounds emergency-access and security-bypass tokens when the
// request does not specify an expected duration.
const DefaultGrantTTL = 15 * time.Minute

// GrantClaims are embedded in the time-boxed tokens minted by execution handlers.
type GrantClaims struct {
	Grant      string   `json:"grant"`
	RequestID  string   `json:"req"`
	Operations []string `json:"ops,omitempty"`
	Controls   []string `json:"ctl,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs the short-lived grant tokens produced by emergency-access
// and security-bypass overrides.
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer for the supplied HMAC secret.
func NewTokenIssuer(secret, issuer string, clock func() time.Time) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token issuer: secret must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		now:    clock,
	}, nil
}

// MintEmergencyAccess issues a token restricted to the operation allowlist.
func (t *TokenIssuer) MintEmergencyAccess(requestID, targetUserID string, operations []string, ttl time.Duration) (string, time.Time, error) {
	return t.mint("emergency_access", requestID, targetUserID, operations, nil, ttl)
}

// MintSecurityBypass issues a token naming the bypassed controls.
func (t *TokenIssuer) MintSecurityBypass(requestID, targetUserID string, controls []string, ttl time.Duration) (string, time.Time, error) {
	return t.mint("security_bypass", requestID, targetUserID, nil, controls, ttl)
}

func (t *TokenIssuer) mint(grant, requestID, subject string, operations, controls []string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}

	now := t.now()
	expiresAt := now.Add(ttl)

	claims := &GrantClaims{
		Grant:      grant,
		RequestID:  requestID,
		Operations: operations,
		Controls:   controls,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    t.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token issuer: sign %s token: %w", grant, err)
	}

	return signed, expiresAt, nil
}

// Validate parses a grant token, returning its claims when the signature and
// validity window check out.
func (t *TokenIssuer) Validate(tokenString string) (*GrantClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token issuer: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)

	var claims GrantClaims
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("token issuer: parse token: %w", err)
	}

	if t.issuer != "" && claims.Issuer != t.issuer {
		return nil, errors.New("token issuer: invalid issuer")
	}

	return &claims, nil
}
