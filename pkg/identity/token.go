package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends standard JWT claims with the fields Grace needs to
// authenticate human Parliament members and onboarding components.
type Claims struct {
	jwt.RegisteredClaims
	PrincipalType string   `json:"principal_type"` // "human" | "agent" | "component"
	Roles         []string `json:"roles,omitempty"`
	Committees    []string `json:"committees,omitempty"`
}

// TokenManager issues and validates HS256 bearer tokens signed with a
// single process-wide secret. A production deployment would source the
// secret from the Secrets provider contract (pkg/secrets) rather than
// holding it directly; NewTokenManager takes the already-resolved key.
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a manager bound to secret.
func NewTokenManager(secret []byte, issuer string) *TokenManager {
	return &TokenManager{secret: secret, issuer: issuer}
}

// IssueToken mints a bearer token for principalID valid for duration.
func (tm *TokenManager) IssueToken(principalID, principalType string, roles, committees []string, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        principalID,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			Issuer:    tm.issuer,
		},
		PrincipalType: principalType,
		Roles:         roles,
		Committees:    committees,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// ValidateToken parses and validates a bearer token, returning its claims.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
