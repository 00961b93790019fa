// Package credential issues and verifies the bearer tokens of the check-in
// flow and implements the session to activity-scoped transition.
package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/your-org/facecheck/internal/models"
)

// Tier is the authority a credential carries. Tiers only narrow.
type Tier string

const (
	TierSession        Tier = "session"
	TierFaceVerified   Tier = "face_verified"
	TierActivityScoped Tier = "activity_scoped"
)

// Claims is the decoded, verified content of a credential.
type Claims struct {
	ID          string
	IdentityID  string
	DisplayName string
	Email       string
	Role        models.Role
	Tier        Tier
	ActivityID  string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Scope derives activity-scoped claims from a session. The input is not
// modified and the result carries no token id; the issuer assigns one on
// signing.
func Scope(session Claims, activityID string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		IdentityID:  session.IdentityID,
		DisplayName: session.DisplayName,
		Email:       session.Email,
		Role:        session.Role,
		Tier:        TierActivityScoped,
		ActivityID:  activityID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

type tokenClaims struct {
	Name       string      `json:"name,omitempty"`
	Email      string      `json:"email,omitempty"`
	Role       models.Role `json:"role,omitempty"`
	Tier       Tier        `json:"tier"`
	ActivityID string      `json:"activity_id,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) toToken(issuer string) tokenClaims {
	return tokenClaims{
		Name:       c.DisplayName,
		Email:      c.Email,
		Role:       c.Role,
		Tier:       c.Tier,
		ActivityID: c.ActivityID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID,
			Subject:   c.IdentityID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
}

func (t *tokenClaims) toClaims() Claims {
	c := Claims{
		ID:          t.ID,
		IdentityID:  t.Subject,
		DisplayName: t.Name,
		Email:       t.Email,
		Role:        t.Role,
		Tier:        t.Tier,
		ActivityID:  t.ActivityID,
	}
	if t.IssuedAt != nil {
		c.IssuedAt = t.IssuedAt.Time
	}
	if t.ExpiresAt != nil {
		c.ExpiresAt = t.ExpiresAt.Time
	}
	return c
}
