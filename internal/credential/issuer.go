package credential

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

// ErrUnauthorized covers every credential that is missing, malformed,
// expired, forged, or of the wrong tier.
var ErrUnauthorized = errors.New("unauthorized")

type Config struct {
	Secret          string
	Issuer          string
	SessionTTL      time.Duration
	ScopedTTL       time.Duration
	FaceVerifiedTTL time.Duration
}

// Issuer signs and verifies HS256 credentials.
type Issuer struct {
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config) *Issuer {
	return &Issuer{cfg: cfg, now: time.Now}
}

// IssueSession creates the session credential handed out after login.
func (i *Issuer) IssueSession(identity models.Identity) (string, Claims, error) {
	now := i.now()
	c := Claims{
		IdentityID:  identity.ID,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		Role:        identity.Role,
		Tier:        TierSession,
		IssuedAt:    now,
		ExpiresAt:   now.Add(i.cfg.SessionTTL),
	}
	return i.Sign(c)
}

// Sign assigns a token id when absent and returns the signed token.
func (i *Issuer) Sign(c Claims) (string, Claims, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c.toToken(i.cfg.Issuer))
	signed, err := token.SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign credential: %w", err)
	}
	observability.CredentialsIssued.WithLabelValues(string(c.Tier)).Inc()
	return signed, c, nil
}

// Verify checks signature, issuer and expiry, and that the credential holds
// one of the accepted tiers.
func (i *Issuer) Verify(token string, accept ...Tier) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(i.cfg.Secret), nil
	},
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid || tc.Subject == "" {
		return nil, ErrUnauthorized
	}
	if len(accept) > 0 && !slices.Contains(accept, tc.Tier) {
		return nil, fmt.Errorf("%w: %s credential not accepted here", ErrUnauthorized, tc.Tier)
	}
	if tc.Tier == TierActivityScoped && tc.ActivityID == "" {
		return nil, fmt.Errorf("%w: scoped credential without activity", ErrUnauthorized)
	}

	c := tc.toClaims()
	return &c, nil
}
