package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

var (
	ErrBadRequest       = errors.New("bad request")
	ErrNoFaceRecognized = errors.New("no face recognized")
	// ErrIdentityMismatch means the face belongs to someone other than the
	// session holder. It is an authorization failure.
	ErrIdentityMismatch = errors.New("face does not match the session identity")
	ErrLegacyDisabled   = errors.New("face-verified credentials are disabled")
)

// Matcher is the face-matching capability the machine depends on.
type Matcher interface {
	Match(ctx context.Context, img []byte) (models.MatchResult, error)
}

// Grant is a freshly issued credential.
type Grant struct {
	Token  string
	Claims Claims
	Match  models.MatchResult
}

// Machine drives Unauthenticated -> Session -> ActivityScoped. There is no
// transition out of ActivityScoped.
type Machine struct {
	issuer  *Issuer
	matcher Matcher
	legacy  bool
}

type MachineOption func(*Machine)

// WithLegacyFaceVerified enables Identify.
func WithLegacyFaceVerified(enabled bool) MachineOption {
	return func(m *Machine) { m.legacy = enabled }
}

func NewMachine(issuer *Issuer, matcher Matcher, opts ...MachineOption) *Machine {
	m := &Machine{issuer: issuer, matcher: matcher}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Issuer() *Issuer { return m.issuer }

// VerifyAndScope exchanges a session credential and a face image of the
// session holder for a credential bound to one activity.
func (m *Machine) VerifyAndScope(ctx context.Context, sessionToken string, img []byte, activityID string) (Grant, error) {
	session, err := m.issuer.Verify(sessionToken, TierSession)
	if err != nil {
		observability.ScopeTransitions.WithLabelValues("unauthorized").Inc()
		return Grant{}, err
	}
	return m.scope(ctx, *session, img, activityID)
}

// VerifyAndScopeClaims is VerifyAndScope for a session already verified by
// the transport layer.
func (m *Machine) VerifyAndScopeClaims(ctx context.Context, session Claims, img []byte, activityID string) (Grant, error) {
	if session.Tier != TierSession {
		observability.ScopeTransitions.WithLabelValues("unauthorized").Inc()
		return Grant{}, fmt.Errorf("%w: %s credential cannot be scoped", ErrUnauthorized, session.Tier)
	}
	return m.scope(ctx, session, img, activityID)
}

func (m *Machine) scope(ctx context.Context, session Claims, img []byte, activityID string) (Grant, error) {
	activityID = strings.TrimSpace(activityID)
	if activityID == "" {
		observability.ScopeTransitions.WithLabelValues("bad_request").Inc()
		return Grant{}, fmt.Errorf("%w: activity id is required", ErrBadRequest)
	}
	if len(img) == 0 {
		observability.ScopeTransitions.WithLabelValues("bad_request").Inc()
		return Grant{}, fmt.Errorf("%w: image is required", ErrBadRequest)
	}

	match, err := m.matcher.Match(ctx, img)
	if err != nil {
		observability.ScopeTransitions.WithLabelValues("error").Inc()
		return Grant{}, fmt.Errorf("match face: %w", err)
	}
	if !match.Matched() {
		observability.ScopeTransitions.WithLabelValues("no_match").Inc()
		return Grant{Match: match}, ErrNoFaceRecognized
	}
	if match.IdentityID != session.IdentityID {
		observability.ScopeTransitions.WithLabelValues("mismatch").Inc()
		slog.Warn("face identity mismatch",
			"session_identity", session.IdentityID,
			"matched_identity", match.IdentityID,
			"activity_id", activityID,
			"distance", match.Distance,
		)
		return Grant{Match: match}, ErrIdentityMismatch
	}

	scoped := Scope(session, activityID, m.issuer.cfg.ScopedTTL, m.issuer.now())
	token, scoped, err := m.issuer.Sign(scoped)
	if err != nil {
		observability.ScopeTransitions.WithLabelValues("error").Inc()
		return Grant{}, err
	}
	observability.ScopeTransitions.WithLabelValues("scoped").Inc()
	return Grant{Token: token, Claims: scoped, Match: match}, nil
}

// Identify issues a short-lived face-verified credential for whoever the
// image matches, without a prior session.
func (m *Machine) Identify(ctx context.Context, img []byte) (Grant, error) {
	if !m.legacy {
		return Grant{}, ErrLegacyDisabled
	}
	if len(img) == 0 {
		return Grant{}, fmt.Errorf("%w: image is required", ErrBadRequest)
	}

	match, err := m.matcher.Match(ctx, img)
	if err != nil {
		return Grant{}, fmt.Errorf("match face: %w", err)
	}
	if !match.Matched() {
		return Grant{Match: match}, ErrNoFaceRecognized
	}

	now := m.issuer.now()
	token, claims, err := m.issuer.Sign(Claims{
		IdentityID:  match.IdentityID,
		DisplayName: match.DisplayName,
		Tier:        TierFaceVerified,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.issuer.cfg.FaceVerifiedTTL),
	})
	if err != nil {
		return Grant{}, err
	}
	return Grant{Token: token, Claims: claims, Match: match}, nil
}
