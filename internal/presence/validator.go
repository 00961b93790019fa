// Package presence decides whether a client is physically allowed to check in.
package presence

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

var (
	ErrLocationRequired     = errors.New("location is required off the trusted network")
	ErrNoLocationConfigured = errors.New("activity has no locations configured")
	ErrOutsideGeofence      = errors.New("location is outside every activity geofence")
)

// Validator checks presence either by network trust or by geofence.
type Validator struct {
	trusted         []netip.Prefix
	trustClientFlag bool
}

type Option func(*Validator)

// WithClientFlag makes the validator accept the client's own claim of being
// on the trusted network.
func WithClientFlag(trust bool) Option {
	return func(v *Validator) { v.trustClientFlag = trust }
}

// NewValidator parses trusted networks given as CIDRs or single addresses.
func NewValidator(trustedNetworks []string, opts ...Option) (*Validator, error) {
	v := &Validator{}
	for _, raw := range trustedNetworks {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := parsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted network %q: %w", raw, err)
		}
		v.trusted = append(v.trusted, prefix)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// TrustedIP reports whether ip belongs to a trusted network.
func (v *Validator) TrustedIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range v.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// OnTrustedNetwork combines the server-side IP check with the client's flag,
// which only counts when the validator was configured to honor it.
func (v *Validator) OnTrustedNetwork(clientIP string, clientFlag bool) bool {
	if v.TrustedIP(clientIP) {
		return true
	}
	return v.trustClientFlag && clientFlag
}

// Validate returns nil when the client may check in. A trusted network
// short-circuits the location check. Otherwise loc must fall inside at least
// one geofence, boundary included.
func (v *Validator) Validate(onTrustedNetwork bool, loc *models.GeoPoint, fences []models.Geofence) error {
	if onTrustedNetwork {
		observability.PresenceDecisions.WithLabelValues("trusted_network").Inc()
		return nil
	}
	if loc == nil {
		observability.PresenceDecisions.WithLabelValues("location_required").Inc()
		return ErrLocationRequired
	}
	if len(fences) == 0 {
		observability.PresenceDecisions.WithLabelValues("no_location_configured").Inc()
		return ErrNoLocationConfigured
	}

	nearest := -1.0
	for _, f := range fences {
		d := Distance(*loc, f.Center())
		if d <= f.RadiusMeters {
			observability.PresenceDecisions.WithLabelValues("inside_geofence").Inc()
			return nil
		}
		if nearest < 0 || d < nearest {
			nearest = d
		}
	}
	observability.PresenceDecisions.WithLabelValues("outside_geofence").Inc()
	return fmt.Errorf("%w: nearest center %.0fm away", ErrOutsideGeofence, nearest)
}
