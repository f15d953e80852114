// Package token extracts the role claim from a bearer credential.
//
// Decoding never verifies signatures; that is the backend's job. It only
// answers "which view may this credential see", and every malformed input
// is reported as a decode failure rather than a panic.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/felixgeelhaar/bodega/internal/credential"
	"github.com/felixgeelhaar/bodega/internal/errors"
)

// Recognised role claim keys, in precedence order. The backend moved from
// the namespaced key to the short one; both are still issued.
const (
	ClaimRole           = "role"
	ClaimRoleLegacy     = "Role"
	ClaimRoleNamespaced = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"

	claimEmail           = "email"
	claimEmailNamespaced = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
)

// RoleClaimKeys lists the keys consulted by Decode, highest precedence first.
var RoleClaimKeys = []string{ClaimRole, ClaimRoleLegacy, ClaimRoleNamespaced}

// Claims is the subset of the credential payload the client cares about.
type Claims struct {
	Role      Role
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// Decoder turns credentials into roles.
type Decoder struct {
	now         func() time.Time
	leeway      time.Duration
	checkExpiry bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithExpiryCheck makes credentials whose exp claim has passed (beyond
// leeway) decode failures.
func WithExpiryCheck(leeway time.Duration) Option {
	return func(d *Decoder) {
		d.checkExpiry = true
		d.leeway = leeway
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		d.now = now
	}
}

// NewDecoder creates a Decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var defaultDecoder = NewDecoder()

// Decode returns the role carried by c using the default decoder, which
// performs no expiry check.
func Decode(c credential.Credential) (Role, error) {
	return defaultDecoder.Decode(c)
}

// Decode returns the role carried by c.
func (d *Decoder) Decode(c credential.Credential) (Role, error) {
	claims, err := d.Claims(c)
	if err != nil {
		return RoleGuest, err
	}
	return claims.Role, nil
}

// Claims decodes the payload of c. Any structural or semantic problem is a
// decode failure.
func (d *Decoder) Claims(c credential.Credential) (*Claims, error) {
	if c.IsZero() {
		return nil, errors.NewDecodeFailure("credential is empty", nil)
	}

	mc := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithPaddingAllowed())
	if _, _, err := parser.ParseUnverified(string(c), mc); err != nil {
		return nil, errors.NewDecodeFailure("malformed token", err)
	}

	role, err := roleFrom(mc)
	if err != nil {
		return nil, err
	}

	claims := &Claims{Role: role}
	claims.Subject, _ = mc.GetSubject() //nolint:errcheck // optional claim
	claims.Email = stringClaim(mc, claimEmail, claimEmailNamespaced)

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, errors.NewDecodeFailure("exp claim is not a timestamp", err)
	}
	if exp != nil {
		claims.ExpiresAt = exp.Time
		if d.checkExpiry && d.now().After(exp.Time.Add(d.leeway)) {
			return nil, errors.NewDecodeFailure(fmt.Sprintf("credential expired at %s", exp.Time.UTC().Format(time.RFC3339)), nil)
		}
	}

	return claims, nil
}

func roleFrom(mc jwt.MapClaims) (Role, error) {
	for _, key := range RoleClaimKeys {
		v, ok := mc[key]
		if !ok || v == nil {
			continue
		}

		s, ok := v.(string)
		if !ok {
			return RoleGuest, errors.NewDecodeFailure(fmt.Sprintf("role claim %q is not a string", key), nil)
		}
		if s == "" {
			continue
		}

		role, ok := ParseRole(s)
		if !ok {
			return RoleGuest, errors.NewDecodeFailure(fmt.Sprintf("unrecognised role %q", s), nil)
		}
		if role == RoleGuest {
			return RoleGuest, errors.NewDecodeFailure("credential carries the guest role", nil)
		}
		return role, nil
	}
	return RoleGuest, errors.NewDecodeFailure("no role claim", nil)
}

func stringClaim(mc jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if s, ok := mc[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
