package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/bodega/internal/credential"
	bodegaerrors "github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/token/tokentest"
)

func TestDecodeRecognisedKeys(t *testing.T) {
	roles := []Role{RoleUser, RoleAdmin, RoleSuperAdmin}

	for _, key := range RoleClaimKeys {
		for _, role := range roles {
			t.Run(key+"/"+role.String(), func(t *testing.T) {
				c := tokentest.Mint(t, map[string]any{key: role.String()})

				got, err := Decode(c)
				require.NoError(t, err)
				assert.Equal(t, role, got)
			})
		}
	}
}

func TestDecodeKeyPrecedence(t *testing.T) {
	c := tokentest.Mint(t, map[string]any{
		ClaimRole:           "User",
		ClaimRoleNamespaced: "SuperAdmin",
	})

	got, err := Decode(c)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, got, "short key must win over the namespaced key")
}

func TestDecodeFallsBackToNamespacedKey(t *testing.T) {
	c := tokentest.Mint(t, map[string]any{
		ClaimRole:           "",
		ClaimRoleNamespaced: "Admin",
	})

	got, err := Decode(c)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, got)
}

func TestDecodeFailures(t *testing.T) {
	payload := func(s string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(s))
	}
	header := payload(`{"alg":"HS256","typ":"JWT"}`)

	tests := []struct {
		name string
		cred credential.Credential
	}{
		{"empty", ""},
		{"one segment", "abc"},
		{"two segments", credential.Credential(header + "." + payload(`{"role":"User"}`))},
		{"bad base64", credential.Credential(header + ".%%%.sig")},
		{"payload not json", credential.Credential(header + "." + payload("role=User") + ".sig")},
		{"no role", tokentest.Mint(t, map[string]any{"sub": "42"})},
		{"role not string", tokentest.Mint(t, map[string]any{"role": 3})},
		{"role wrong casing", tokentest.Mint(t, map[string]any{"role": "Superadmin"})},
		{"unknown role", tokentest.Mint(t, map[string]any{"role": "Owner"})},
		{"guest role", tokentest.Mint(t, map[string]any{"role": "Guest"})},
		{"exp not numeric", tokentest.Mint(t, map[string]any{"role": "User", "exp": "tomorrow"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				role Role
				err  error
			)
			require.NotPanics(t, func() { role, err = Decode(tt.cred) })
			require.Error(t, err)
			assert.True(t, errors.Is(err, bodegaerrors.ErrDecodeFailure), "expected decode failure, got %v", err)
			assert.Equal(t, RoleGuest, role)
		})
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	c := credential.Credential("not.a.token")

	_, err1 := Decode(c)
	_, err2 := Decode(c)
	assert.Equal(t, bodegaerrors.CodeOf(err1), bodegaerrors.CodeOf(err2))
}

func TestDecoderExpiryCheck(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := tokentest.Mint(t, map[string]any{
		"role": "User",
		"exp":  now.Add(-time.Minute).Unix(),
	})

	_, err := Decode(c)
	require.NoError(t, err, "the default decoder ignores expiry")

	strict := NewDecoder(WithExpiryCheck(0), WithClock(func() time.Time { return now }))
	_, err = strict.Decode(c)
	assert.True(t, errors.Is(err, bodegaerrors.ErrDecodeFailure))

	lenient := NewDecoder(WithExpiryCheck(5*time.Minute), WithClock(func() time.Time { return now }))
	role, err := lenient.Decode(c)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)
}

func TestClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	c := tokentest.Mint(t, map[string]any{
		"sub":                "7",
		claimEmailNamespaced: "ana@bodega.test",
		ClaimRoleNamespaced:  "SuperAdmin",
		"exp":                exp.Unix(),
	})

	claims, err := NewDecoder().Claims(c)
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, claims.Role)
	assert.Equal(t, "7", claims.Subject)
	assert.Equal(t, "ana@bodega.test", claims.Email)
	assert.True(t, claims.ExpiresAt.Equal(exp))
}

func TestParseRole(t *testing.T) {
	for _, name := range []string{"Guest", "User", "Admin", "SuperAdmin"} {
		role, ok := ParseRole(name)
		require.True(t, ok, name)
		assert.Equal(t, name, role.String())
	}

	_, ok := ParseRole("superadmin")
	assert.False(t, ok)
	assert.Equal(t, "Unknown", Role(42).String())
}
