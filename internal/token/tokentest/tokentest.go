// Package tokentest mints signed credentials for tests.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/felixgeelhaar/bodega/internal/credential"
)

var secret = []byte("bodega-test-secret")

// Sign signs claims with a fixed test key.
func Sign(claims map[string]any) (credential.Credential, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(secret)
	if err != nil {
		return "", err
	}
	return credential.Credential(signed), nil
}

// Mint is Sign for tests that cannot continue without the credential.
func Mint(t testing.TB, claims map[string]any) credential.Credential {
	t.Helper()
	c, err := Sign(claims)
	if err != nil {
		t.Fatalf("failed to sign test credential: %v", err)
	}
	return c
}

// ForRole mints a credential carrying role under the short claim key,
// valid for one hour.
func ForRole(t testing.TB, role string) credential.Credential {
	t.Helper()
	return Mint(t, map[string]any{
		"sub":   "user-" + role,
		"email": role + "@bodega.test",
		"role":  role,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
}
