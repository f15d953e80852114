package cmd

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/bodega/internal/api"
	"github.com/felixgeelhaar/bodega/internal/errors"
	"github.com/felixgeelhaar/bodega/internal/exitcode"
)

func TestAuthSubcommands(t *testing.T) {
	auth := newAuthCmd()

	flags := map[string][]string{
		"login":    {"email", "password", "password-stdin"},
		"logout":   nil,
		"status":   nil,
		"register": {"email", "password", "password-stdin", "company", "business-type"},
	}
	for name, want := range flags {
		sub, _, err := auth.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
		assert.NotEmpty(t, sub.Short)
		for _, f := range want {
			assert.NotNil(t, sub.Flags().Lookup(f), "flag %s on auth %s", f, name)
		}
	}
}

func TestAuthLoginStatusLogout(t *testing.T) {
	e := newEnv(t)
	e.srv.AddUser("ana@bodega.test", "secret", "User")

	res := e.run(t, "auth", "login", "--email", "ana@bodega.test", "--password", "secret")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Logged in as User.")
	assert.Contains(t, res.stdout, "ana@bodega.test")

	stored, ok := e.storedCredential(t)
	require.True(t, ok)

	res = e.run(t, "auth", "status", "--format", "json")
	require.NoError(t, res.err)
	var status sessionReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &status))
	assert.Equal(t, "authenticated", status.State)
	assert.Equal(t, "User", status.Role)
	assert.Equal(t, "ana@bodega.test", status.Email)
	assert.Equal(t, "Bodega Test", status.Organization)
	assert.Equal(t, stored.Fingerprint(), status.Credential)
	assert.NotNil(t, status.ExpiresAt)

	res = e.run(t, "auth", "logout")
	require.NoError(t, res.err)
	assert.Equal(t, "Logged out.\n", res.stdout)

	_, ok = e.storedCredential(t)
	assert.False(t, ok)

	res = e.run(t, "auth", "logout")
	require.NoError(t, res.err)
	assert.Equal(t, "Not logged in.\n", res.stdout)

	res = e.run(t, "auth", "status")
	require.ErrorIs(t, res.err, errors.ErrNotAuthenticated)
	assert.Equal(t, exitcode.AuthError, exitcode.DetermineExitCode(res.err))
}

func TestAuthLoginReadsPasswordFromStdin(t *testing.T) {
	e := newEnv(t)
	e.srv.AddUser("ana@bodega.test", "secret", "Admin")

	res := e.runWithInput(t, "secret\n", "auth", "login", "--email", "ana@bodega.test", "--password-stdin")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Logged in as Admin.")
}

func TestAuthLoginWrongPassword(t *testing.T) {
	e := newEnv(t)
	e.srv.AddUser("ana@bodega.test", "secret", "User")

	res := e.run(t, "auth", "login", "--email", "ana@bodega.test", "--password", "nope")
	require.ErrorIs(t, res.err, errors.ErrValidation)
	assert.Contains(t, res.err.Error(), "Invalid email or password")
	assert.Equal(t, exitcode.ValidationError, exitcode.DetermineExitCode(res.err))

	_, ok := e.storedCredential(t)
	assert.False(t, ok, "a failed login stores nothing")
}

func TestAuthLoginWithoutTerminalNeedsFlags(t *testing.T) {
	e := newEnv(t)

	res := e.run(t, "auth", "login", "--email", "ana@bodega.test")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), `"password"`)
	assert.Equal(t, exitcode.UsageError, exitcode.DetermineExitCode(res.err))
	assert.Zero(t, e.srv.Count(http.MethodPost, api.PathLogin))
}

func TestAuthStatusWithRejectedCredential(t *testing.T) {
	e := newEnv(t)
	e.login(t, "User")

	e.srv.RejectAll()
	res := e.run(t, "auth", "status")
	require.ErrorIs(t, res.err, errors.ErrNotAuthenticated)

	_, ok := e.storedCredential(t)
	assert.False(t, ok, "the rejected credential is removed")
}

func TestAuthRegister(t *testing.T) {
	e := newEnv(t)

	res := e.run(t, "auth", "register",
		"--email", "new@bodega.test",
		"--password", "secret",
		"--company", "  Ferretería Ana ",
		"--business-type", "Servicios",
	)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "User registered")
	assert.Contains(t, res.stdout, "bodega auth login --email new@bodega.test")

	_, ok := e.storedCredential(t)
	assert.False(t, ok, "registering does not log in")

	res = e.run(t, "auth", "login", "--email", "new@bodega.test", "--password", "secret", "--format", "json")
	require.NoError(t, res.err)
	var status sessionReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &status))
	assert.Equal(t, "Ferretería Ana", status.Organization)
}

func TestAuthRegisterDuplicate(t *testing.T) {
	e := newEnv(t)
	e.srv.AddUser("ana@bodega.test", "secret", "User")

	res := e.run(t, "auth", "register",
		"--email", "ana@bodega.test",
		"--password", "secret",
		"--company", "Ana",
		"--business-type", "Manufactura",
	)
	require.ErrorIs(t, res.err, errors.ErrValidation)
	assert.Contains(t, res.err.Error(), "Email already registered")
}
