package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/bodega/internal/version"
)

func TestVersion(t *testing.T) {
	e := newEnv(t)

	res := e.run(t, "version", "--short")
	require.NoError(t, res.err)
	assert.Equal(t, version.Version+"\n", res.stdout)

	res = e.run(t, "version", "--format", "json")
	require.NoError(t, res.err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Equal(t, version.GetInfo(), info)

	res = e.run(t, "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Platform:")
}
