package version

import (
	"runtime"
	"strings"
	"testing"
)

func withBuildInfo(t *testing.T, v, c, d string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = v, c, d
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
}

func TestGetInfo(t *testing.T) {
	withBuildInfo(t, "1.2.0", "abc123def456", "2026-01-01T12:00:00Z")

	info := GetInfo()

	if info.Version != "1.2.0" {
		t.Errorf("GetInfo().Version = %v, want 1.2.0", info.Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GetInfo().GoVersion = %v, want %v", info.GoVersion, runtime.Version())
	}
	if !strings.Contains(info.Platform, runtime.GOOS) {
		t.Errorf("GetInfo().Platform = %v, want it to contain %v", info.Platform, runtime.GOOS)
	}
}

func TestStringShortensCommit(t *testing.T) {
	withBuildInfo(t, "1.2.0", "abc123def456", "2026-01-01")

	s := GetInfo().String()
	if !strings.Contains(s, "(abc123de)") {
		t.Errorf("expected shortened commit, got %s", s)
	}
	if !strings.HasPrefix(s, "bodega 1.2.0") {
		t.Errorf("unexpected prefix: %s", s)
	}
}

func TestUserAgent(t *testing.T) {
	withBuildInfo(t, "dev", "unknown", "unknown")

	ua := GetInfo().UserAgent()
	if !strings.HasPrefix(ua, "bodega/dev (") {
		t.Errorf("unexpected user agent: %s", ua)
	}
}
