package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{
		"JD_BACKEND_URL", "VITE_BACKEND_URL", "JD_AUTH_URL", "SUPABASE_URL", "VITE_SUPABASE_URL",
		"JD_AUTH_ANON_KEY", "SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY", "JD_FRONTEND_URL",
		"VITE_FRONTEND_URL", "JD_HTTP_TIMEOUT", "JD_RATE_LIMIT", "JD_LOG_LEVEL", "XDG_CONFIG_HOME",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("JD_CONFIG_DIR", dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultBackendURL, cfg.BackendURL)
	require.Equal(t, 60*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 5.0, cfg.RateLimit)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, dir, cfg.Dir)
	require.False(t, cfg.AuthConfigured())
	require.Equal(t, DefaultFrontendOrigin, cfg.Origin())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := clearEnv(t)
	yml := "backend_url: https://api.example.com\nauth_url: https://proj.supabase.co\nauth_anon_key: anon\nfrontend_url: https://jd.example.com\nhttp_timeout: 5s\nrate_limit: 2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o600))
	t.Setenv("VITE_BACKEND_URL", "https://override.example.com")
	t.Setenv("JD_RATE_LIMIT", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://override.example.com", cfg.BackendURL)
	require.Equal(t, "https://proj.supabase.co", cfg.AuthURL)
	require.True(t, cfg.AuthConfigured())
	require.Equal(t, "https://jd.example.com", cfg.Origin())
	require.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 0.5, cfg.RateLimit)
}

func TestLoad_Errors(t *testing.T) {
	dir := clearEnv(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err, "explicit missing file must fail")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("backend_url: [unclosed"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)

	t.Setenv("JD_BACKEND_URL", "::nope")
	_, err = Load("")
	require.Error(t, err)
}

func TestDir_Fallbacks(t *testing.T) {
	t.Setenv("JD_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	require.Equal(t, filepath.Join("/tmp/xdg", "juniordebug"), Dir())
}

func TestGetEnv_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("JD_HTTP_TIMEOUT", "soon")
	t.Setenv("JD_RATE_LIMIT", "fast")
	require.Equal(t, time.Second, getEnvDuration("JD_HTTP_TIMEOUT", time.Second))
	require.Equal(t, 3.0, getEnvFloat("JD_RATE_LIMIT", 3))
}
