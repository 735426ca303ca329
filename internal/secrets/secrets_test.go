package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadPrefersSecretFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vantage6_service_username"), []byte("svc-user\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	reader := NewReader(dir, WithLookupEnv(func(string) (string, bool) {
		return "env-user", true
	}))

	value, ok := reader.Read("vantage6_service_username")
	if !ok {
		t.Fatalf("expected secret to resolve")
	}
	if value != "svc-user" {
		t.Fatalf("expected file value to win, got %q", value)
	}
}

func TestReadFallsBackToEnvironment(t *testing.T) {
	reader := NewReader(t.TempDir(), WithLookupEnv(func(key string) (string, bool) {
		if key != "VANTAGE6_SERVER_URL" {
			t.Fatalf("unexpected lookup key %q", key)
		}
		return " https://server.example.org ", true
	}))

	value, ok := reader.Read("vantage6_server_url")
	if !ok {
		t.Fatalf("expected env fallback to resolve")
	}
	if value != "https://server.example.org" {
		t.Fatalf("expected trimmed env value, got %q", value)
	}
}

func TestReadReportsMissingSecret(t *testing.T) {
	reader := NewReader(t.TempDir(), WithLookupEnv(func(string) (string, bool) {
		return "", false
	}))

	if _, ok := reader.Read("vantage6_collaboration"); ok {
		t.Fatalf("expected missing secret to report not found")
	}
}
