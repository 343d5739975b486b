package main

import (
	"testing"
	"time"
)

func TestResolveStorageDriver(t *testing.T) {
	t.Parallel()

	if driver := resolveStorageDriver("", "", "postgres://example"); driver != "postgres" {
		t.Fatalf("expected DSN to imply postgres, got %q", driver)
	}
	if driver := resolveStorageDriver("json", "", "postgres://example"); driver != "json" {
		t.Fatalf("expected flag to win, got %q", driver)
	}
	if driver := resolveStorageDriver("", "postgres", ""); driver != "postgres" {
		t.Fatalf("expected env to win, got %q", driver)
	}
	if driver := resolveStorageDriver("", "", ""); driver != "json" {
		t.Fatalf("expected json default, got %q", driver)
	}
}

func TestResolvePostgresDSNPriority(t *testing.T) {
	t.Setenv("SOLARSYNC_POSTGRES_DSN", "postgres://env")
	t.Setenv("DATABASE_URL", "postgres://database")
	got := resolvePostgresDSN("postgres://flag")
	if got != "postgres://flag" {
		t.Fatalf("expected flag DSN to win, got %q", got)
	}
	got = resolvePostgresDSN("")
	if got != "postgres://env" {
		t.Fatalf("expected SOLARSYNC_POSTGRES_DSN to win, got %q", got)
	}
	t.Setenv("SOLARSYNC_POSTGRES_DSN", "")
	got = resolvePostgresDSN("")
	if got != "postgres://database" {
		t.Fatalf("expected DATABASE_URL fallback, got %q", got)
	}
}

func TestResolveSessionStoreConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		flagDriver    string
		envDriver     string
		storageDriver string
		storageDSN    string
		flagDSN       string
		envDSN        string
		want          sessionStoreConfig
		wantErr       bool
	}{
		{
			name:          "DefaultsToPostgresWhenStorageIsPostgres",
			storageDriver: "postgres",
			storageDSN:    "postgres://main",
			want:          sessionStoreConfig{Driver: "postgres", DSN: "postgres://main"},
		},
		{
			name:          "DefaultsToPostgresWhenSessionDSNProvided",
			storageDriver: "json",
			envDSN:        "postgres://sessions",
			want:          sessionStoreConfig{Driver: "postgres", DSN: "postgres://sessions"},
		},
		{
			name:          "ExplicitMemoryWins",
			flagDriver:    "memory",
			storageDriver: "postgres",
			storageDSN:    "postgres://main",
			want:          sessionStoreConfig{Driver: "memory"},
		},
		{
			name:          "DefaultsToMemoryWithoutHints",
			storageDriver: "json",
			want:          sessionStoreConfig{Driver: "memory"},
		},
		{
			name:          "ErrorsWhenPostgresSelectedWithoutDSN",
			flagDriver:    "postgres",
			storageDriver: "json",
			wantErr:       true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := resolveSessionStoreConfig(tc.flagDriver, tc.envDriver, tc.storageDriver, tc.storageDSN, tc.flagDSN, tc.envDSN)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Driver != tc.want.Driver {
				t.Fatalf("expected driver %q, got %q", tc.want.Driver, cfg.Driver)
			}
			if cfg.DSN != tc.want.DSN {
				t.Fatalf("expected DSN %q, got %q", tc.want.DSN, cfg.DSN)
			}
		})
	}
}

func TestResolveDataPath(t *testing.T) {
	t.Parallel()

	if got := resolveDataPath("/var/solarsync.json", "/env/store.json"); got != "/var/solarsync.json" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := resolveDataPath("", "/env/store.json"); got != "/env/store.json" {
		t.Fatalf("expected env fallback, got %q", got)
	}
	if got := resolveDataPath("", ""); got != "data/store.json" {
		t.Fatalf("expected default path, got %q", got)
	}
}

func TestResolveDuration(t *testing.T) {
	t.Setenv("SOLARSYNC_TEST_DURATION", "45s")

	if got := resolveDuration(time.Minute, "SOLARSYNC_TEST_DURATION", time.Second); got != time.Minute {
		t.Fatalf("expected flag to win, got %v", got)
	}
	if got := resolveDuration(0, "SOLARSYNC_TEST_DURATION", time.Second); got != 45*time.Second {
		t.Fatalf("expected env value, got %v", got)
	}
	if got := resolveDuration(0, "SOLARSYNC_TEST_DURATION_UNSET", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	t.Parallel()

	got := splitAndTrim(" https://a.example.com , ,https://b.example.com ")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected result %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}
