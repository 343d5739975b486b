package main

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRunJobRejectsUnknownJob(t *testing.T) {
	t.Parallel()

	if _, err := runJob(context.Background(), nil, "nope", "energy"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestOpenStoreJSONDefault(t *testing.T) {
	t.Setenv("SOLARSYNC_POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "store.json")

	store, closeFn, err := openStore("", path, "")
	if err != nil {
		t.Fatalf("openStore error: %v", err)
	}
	defer closeFn()
	if store == nil {
		t.Fatal("expected a store")
	}
}

func TestOpenStorePostgresWithoutDSN(t *testing.T) {
	t.Setenv("SOLARSYNC_POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")

	if _, _, err := openStore("postgres", "", ""); err == nil {
		t.Fatal("expected error when postgres selected without DSN")
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	if _, _, err := openStore("sqlite", "", ""); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestResolveBool(t *testing.T) {
	t.Setenv("SOLARSYNC_TEST_BOOL", "true")

	if !resolveBool(true, "SOLARSYNC_TEST_BOOL_UNSET") {
		t.Fatal("expected flag to win")
	}
	if !resolveBool(false, "SOLARSYNC_TEST_BOOL") {
		t.Fatal("expected env value")
	}
	if resolveBool(false, "SOLARSYNC_TEST_BOOL_UNSET") {
		t.Fatal("expected false default")
	}
}
