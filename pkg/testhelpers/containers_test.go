//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestTestDB_Connection(t *testing.T) {
	testDB := GetTestDB(t)

	ctx := context.Background()

	var version string
	if err := testDB.Pool.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		t.Fatalf("failed to query server version: %v", err)
	}
	if version == "" {
		t.Error("expected a server version")
	}

	m := testDB.ConnectionMap()
	if m["port"] != testDB.Port || m["host"] != testDB.Host {
		t.Errorf("connection map does not match container: %v", m)
	}
}

func TestTestDB_ResetSchema(t *testing.T) {
	testDB := GetTestDB(t)
	ctx := context.Background()

	testDB.ResetSchema(t, "scratch")
	if _, err := testDB.Pool.Exec(ctx, `CREATE TABLE "scratch"."t" (id int)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	testDB.ResetSchema(t, "scratch")

	var count int
	err := testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'scratch'").Scan(&count)
	if err != nil {
		t.Fatalf("failed to count tables: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty schema after reset, got %d tables", count)
	}
}
