package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE DATABASE IF NOT EXISTS outreach;

CREATE TABLE t
(
    id Int64
)
ORDER BY id;

-- trailing note
`
	got := splitStatements(script)
	if len(got) != 2 {
		t.Fatalf("got %d statements: %q", len(got), got)
	}
	if got[0] != "-- header comment\nCREATE DATABASE IF NOT EXISTS outreach" {
		t.Fatalf("first = %q", got[0])
	}
	if got[1] != "CREATE TABLE t\n(\n    id Int64\n)\nORDER BY id" {
		t.Fatalf("second = %q", got[1])
	}
}

func TestClickHouseMigrationSplits(t *testing.T) {
	body, err := os.ReadFile(filepath.Join("..", "migrations", "clickhouse", "001_recipients.sql"))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(splitStatements(string(body))); n != 3 {
		t.Fatalf("statements = %d, want 3", n)
	}
}
