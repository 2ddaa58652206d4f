package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
)

func TestStubConnReturnsScriptedRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Script(StubResult{Match: "FROM orthologs", Columns: []string{"a", "b"}, Rows: [][]driver.Value{{int64(1), "x"}}})

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	rows, err := conn.QueryContext(ctx, "SELECT a, b FROM orthologs WHERE a = $1", []driver.NamedValue{{Ordinal: 1, Value: int64(1)}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != int64(1) || dest[1] != "x" {
		t.Fatalf("unexpected row values: %v", dest)
	}
	if len(conn.Queries) != 1 {
		t.Fatalf("expected query recorded, got %v", conn.Queries)
	}
}

func TestStubConnFailures(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.FailPing = true
	conn.FailExec = true
	boom := errors.New("boom")
	conn.Script(StubResult{Match: "genes", Err: boom})

	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM full_annot", nil); err == nil {
		t.Fatalf("expected exec failure")
	}
	if _, err := conn.QueryContext(ctx, "SELECT rgd_id FROM genes", nil); !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
}
