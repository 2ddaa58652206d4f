package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"annotprop/internal/archive/core"
)

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	meta := map[string]string{"k": "v"}
	if _, err := s.Put(ctx, "a", bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: meta}); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["k"] = "changed"
	info, rc, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "abc" || info.Metadata["k"] != "v" {
		t.Fatalf("unexpected object %q %+v", b, info)
	}
	info.Metadata["k"] = "mutated"
	again, _, _ := s.Get(ctx, "a")
	if again.Metadata["k"] != "v" {
		t.Fatalf("metadata shared with caller")
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	if _, err := New().Put(context.Background(), " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}
