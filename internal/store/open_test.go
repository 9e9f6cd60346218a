package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestOpen_NoDatabaseUsesMemory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, closeFn, err := Open(context.Background(), "", "redis://ignored:6379", time.Second, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", st)
	}
}

func TestOpen_BadDatabaseURL(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, _, err := Open(context.Background(), "::not a url::", "", time.Second, log); err == nil {
		t.Error("expected error for malformed DATABASE_URL")
	}
}
