package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"callcenter/internal/sessions"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(FS, dir+"/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("expected embedded migrations, got %v", files)
	}
	for _, f := range files {
		b, err := fs.ReadFile(FS, f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		body := string(b)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", f)
		}
	}
}

func TestSessionCountersHaveNonNegativeChecks(t *testing.T) {
	b, err := fs.ReadFile(FS, dir+"/00001_calls_sessions.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	body := string(b)
	for _, c := range sessions.AllCounters {
		col := string(c)
		if !strings.Contains(body, "CHECK ("+col+" >= 0)") {
			t.Fatalf("missing non-negative check for %s", col)
		}
	}
	if !strings.Contains(body, "WHERE active") {
		t.Fatalf("missing one-active-session index")
	}
}
