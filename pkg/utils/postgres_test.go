package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 8}.withDefaults()
	if got.MaxOpenConns != 8 {
		t.Fatalf("explicit value overwritten: %d", got.MaxOpenConns)
	}
	// idle connections never exceed the open limit
	if got.MaxIdleConns != 8 {
		t.Fatalf("expected idle clamped to 8, got %d", got.MaxIdleConns)
	}
	if got.ConnMaxLifetime != 30*time.Minute || got.ConnMaxIdleTime != 5*time.Minute || got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	zero := PostgresPoolConfig{}.withDefaults()
	if zero.MaxOpenConns != 40 || zero.MaxIdleConns != 10 {
		t.Fatalf("unexpected pool sizing: %+v", zero)
	}
}

func TestPGErrorCode(t *testing.T) {
	unique := fmt.Errorf("insert call: %w", &pgconn.PgError{Code: "23505"})
	check := &pgconn.PgError{Code: "23514"}

	if !IsUniqueViolation(unique) || IsCheckViolation(unique) {
		t.Fatalf("wrapped unique violation misclassified")
	}
	if !IsCheckViolation(check) || IsUniqueViolation(check) {
		t.Fatalf("check violation misclassified")
	}
	if PGErrorCode(errors.New("boom")) != "" || IsUniqueViolation(nil) {
		t.Fatalf("non-postgres errors have no code")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379", PoolSize: 5}.withDefaults()
	if got.PoolSize != 5 || got.DialTimeout != 3*time.Second || got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
