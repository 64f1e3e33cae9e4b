//go:build integration

package dataflow

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ProjectEKA/consent-manager-sub002/migrations"
	"github.com/ProjectEKA/consent-manager-sub002/pkg/consent"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("consent_manager"),
		postgres.WithUsername("cm"),
		postgres.WithPassword("cm"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		sql, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			t.Fatalf("apply %s: %v", f, err)
		}
	}
	return pool
}

func TestPostgresRepositoryAgainstRealDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	repo := NewPostgresRepository(startPostgres(t))

	r := consent.NewDateRange(day(16), day(18))
	rec := Record{
		TransactionID: "txn-it-1",
		ConsentID:     "consent-1",
		HIUID:         "10000005",
		HIPID:         "10000002",
		DateRange:     r,
		Signature:     "sig",
		Request:       sampleRequest("consent-1", &r),
		CreatedAt:     testNow,
	}
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(ctx, rec); err == nil {
		t.Fatal("expected primary key violation on second insert")
	}
	got, err := repo.Get(ctx, "txn-it-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.DateRange.From.Equal(day(16)) || !got.DateRange.To.Equal(day(18)) || got.HIPID != "10000002" {
		t.Fatalf("unexpected record %+v", got)
	}

	first, err := repo.InsertNotification(ctx, "notify-1", "txn-it-1", []byte(`{"requestId":"notify-1"}`))
	if err != nil || !first {
		t.Fatalf("first notification: %v %v", first, err)
	}
	second, err := repo.InsertNotification(ctx, "notify-1", "txn-it-1", []byte(`{"requestId":"notify-1"}`))
	if err != nil || second {
		t.Fatalf("duplicate notification: %v %v", second, err)
	}
}
