//go:build integration

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/config"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/migrations"
)

// startPostgres 启动一个执行过迁移的临时 Postgres
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "dispatch",
			"POSTGRES_PASSWORD": "dispatch",
			"POSTGRES_DB":       "dispatch",
		},
		// postgres 在 initdb 之后会重启一次
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://dispatch:dispatch@%s:%s/dispatch?sslmode=disable", host, port.Port())
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(20)

	var pingErr error
	for i := 0; i < 10; i++ {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, pingErr)

	_, err = migrations.Up(ctx, db)
	require.NoError(t, err)

	return db
}

func TestPostgresRepository(t *testing.T) {
	db := startPostgres(t)

	cfg := &config.Config{}
	cfg.Database.QueryTimeout = 5
	cfg.Database.TransactionTimeout = 10

	testStore(t, func(t *testing.T) Store {
		return NewRepository(cfg, db)
	})
}

func TestPostgresRepository_MigrationsIdempotent(t *testing.T) {
	db := startPostgres(t)

	applied, err := migrations.Up(context.Background(), db)
	require.NoError(t, err)
	require.Empty(t, applied)
}

// 绕过 repository 直接写入时由触发器兜底
func TestPostgresRepository_CeilingTrigger(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	var planID string
	err := db.QueryRowContext(ctx, `
		INSERT INTO day_plans (tenant_id, user_id, plan_date)
		VALUES (gen_random_uuid(), gen_random_uuid(), '2026-10-17')
		RETURNING id
	`).Scan(&planID)
	require.NoError(t, err)

	insert := `
		INSERT INTO schedule_events (tenant_id, day_plan_id, event_type, job_id, scheduled_start, scheduled_duration_minutes)
		SELECT tenant_id, id, 'job', gen_random_uuid(), '2026-10-17T09:00:00Z', 30 FROM day_plans WHERE id = $1
	`
	for i := 0; i < 6; i++ {
		_, err := db.ExecContext(ctx, insert, planID)
		require.NoError(t, err)
	}
	_, err = db.ExecContext(ctx, insert, planID)
	require.Error(t, err)
	require.ErrorIs(t, translateError(err), domain.ErrLimitExceeded)
}
