//go:build integration

// Package dbtest spins up a disposable Postgres container for the
// integration test suites under internal/db, internal/enqueue,
// internal/dispatcher, internal/quota, internal/ratelimit,
// internal/idempotency, internal/usage and internal/janitor, grounded
// on the container-per-test pattern in
// velmie-outbox/mysql/store_integration_test.go (startMySQLContainer /
// setupSchema), adapted from MySQL to Postgres and from database/sql
// to pgx/v5.
package dbtest

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"deliveryengine/internal/db"
)

// schema mirrors migrations/0001_init.sql. Kept as a literal here
// rather than read from disk so the integration suite has no runtime
// dependency on the repository layout.
const schema = `
CREATE TABLE projects (
    id                    UUID PRIMARY KEY,
    name                  TEXT NOT NULL,
    owner_email           TEXT NOT NULL,
    status                TEXT NOT NULL CHECK (status IN ('active', 'suspended')),
    monthly_limit         INTEGER NULL,
    rate_limit_per_minute INTEGER NULL,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE api_keys (
    id            UUID PRIMARY KEY,
    project_id    UUID NOT NULL REFERENCES projects(id),
    key_hash      TEXT NOT NULL UNIQUE,
    name          TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_used_at  TIMESTAMPTZ NULL,
    revoked_at    TIMESTAMPTZ NULL
);

CREATE UNIQUE INDEX api_keys_active_hash_idx ON api_keys (key_hash) WHERE revoked_at IS NULL;

CREATE TABLE messages (
    id              UUID PRIMARY KEY,
    project_id      UUID NOT NULL REFERENCES projects(id),
    type            TEXT NOT NULL CHECK (type IN ('email', 'sms', 'whatsapp', 'push')),
    status          TEXT NOT NULL CHECK (status IN ('queued', 'delivered', 'failed', 'dead')),
    from_address    TEXT NOT NULL,
    to_address      TEXT NOT NULL,
    subject         TEXT NULL,
    body            TEXT NOT NULL,
    metadata        JSONB NULL,
    idempotency_key TEXT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    max_attempts    INTEGER NOT NULL DEFAULT 3,
    next_attempt_at TIMESTAMPTZ NULL,
    scheduled_for   TIMESTAMPTZ NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX messages_project_idempotency_key_idx
    ON messages (project_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE INDEX messages_claim_idx ON messages (status, created_at) WHERE status = 'queued';
CREATE INDEX messages_retry_claim_idx ON messages (next_attempt_at, status) WHERE status = 'queued';
CREATE INDEX messages_project_created_idx ON messages (project_id, created_at DESC);
CREATE INDEX messages_project_status_idx ON messages (project_id, status);
CREATE INDEX messages_terminal_retention_idx ON messages (status, created_at)
    WHERE status IN ('delivered', 'failed', 'dead');

CREATE TABLE events (
    id                 UUID PRIMARY KEY,
    message_id         UUID NOT NULL REFERENCES messages(id),
    project_id         UUID NOT NULL REFERENCES projects(id),
    event_type         TEXT NOT NULL CHECK (event_type IN (
                            'requested', 'queued', 'sent', 'delivered',
                            'failed', 'bounced', 'opened', 'clicked', 'dead', 'skipped'
                        )),
    provider_response  JSONB NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX events_message_id_idx ON events (message_id);
CREATE INDEX events_created_at_idx ON events (created_at);

CREATE TABLE usage (
    id           BIGSERIAL PRIMARY KEY,
    project_id   UUID NOT NULL REFERENCES projects(id),
    period       TEXT NOT NULL,
    message_type TEXT NOT NULL,
    count        INTEGER NOT NULL DEFAULT 0,
    UNIQUE (project_id, period, message_type)
);

CREATE TABLE rate_limit_tracking (
    id            BIGSERIAL PRIMARY KEY,
    project_id    UUID NOT NULL REFERENCES projects(id),
    minute_window TIMESTAMPTZ NOT NULL,
    count         INTEGER NOT NULL DEFAULT 0,
    UNIQUE (project_id, minute_window)
);

CREATE INDEX rate_limit_window_idx ON rate_limit_tracking (minute_window);

CREATE TABLE admin_events (
    id         UUID PRIMARY KEY,
    project_id UUID NOT NULL REFERENCES projects(id),
    event_type TEXT NOT NULL,
    actor      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// TB is the subset of *testing.T/B that this helper needs, so it can
// be used from either.
type TB interface {
	require.TestingT
	Helper()
	Skipf(format string, args ...any)
	Cleanup(func())
}

// StartPostgres launches a disposable Postgres 16 container, applies
// the schema, and returns a connected *db.Store. The container is
// terminated automatically via t.Cleanup.
func StartPostgres(t TB) *db.Store {
	t.Helper()
	ctx := context.Background()

	port := nat.Port("5432/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     "deliveryengine",
			"POSTGRES_PASSWORD": "secret",
			"POSTGRES_DB":       "deliveryengine",
		},
		WaitingFor: wait.ForSQL(port, "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://deliveryengine:secret@%s:%s/deliveryengine?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
		return nil
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	connURL := fmt.Sprintf("postgres://deliveryengine:secret@%s:%s/deliveryengine?sslmode=disable", host, mapped.Port())

	store, err := db.New(ctx, connURL)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	_, err = store.Pool.Exec(ctx, schema)
	require.NoError(t, err)

	return store
}
