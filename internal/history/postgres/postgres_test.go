package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/devdash/internal/history"
)

func TestPostgresSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(connStr)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	started := time.Now().Add(-time.Minute).UTC()
	rec := history.Record{ScriptID: "s1", Name: "dev", RepositoryID: "1", Command: "npm run dev", PID: 4242, StartedAt: started}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: started, Record: rec}))

	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	rec.Error = "signal: terminated"
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventError, OccurredAt: finished, Record: rec}))

	n, err := sink.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a second sink against the same database reuses the table
	again, err := New(connStr)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestPostgresEmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
