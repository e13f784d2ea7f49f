package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo4j/graphql-sub030/internal/subscription"
	"github.com/neo4j/graphql-sub030/internal/types"
)

func openTestDB(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	m, err := NewMigrator(conn)
	require.NoError(t, err)
	ran, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_subscriptions"}, ran)

	store, err := NewStore(conn)
	require.NoError(t, err)
	return store
}

func TestDataSourceFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite://data/sub.db", "sqlite3", "file:data/sub.db?_busy_timeout=5000&_journal_mode=WAL", false},
		{"sqlite:///var/lib/sub.db?_busy_timeout=100", "sqlite3", "file:/var/lib/sub.db?_busy_timeout=100&_journal_mode=WAL", false},
		{"postgres://u:p@localhost:5432/sub?sslmode=disable", "postgres", "postgres://u:p@localhost:5432/sub?sslmode=disable", false},
		{"postgresql://localhost/sub", "postgres", "postgresql://localhost/sub", false},
		{"mysql://localhost/sub", "", "", true},
		{"sqlite://", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := dataSourceFor(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantDSN, dsn)
		})
	}
}

func TestStatements(t *testing.T) {
	sql := "-- header\nCREATE TABLE a (x INT);\n\n-- second\nCREATE INDEX i ON a (x);\n"
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, statements(sql))
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	m, err := NewMigrator(store.db)
	require.NoError(t, err)

	ran, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "001_subscriptions", statuses[0].Version)
	assert.True(t, statuses[0].Applied)
	assert.NotNil(t, statuses[0].AppliedAt)

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrate_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	_, err := store.db.ExecContext(ctx, "UPDATE schema_migrations SET checksum = 'tampered'")
	require.NoError(t, err)

	m, err := NewMigrator(store.db)
	require.NoError(t, err)
	_, err = m.Up(ctx)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestMigrate_UnknownApplied(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	_, err := store.db.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, checksum, applied_at, duration_ms) VALUES ('999_future', 'x', CURRENT_TIMESTAMP, 0)")
	require.NoError(t, err)

	m, err := NewMigrator(store.db)
	require.NoError(t, err)
	_, err = m.Up(ctx)
	assert.ErrorContains(t, err, "not embedded")
}

func TestMigrate_PendingOnFreshDatabase(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer conn.Close()

	m, err := NewMigrator(conn)
	require.NoError(t, err)
	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_subscriptions"}, pending)
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t)

	a := subscription.Info{
		ID:            types.NewSubscriberID(),
		Entity:        "Movie",
		Events:        []string{"create", "update"},
		Where:         types.Where{"title": "Heat"},
		Authenticated: true,
		CreatedAt:     time.Now().UTC(),
	}
	b := subscription.Info{ID: types.NewSubscriberID(), Entity: "Actor", Events: []string{"delete"}, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.RecordSubscribe(ctx, a))
	require.NoError(t, store.RecordSubscribe(ctx, b))

	active, err := store.ListSubscriptions(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, string(a.ID), active[0].SubscriberID)
	assert.Equal(t, []string{"create", "update"}, active[0].EventList())
	assert.JSONEq(t, `{"title":"Heat"}`, active[0].WhereJSON)
	assert.True(t, active[0].Authenticated)
	assert.JSONEq(t, `{}`, active[1].WhereJSON)

	require.NoError(t, store.RecordUnsubscribe(ctx, a.ID, "unsubscribed"))
	active, err = store.ListSubscriptions(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, string(b.ID), active[0].SubscriberID)

	n, err := store.EndOpen(ctx, ReasonShutdown)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := store.ListSubscriptions(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		assert.True(t, r.EndedAt.Valid)
	}
	assert.Equal(t, "unsubscribed", all[0].EndReason.String)
	assert.Equal(t, ReasonShutdown, all[1].EndReason.String)
}
