package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/neo4j/graphql-sub030/internal/subscription"
	"github.com/neo4j/graphql-sub030/internal/types"
)

// DefaultListLimit bounds ListSubscriptions when all rows are requested.
const DefaultListLimit = 10000

// ReasonShutdown ends subscriptions left open by a previous process.
const ReasonShutdown = "server shutdown"

// SubscriptionRecord is one row of the subscription audit table.
type SubscriptionRecord struct {
	SubscriberID  string         `db:"subscriber_id"`
	Entity        string         `db:"entity"`
	Events        string         `db:"events"`
	WhereJSON     string         `db:"where_json"`
	Authenticated bool           `db:"authenticated"`
	CreatedAt     time.Time      `db:"created_at"`
	EndedAt       sql.NullTime   `db:"ended_at"`
	EndReason     sql.NullString `db:"end_reason"`
}

// EventList splits the stored event kinds.
func (r SubscriptionRecord) EventList() []string {
	if r.Events == "" {
		return nil
	}
	return strings.Split(r.Events, ",")
}

// Store records the subscription lifecycle. It implements
// subscription.Recorder.
type Store struct {
	db      *sqlx.DB
	queries *Queries
}

var _ subscription.Recorder = (*Store)(nil)

// NewStore loads the named queries for db.
func NewStore(db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	q, err := NewQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, queries: q}, nil
}

// RecordSubscribe inserts a registration.
func (s *Store) RecordSubscribe(ctx context.Context, info subscription.Info) error {
	where := info.Where
	if where == nil {
		where = types.Where{}
	}
	whereJSON, err := json.Marshal(where)
	if err != nil {
		return fmt.Errorf("failed to encode where: %w", err)
	}
	_, err = s.queries.Exec(ctx, "insert-subscription",
		string(info.ID),
		info.Entity,
		strings.Join(info.Events, ","),
		string(whereJSON),
		info.Authenticated,
		info.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// RecordUnsubscribe marks a registration ended.
func (s *Store) RecordUnsubscribe(ctx context.Context, id types.SubscriberID, reason string) error {
	if _, err := s.queries.Exec(ctx, "end-subscription", time.Now().UTC(), reason, string(id)); err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// EndOpen marks every open registration ended. Run at startup: registrations
// do not survive a restart.
func (s *Store) EndOpen(ctx context.Context, reason string) (int64, error) {
	res, err := s.queries.Exec(ctx, "end-open-subscriptions", time.Now().UTC(), reason)
	if err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return res.RowsAffected()
}

// ListSubscriptions returns recorded registrations ordered by ID, only the
// open ones when activeOnly is set.
func (s *Store) ListSubscriptions(ctx context.Context, activeOnly bool, limit int) ([]SubscriptionRecord, error) {
	var records []SubscriptionRecord
	var err error
	if activeOnly {
		err = s.queries.Select(ctx, "list-active-subscriptions", &records)
	} else {
		if limit <= 0 {
			limit = DefaultListLimit
		}
		err = s.queries.Select(ctx, "list-subscriptions", &records, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return records, nil
}
