package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leadgate/internal/ratelimit/models"
	"leadgate/pkg/platform/sentinel"
)

// PostgresStore persists counters in PostgreSQL.
//
// Admit is a single INSERT ... ON CONFLICT DO UPDATE statement: the conflicting
// row is locked for the duration of the statement, so concurrent admits for
// one pair serialize on that row and the CASE expressions below always see the
// committed result of the previous attempt.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed counter store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Parameters: $1 identifier, $2 action, $3 now, $4 max attempts,
// $5 window seconds, $6 block seconds.
//
// Mirrors models.Record.Admit. "fresh" is: the last attempt fell out of the
// window, or a positive block has lapsed.
const admitQuery = `
	INSERT INTO rate_limit_counters AS c (identifier, action, attempts, last_attempt, blocked_until, window_seconds)
	VALUES (
		$1, $2, 1, $3::timestamptz,
		CASE WHEN 1 > $4::int THEN $3::timestamptz + $6::int * interval '1 second' END,
		$5::int
	)
	ON CONFLICT (identifier, action) DO UPDATE SET
		attempts = CASE
			WHEN c.blocked_until > $3::timestamptz THEN c.attempts
			WHEN c.last_attempt < $3::timestamptz - $5::int * interval '1 second'
				OR (c.blocked_until > c.last_attempt AND c.blocked_until <= $3::timestamptz) THEN 1
			ELSE c.attempts + 1
		END,
		blocked_until = CASE
			WHEN c.blocked_until > $3::timestamptz THEN c.blocked_until
			WHEN c.last_attempt < $3::timestamptz - $5::int * interval '1 second'
				OR (c.blocked_until > c.last_attempt AND c.blocked_until <= $3::timestamptz) THEN
				CASE WHEN 1 > $4::int THEN $3::timestamptz + $6::int * interval '1 second' END
			WHEN c.attempts + 1 > $4::int THEN $3::timestamptz + $6::int * interval '1 second'
			ELSE c.blocked_until
		END,
		last_attempt = CASE
			WHEN c.blocked_until > $3::timestamptz THEN c.last_attempt
			ELSE $3::timestamptz
		END,
		window_seconds = CASE
			WHEN c.blocked_until > $3::timestamptz THEN c.window_seconds
			ELSE $5::int
		END
	RETURNING identifier, action, attempts, last_attempt, blocked_until, window_seconds
`

func (s *PostgresStore) Admit(ctx context.Context, identifier string, action models.Action, policy models.Policy, now time.Time) (*models.Record, error) {
	// timestamptz has microsecond precision; truncate so the returned record
	// compares equal to the caller's clock.
	now = now.Truncate(time.Microsecond)
	record, err := scanRecord(s.db.QueryRowContext(ctx, admitQuery,
		identifier,
		string(action),
		now,
		policy.MaxAttempts,
		policy.WindowSeconds(),
		int(policy.Block/time.Second),
	))
	if err != nil {
		return nil, fmt.Errorf("admit rate limit counter: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Get(ctx context.Context, identifier string, action models.Action) (*models.Record, error) {
	query := `
		SELECT identifier, action, attempts, last_attempt, blocked_until, window_seconds
		FROM rate_limit_counters
		WHERE identifier = $1 AND action = $2
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, identifier, string(action)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get rate limit counter: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Delete(ctx context.Context, identifier string, action models.Action) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE identifier = $1 AND action = $2`, identifier, string(action))
	if err != nil {
		return fmt.Errorf("delete rate limit counter: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStale(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM rate_limit_counters
		WHERE last_attempt < $1::timestamptz - (2 * window_seconds) * interval '1 second'
		  AND (blocked_until IS NULL OR blocked_until <= $1::timestamptz)
	`
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limit counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted rate limit counters: %w", err)
	}
	return int(n), nil
}

type counterRow interface {
	Scan(dest ...any) error
}

func scanRecord(row counterRow) (*models.Record, error) {
	var (
		record       models.Record
		action       string
		blockedUntil sql.NullTime
	)
	if err := row.Scan(&record.Identifier, &action, &record.Attempts, &record.LastAttempt, &blockedUntil, &record.WindowSeconds); err != nil {
		return nil, err
	}
	record.Action = models.Action(action)
	if blockedUntil.Valid {
		until := blockedUntil.Time
		record.BlockedUntil = &until
	}
	return &record, nil
}
