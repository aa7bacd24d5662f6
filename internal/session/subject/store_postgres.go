package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"leadgate/internal/session/models"
	"leadgate/pkg/platform/sentinel"
)

// PostgresStore reads subjects from the subjects table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed subject store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, subject *models.Subject) error {
	if subject == nil {
		return fmt.Errorf("subject is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (subject_id, name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, subject.ID, subject.Name, subject.Role, subject.PasswordHash, subject.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subject already exists: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.Subject, error) {
	var subject models.Subject
	err := s.db.QueryRowContext(ctx, `
		SELECT subject_id, name, role, password_hash, created_at
		FROM subjects
		WHERE name = $1
	`, name).Scan(&subject.ID, &subject.Name, &subject.Role, &subject.PasswordHash, &subject.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subject not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find subject by name: %w", err)
	}
	return &subject, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
