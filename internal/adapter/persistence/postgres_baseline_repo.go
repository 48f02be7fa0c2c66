package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/ports"
)

// PostgresBaselineRepository implements BaselineRepository using PostgreSQL
type PostgresBaselineRepository struct {
	db *sql.DB
}

// NewPostgresBaselineRepository creates a new PostgreSQL baseline repository
func NewPostgresBaselineRepository(db *sql.DB) *PostgresBaselineRepository {
	return &PostgresBaselineRepository{db: db}
}

var _ ports.BaselineRepository = (*PostgresBaselineRepository)(nil)

// Upsert stores the profile for (userID, t). The first calculated_at is kept.
func (r *PostgresBaselineRepository) Upsert(ctx context.Context, userID int64, t domain.BaselineType, data json.RawMessage) (*domain.BehaviorBaseline, error) {
	query := `
		INSERT INTO user_behavior_baselines (user_id, baseline_type, baseline_data, calculated_at, last_updated)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id, baseline_type) DO UPDATE
		SET baseline_data = EXCLUDED.baseline_data,
			last_updated = EXCLUDED.last_updated,
			calculated_at = COALESCE(user_behavior_baselines.calculated_at, EXCLUDED.calculated_at)
		RETURNING id, user_id, baseline_type, baseline_data, calculated_at, last_updated
	`

	b, err := scanBaseline(r.db.QueryRowContext(ctx, query, userID, string(t), []byte(data)))
	if err != nil {
		return nil, mapPQError("upsert baseline", err)
	}
	return b, nil
}

// FindByUser returns every stored baseline of a user
func (r *PostgresBaselineRepository) FindByUser(ctx context.Context, userID int64) ([]*domain.BehaviorBaseline, error) {
	query := `
		SELECT id, user_id, baseline_type, baseline_data, calculated_at, last_updated
		FROM user_behavior_baselines
		WHERE user_id = $1
		ORDER BY baseline_type ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	baselines := []*domain.BehaviorBaseline{}
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate baselines: %w", err)
	}
	return baselines, nil
}

func scanBaseline(row rowScanner) (*domain.BehaviorBaseline, error) {
	var (
		b        domain.BehaviorBaseline
		baseType string
		data     []byte
	)
	if err := row.Scan(&b.ID, &b.UserID, &baseType, &data, &b.CalculatedAt, &b.LastUpdated); err != nil {
		return nil, err
	}
	b.Type = domain.BaselineType(baseType)
	b.Data = json.RawMessage(data)
	b.CalculatedAt = b.CalculatedAt.UTC()
	b.LastUpdated = b.LastUpdated.UTC()
	return &b, nil
}

// PostgresUserDirectory is the read-only user lookup used by the security subsystem
type PostgresUserDirectory struct {
	db *sql.DB
}

// NewPostgresUserDirectory creates a new user directory
func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

var _ ports.UserDirectory = (*PostgresUserDirectory)(nil)

// FindIDByEmail prefers the searchable hash and falls back to a
// case-insensitive literal match for rows written before hashing.
func (d *PostgresUserDirectory) FindIDByEmail(ctx context.Context, emailHash, email string) (int64, error) {
	query := `
		SELECT id
		FROM users
		WHERE ($1 <> '' AND email_hash = $1) OR LOWER(email) = LOWER($2)
		ORDER BY id ASC
		LIMIT 1
	`

	var id int64
	err := d.db.QueryRowContext(ctx, query, emailHash, email).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to find user by email: %w", err)
	}
	return id, nil
}

// Exists reports whether a user with id exists
func (d *PostgresUserDirectory) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

// ListActive returns all active users ordered by id
func (d *PostgresUserDirectory) ListActive(ctx context.Context) ([]domain.UserSummary, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, email, role FROM users WHERE is_active ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	users := []domain.UserSummary{}
	for rows.Next() {
		var (
			u     domain.UserSummary
			email sql.NullString
		)
		if err := rows.Scan(&u.ID, &email, &u.Role); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}
