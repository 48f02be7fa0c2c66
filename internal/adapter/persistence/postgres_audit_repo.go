package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/ports"
)

// auditChainLockKey is the pg_advisory_xact_lock key serializing chain appends.
const auditChainLockKey int64 = 0x5ec0b5a0d17

const auditIterateBatch = 1000

const auditColumns = `id, timestamp, user_id, user_email, user_role, action, resource_type, resource_id,
	ip_address, user_agent, request_method, request_path, status, error_code, error_message,
	metadata, previous_hash`

// PostgresAuditRepository implements AuditRepository using PostgreSQL
type PostgresAuditRepository struct {
	db *sql.DB
}

// NewPostgresAuditRepository creates a new PostgreSQL audit repository
func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

var _ ports.AuditRepository = (*PostgresAuditRepository)(nil)

// Append extends the chain inside a transaction holding the chain lock, so
// concurrent writers always observe the latest predecessor.
func (r *PostgresAuditRepository) Append(ctx context.Context, record *domain.AuditRecord) error {
	var metadataJSON []byte
	if record.Metadata != nil {
		b, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadataJSON = b
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainLockKey); err != nil {
		return fmt.Errorf("failed to acquire audit chain lock: %w", err)
	}

	prevHash := ""
	prev, err := scanAuditRecord(tx.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs ORDER BY id DESC LIMIT 1`))
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to read latest audit log: %w", err)
	default:
		if prevHash, err = domain.ChainHash(prev); err != nil {
			return fmt.Errorf("failed to hash latest audit log: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (user_id, user_email, user_role, action, resource_type, resource_id,
			ip_address, user_agent, request_method, request_path, status, error_code, error_message,
			metadata, previous_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, timestamp
	`
	var ts time.Time
	err = tx.QueryRowContext(ctx, query,
		nullInt64(record.UserID),
		nullString(record.UserEmail),
		nullString(record.UserRole),
		record.Action,
		nullString(record.ResourceType),
		nullString(record.ResourceID),
		nullString(record.IPAddress),
		nullString(record.UserAgent),
		nullString(record.RequestMethod),
		nullString(record.RequestPath),
		string(record.Status),
		nullString(record.ErrorCode),
		nullString(record.ErrorMessage),
		metadataJSON,
		prevHash,
	).Scan(&record.ID, &ts)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit log: %w", err)
	}

	record.Timestamp = ts.UTC()
	record.PreviousHash = &prevHash
	return nil
}

// Iterate streams records in ascending id order using keyset pagination
func (r *PostgresAuditRepository) Iterate(ctx context.Context, fn func(*domain.AuditRecord) error) error {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id > $1 ORDER BY id ASC LIMIT $2`

	var lastID int64
	for {
		batch, err := r.page(ctx, query, lastID)
		if err != nil {
			return err
		}
		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return err
			}
			lastID = rec.ID
		}
		if len(batch) < auditIterateBatch {
			return nil
		}
	}
}

func (r *PostgresAuditRepository) page(ctx context.Context, query string, afterID int64) ([]*domain.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, afterID, auditIterateBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit logs: %w", err)
	}
	defer rows.Close()

	batch := make([]*domain.AuditRecord, 0, auditIterateBatch)
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return batch, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRecord(row rowScanner) (*domain.AuditRecord, error) {
	var (
		rec                                         domain.AuditRecord
		userID                                      sql.NullInt64
		email, role, resType, resID, ip, ua         sql.NullString
		method, path, errCode, errMsg, previousHash sql.NullString
		status                                      string
		metadataJSON                                []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Timestamp, &userID, &email, &role, &rec.Action, &resType, &resID,
		&ip, &ua, &method, &path, &status, &errCode, &errMsg,
		&metadataJSON, &previousHash,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp = rec.Timestamp.UTC()
	rec.UserID = int64Ptr(userID)
	rec.UserEmail = stringPtr(email)
	rec.UserRole = stringPtr(role)
	rec.ResourceType = stringPtr(resType)
	rec.ResourceID = stringPtr(resID)
	rec.IPAddress = stringPtr(ip)
	rec.UserAgent = stringPtr(ua)
	rec.RequestMethod = stringPtr(method)
	rec.RequestPath = stringPtr(path)
	rec.Status = domain.AuditOutcome(status)
	rec.ErrorCode = stringPtr(errCode)
	rec.ErrorMessage = stringPtr(errMsg)
	rec.PreviousHash = stringPtr(previousHash)

	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of audit log %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// PostgresActivityReader aggregates audit_logs for baseline calculation
type PostgresActivityReader struct {
	db *sql.DB
}

// NewPostgresActivityReader creates a new activity reader
func NewPostgresActivityReader(db *sql.DB) *PostgresActivityReader {
	return &PostgresActivityReader{db: db}
}

var _ ports.ActivityReader = (*PostgresActivityReader)(nil)

// LoginsByAddress returns the most frequent login source addresses
func (r *PostgresActivityReader) LoginsByAddress(ctx context.Context, userID int64, since time.Time, limit int) ([]domain.LocationEntry, error) {
	query := `
		SELECT ip_address, COUNT(*) AS login_count
		FROM audit_logs
		WHERE user_id = $1 AND action = $2 AND status = 'success' AND timestamp >= $3
			AND ip_address IS NOT NULL AND ip_address <> ''
		GROUP BY ip_address
		ORDER BY login_count DESC, ip_address ASC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, userID, domain.ActionAuthLogin, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate logins by address: %w", err)
	}
	defer rows.Close()

	out := []domain.LocationEntry{}
	for rows.Next() {
		var e domain.LocationEntry
		if err := rows.Scan(&e.IPAddress, &e.LoginCount); err != nil {
			return nil, fmt.Errorf("failed to scan login address: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoginsByHour returns login counts per hour of day in loc
func (r *PostgresActivityReader) LoginsByHour(ctx context.Context, userID int64, since time.Time, loc *time.Location) ([]domain.HourCount, error) {
	query := `
		SELECT EXTRACT(HOUR FROM timestamp AT TIME ZONE $4)::int AS hour, COUNT(*) AS login_count
		FROM audit_logs
		WHERE user_id = $1 AND action = $2 AND status = 'success' AND timestamp >= $3
		GROUP BY hour
		ORDER BY login_count DESC, hour ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, domain.ActionAuthLogin, since, loc.String())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate logins by hour: %w", err)
	}
	defer rows.Close()

	out := []domain.HourCount{}
	for rows.Next() {
		var hc domain.HourCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan login hour: %w", err)
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

// ActionCounts returns per-action counts over the window
func (r *PostgresActivityReader) ActionCounts(ctx context.Context, userID int64, since time.Time) ([]domain.ActionCount, error) {
	query := `
		SELECT action, COUNT(*) AS action_count
		FROM audit_logs
		WHERE user_id = $1 AND timestamp >= $2
		GROUP BY action
		ORDER BY action_count DESC, action ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate actions: %w", err)
	}
	defer rows.Close()

	out := []domain.ActionCount{}
	for rows.Next() {
		var ac domain.ActionCount
		if err := rows.Scan(&ac.Action, &ac.Count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}
