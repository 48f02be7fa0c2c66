package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/ports"
)

// PostgresAnomalyRepository implements AnomalyRepository using PostgreSQL
type PostgresAnomalyRepository struct {
	db *sql.DB
}

// NewPostgresAnomalyRepository creates a new PostgreSQL anomaly repository
func NewPostgresAnomalyRepository(db *sql.DB) *PostgresAnomalyRepository {
	return &PostgresAnomalyRepository{db: db}
}

var _ ports.AnomalyRepository = (*PostgresAnomalyRepository)(nil)

// CreateBatch inserts all findings atomically
func (r *PostgresAnomalyRepository) CreateBatch(ctx context.Context, findings []*domain.AnomalyFinding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin anomaly transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO security_anomalies (user_id, anomaly_type, severity, details, detected_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	for _, f := range findings {
		details := f.Details
		if details == nil {
			details = map[string]interface{}{}
		}
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to marshal anomaly details: %w", err)
		}
		if err := tx.QueryRowContext(ctx, query,
			f.UserID,
			string(f.Type),
			string(f.Severity),
			detailsJSON,
			f.DetectedAt,
			string(f.Status),
		).Scan(&f.ID); err != nil {
			return mapPQError("create anomaly", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit anomalies: %w", err)
	}
	return nil
}

// List retrieves one page of findings for the requested view
func (r *PostgresAnomalyRepository) List(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.AnomalyFinding, int, error) {
	var join string
	var conditions []string
	switch filter.View {
	case domain.ViewNotified:
		join = "INNER JOIN breach_incidents b ON b.anomaly_id = a.id"
	default:
		join = "LEFT JOIN breach_incidents b ON b.anomaly_id = a.id"
		conditions = append(conditions, "b.id IS NULL")
	}

	var args []interface{}
	argIndex := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", argIndex))
		args = append(args, string(*filter.Status))
		argIndex++
	}

	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("a.severity = $%d", argIndex))
		args = append(args, string(*filter.Severity))
		argIndex++
	}

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("a.user_id = $%d", argIndex))
		args = append(args, *filter.UserID)
		argIndex++
	}

	if filter.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("a.detected_at >= $%d", argIndex))
		args = append(args, *filter.StartDate)
		argIndex++
	}

	if filter.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("a.detected_at <= $%d", argIndex))
		args = append(args, *filter.EndDate)
		argIndex++
	}

	from := " FROM security_anomalies a " + join + " LEFT JOIN users u ON u.id = a.user_id"
	if len(conditions) > 0 {
		from += " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count anomalies: %w", err)
	}

	query := `SELECT a.id, a.user_id, a.anomaly_type, a.severity, a.details, a.detected_at, a.status,
		a.reviewed_by, a.reviewed_at, COALESCE(u.email, ''), b.id` + from +
		fmt.Sprintf(" ORDER BY a.detected_at DESC, a.id DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	findings := []*domain.AnomalyFinding{}
	for rows.Next() {
		f, err := scanAnomaly(rows, true)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate anomalies: %w", err)
	}
	return findings, total, nil
}

// UpdateStatus sets the status and, when stampReview is set, the review stamp
func (r *PostgresAnomalyRepository) UpdateStatus(ctx context.Context, id int64, status domain.AnomalyStatus, reviewedBy *int64, stampReview bool, at time.Time) (*domain.AnomalyFinding, error) {
	query := `
		UPDATE security_anomalies
		SET status = $2,
			reviewed_by = COALESCE($3, reviewed_by),
			reviewed_at = CASE WHEN $4 THEN $5 ELSE reviewed_at END
		WHERE id = $1
		RETURNING id, user_id, anomaly_type, severity, details, detected_at, status, reviewed_by, reviewed_at
	`

	f, err := scanAnomaly(r.db.QueryRowContext(ctx, query, id, string(status), nullInt64(reviewedBy), stampReview, at), false)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAnomalyNotFound.WithDetail("anomaly %d not found", id)
		}
		return nil, mapPQError("update anomaly status", err)
	}
	return f, nil
}

// Statistics aggregates counts by status, severity and type
func (r *PostgresAnomalyRepository) Statistics(ctx context.Context, since time.Time) (*domain.AnomalyStatistics, error) {
	stats := &domain.AnomalyStatistics{}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE detected_at >= $1)
		FROM security_anomalies
	`, since).Scan(&stats.Total, &stats.Last7Days)
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies: %w", err)
	}

	if stats.ByStatus, err = r.countBy(ctx, "status"); err != nil {
		return nil, err
	}
	if stats.BySeverity, err = r.countBy(ctx, "severity"); err != nil {
		return nil, err
	}
	if stats.ByType, err = r.countBy(ctx, "anomaly_type"); err != nil {
		return nil, err
	}
	return stats, nil
}

var groupableAnomalyColumns = map[string]bool{"status": true, "severity": true, "anomaly_type": true}

func (r *PostgresAnomalyRepository) countBy(ctx context.Context, column string) (map[string]int, error) {
	if !groupableAnomalyColumns[column] {
		return nil, fmt.Errorf("cannot group anomalies by %q", column)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %[1]s, COUNT(*) FROM security_anomalies GROUP BY %[1]s", column))
	if err != nil {
		return nil, fmt.Errorf("failed to group anomalies by %s: %w", column, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly count: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// scanAnomaly reads the base columns and, with joined set, the user email
// and linked breach incident id.
func scanAnomaly(row rowScanner, joined bool) (*domain.AnomalyFinding, error) {
	var (
		f                    domain.AnomalyFinding
		anomalyType          string
		severity, status     string
		detailsJSON          []byte
		reviewedBy, breachID sql.NullInt64
		reviewedAt           sql.NullTime
		email                string
	)
	dest := []interface{}{
		&f.ID, &f.UserID, &anomalyType, &severity, &detailsJSON, &f.DetectedAt, &status,
		&reviewedBy, &reviewedAt,
	}
	if joined {
		dest = append(dest, &email, &breachID)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	f.Type = domain.AnomalyType(anomalyType)
	f.Severity = domain.AnomalySeverity(severity)
	f.Status = domain.AnomalyStatus(status)
	f.DetectedAt = f.DetectedAt.UTC()
	f.ReviewedBy = int64Ptr(reviewedBy)
	f.ReviewedAt = timePtr(reviewedAt)
	f.UserEmail = email
	f.BreachIncidentID = int64Ptr(breachID)

	f.Details = map[string]interface{}{}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &f.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal anomaly details: %w", err)
		}
	}
	return &f, nil
}
