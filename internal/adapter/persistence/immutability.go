package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/ports"
)

const (
	triggerPreventUpdate = "audit_logs_prevent_update"
	triggerPreventDelete = "audit_logs_prevent_delete"
)

// PostgresAuditGuard installs and inspects the audit_logs immutability triggers
type PostgresAuditGuard struct {
	db *sql.DB
}

// NewPostgresAuditGuard creates a new guard manager
func NewPostgresAuditGuard(db *sql.DB) *PostgresAuditGuard {
	return &PostgresAuditGuard{db: db}
}

var _ ports.AuditGuard = (*PostgresAuditGuard)(nil)

// Install is idempotent: with both triggers already active it does nothing.
// Otherwise it removes any partial install, adds and backfills previous_hash,
// then creates the rejecting function and both triggers in one transaction.
func (g *PostgresAuditGuard) Install(ctx context.Context) error {
	var exists bool
	if err := g.db.QueryRowContext(ctx, `SELECT to_regclass('audit_logs') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check audit_logs table: %w", err)
	}
	if !exists {
		return fmt.Errorf("audit_logs table does not exist; run migrations first")
	}

	active, err := g.activeTriggers(ctx)
	if err != nil {
		return err
	}
	if len(active) == 2 {
		return nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin immutability transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`DROP TRIGGER IF EXISTS ` + triggerPreventUpdate + ` ON audit_logs`,
		`DROP TRIGGER IF EXISTS ` + triggerPreventDelete + ` ON audit_logs`,
		`ALTER TABLE audit_logs ADD COLUMN IF NOT EXISTS previous_hash TEXT`,
		`UPDATE audit_logs SET previous_hash = '' WHERE previous_hash IS NULL`,
		`CREATE OR REPLACE FUNCTION audit_logs_reject_modification() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'audit_logs is append-only: % is not permitted', TG_OP
				USING ERRCODE = 'insufficient_privilege';
		END;
		$$ LANGUAGE plpgsql`,
		`CREATE TRIGGER ` + triggerPreventUpdate + ` BEFORE UPDATE ON audit_logs
			FOR EACH ROW EXECUTE FUNCTION audit_logs_reject_modification()`,
		`CREATE TRIGGER ` + triggerPreventDelete + ` BEFORE DELETE ON audit_logs
			FOR EACH ROW EXECUTE FUNCTION audit_logs_reject_modification()`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install audit immutability: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit immutability: %w", err)
	}
	return nil
}

// States reports which of the two triggers are present and enabled
func (g *PostgresAuditGuard) States(ctx context.Context) (domain.ProtectionState, domain.ProtectionState, error) {
	active, err := g.activeTriggers(ctx)
	if err != nil {
		return domain.ProtectionUnknown, domain.ProtectionUnknown, err
	}

	state := func(name string) domain.ProtectionState {
		if active[name] {
			return domain.ProtectionActive
		}
		return domain.ProtectionMissing
	}
	return state(triggerPreventDelete), state(triggerPreventUpdate), nil
}

func (g *PostgresAuditGuard) activeTriggers(ctx context.Context) (map[string]bool, error) {
	query := `
		SELECT tgname
		FROM pg_trigger
		WHERE tgrelid = to_regclass('audit_logs')
			AND tgname IN ($1, $2)
			AND NOT tgisinternal
			AND tgenabled <> 'D'
	`
	rows, err := g.db.QueryContext(ctx, query, triggerPreventUpdate, triggerPreventDelete)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect audit triggers: %w", err)
	}
	defer rows.Close()

	active := make(map[string]bool, 2)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan audit trigger: %w", err)
		}
		active[name] = true
	}
	return active, rows.Err()
}
