package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	resource    TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	details     JSONB NOT NULL DEFAULT '{}',
	ip          TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);

CREATE TABLE IF NOT EXISTS deployment_events (
	id           TEXT PRIMARY KEY,
	shop_id      TEXT NOT NULL,
	subdomain    TEXT NOT NULL,
	status       TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
ALTER TABLE deployment_events ADD COLUMN IF NOT EXISTS owner_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_deployment_events_owner_shop ON deployment_events(owner_id, shop_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id, created_at DESC);
`

// PostgresStore persists the audit log and deployment history.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *PostgresStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	if details == "" {
		details = "{}"
	}
	query := `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, details, ip, user_agent)
	          VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), userID, action, resource, resourceID, details, ip, userAgent,
	)
	return err
}

// ListAuditLogs returns a user's recent audit logs, optionally filtered by action.
func (s *PostgresStore) ListAuditLogs(ctx context.Context, userID string, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, resource_id, details::text, ip, user_agent, created_at
	          FROM audit_logs WHERE user_id = $1`
	args := []interface{}{userID}
	argIdx := 2

	if action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.AuditLog{}
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.Action, &l.Resource, &l.ResourceID,
			&l.Details, &l.IP, &l.UserAgent, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- Deployment History ---

// RecordDeployment stores a finished deployment. It implements port.DeploymentHistory.
func (s *PostgresStore) RecordDeployment(ctx context.Context, rec domain.DeploymentRecord) error {
	query := `INSERT INTO deployment_events (id, owner_id, shop_id, subdomain, status, message, url, attempts, started_at, completed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), rec.OwnerID, rec.ShopID, rec.Subdomain, string(rec.Status), rec.Message, rec.URL,
		rec.Attempts, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record deployment: %w", err)
	}
	return nil
}

// ListDeployments returns the history of a shop's deployments started by owner,
// newest first.
func (s *PostgresStore) ListDeployments(ctx context.Context, ownerID, shopID string, limit int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, owner_id, shop_id, subdomain, status, message, url, attempts, started_at, completed_at
	          FROM deployment_events WHERE owner_id = $1 AND shop_id = $2
	          ORDER BY started_at DESC LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, ownerID, shopID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	events := []domain.DeploymentEvent{}
	for rows.Next() {
		var e domain.DeploymentEvent
		var completed sql.NullTime
		if err := rows.Scan(
			&e.ID, &e.OwnerID, &e.ShopID, &e.Subdomain, &e.Status, &e.Message, &e.URL,
			&e.Attempts, &e.StartedAt, &completed,
		); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
