// Package sqlite persists the incident history in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cloudpilot-labs/cloudpilot/internal/domain/incident"
	apperrors "github.com/cloudpilot-labs/cloudpilot/internal/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS incidents (
	scan_id        TEXT NOT NULL,
	id             TEXT NOT NULL,
	rule           TEXT NOT NULL,
	title          TEXT NOT NULL,
	severity       TEXT NOT NULL,
	resource       TEXT NOT NULL,
	description    TEXT NOT NULL,
	suggested_fix  TEXT NOT NULL,
	evidence_files TEXT NOT NULL,
	detected_at    TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (scan_id, id)
);
CREATE INDEX IF NOT EXISTS idx_incidents_severity ON incidents(severity);
CREATE INDEX IF NOT EXISTS idx_incidents_rule ON incidents(rule);
`

// Open opens (creating if needed) the incident database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// IncidentStore implements incident.Store over database/sql.
type IncidentStore struct {
	db *sql.DB
}

func NewIncidentStore(db *sql.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

func (s *IncidentStore) Save(ctx context.Context, scanID string, inc *incident.Incident) error {
	files, err := json.Marshal(inc.EvidenceFiles)
	if err != nil {
		return apperrors.Storage("failed to encode evidence files", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (scan_id, id, rule, title, severity, resource, description, suggested_fix, evidence_files, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id, id) DO UPDATE SET
			rule = excluded.rule,
			title = excluded.title,
			severity = excluded.severity,
			resource = excluded.resource,
			description = excluded.description,
			suggested_fix = excluded.suggested_fix,
			evidence_files = excluded.evidence_files,
			detected_at = excluded.detected_at
	`, scanID, inc.ID, string(inc.Rule), inc.Title, inc.Severity, inc.Resource,
		inc.Description, inc.SuggestedFix, string(files), inc.DetectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Storage("failed to save incident", err)
	}
	return nil
}

func (s *IncidentStore) List(ctx context.Context, filter incident.Filter) ([]*incident.Incident, error) {
	query := `
		SELECT id, rule, title, severity, resource, description, suggested_fix, evidence_files, detected_at
		FROM incidents WHERE 1=1`
	var args []interface{}

	if filter.ScanID != "" {
		query += " AND scan_id = ?"
		args = append(args, filter.ScanID)
	}
	if filter.Rule != "" {
		query += " AND rule = ?"
		args = append(args, string(filter.Rule))
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, filter.Severity)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Storage("failed to list incidents", err)
	}
	defer rows.Close()

	var incidents []*incident.Incident
	for rows.Next() {
		var inc incident.Incident
		var rule, files, detectedAt string
		if err := rows.Scan(&inc.ID, &rule, &inc.Title, &inc.Severity, &inc.Resource,
			&inc.Description, &inc.SuggestedFix, &files, &detectedAt); err != nil {
			return nil, apperrors.Storage("failed to scan incident row", err)
		}
		inc.Rule = incident.Rule(rule)
		if ts, err := time.Parse(time.RFC3339Nano, detectedAt); err == nil {
			inc.DetectedAt = ts
		}
		if err := json.Unmarshal([]byte(files), &inc.EvidenceFiles); err != nil {
			return nil, apperrors.Storage("failed to decode evidence files", err)
		}
		incidents = append(incidents, &inc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("failed to read incident rows", err)
	}
	return incidents, nil
}

func (s *IncidentStore) LatestScanID(ctx context.Context) (string, error) {
	var scanID string
	err := s.db.QueryRowContext(ctx,
		`SELECT scan_id FROM incidents ORDER BY created_at DESC LIMIT 1`,
	).Scan(&scanID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Storage("failed to query latest scan", err)
	}
	return scanID, nil
}
