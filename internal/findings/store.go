// Package findings persists detections from completed scans so past
// results survive app restarts and can be drawn on the map without
// re-running a task.
package findings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"archeo-dashboard/internal/earthengine"
	"archeo-dashboard/internal/geo"
)

// Store is a sqlite-backed findings archive.
type Store struct {
	db *sql.DB
}

// Scan is one recorded scan session.
type Scan struct {
	TaskID    string    `json:"taskId"`
	Dataset   string    `json:"dataset"`
	CenterLat float64   `json:"centerLat"`
	CenterLon float64   `json:"centerLon"`
	WidthKm   float64   `json:"widthKm"`
	HeightKm  float64   `json:"heightKm"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Open opens (or creates) the findings database at path. The caller
// must have imported a driver registering "sqlite".
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			task_id TEXT PRIMARY KEY,
			dataset TEXT,
			center_lat DOUBLE,
			center_lon DOUBLE,
			width_km DOUBLE,
			height_km DOUBLE,
			status TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS findings (
			id TEXT PRIMARY KEY,
			task_id TEXT,
			lat DOUBLE,
			lon DOUBLE,
			type TEXT,
			confidence DOUBLE,
			metadata TEXT,
			FOREIGN KEY(task_id) REFERENCES scans(task_id)
		);
		CREATE INDEX IF NOT EXISTS idx_findings_task ON findings(task_id);
		CREATE INDEX IF NOT EXISTS idx_findings_pos ON findings(lat, lon);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create findings schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordScan inserts or updates a scan session row.
func (s *Store) RecordScan(scan *Scan) error {
	_, err := s.db.Exec(`
		INSERT INTO scans (task_id, dataset, center_lat, center_lon, width_km, height_km, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET status = excluded.status`,
		scan.TaskID, scan.Dataset, scan.CenterLat, scan.CenterLon,
		scan.WidthKm, scan.HeightKm, scan.Status)
	if err != nil {
		return fmt.Errorf("failed to record scan %s: %w", scan.TaskID, err)
	}
	return nil
}

// UpdateScanStatus sets the status of a recorded scan.
func (s *Store) UpdateScanStatus(taskID, status string) error {
	_, err := s.db.Exec(`UPDATE scans SET status = ? WHERE task_id = ?`, status, taskID)
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", taskID, err)
	}
	return nil
}

// SaveFindings stores the findings of a completed task. Existing rows
// with the same finding id are replaced, so re-saving a task after a
// re-poll is idempotent.
func (s *Store) SaveFindings(taskID string, findings []earthengine.Finding) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO findings (id, task_id, lat, lon, type, confidence, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range findings {
		var metadata any
		if len(f.Metadata) > 0 {
			metadata = string(f.Metadata)
		}
		if _, err := stmt.Exec(f.ID, taskID, f.Lat, f.Lon, f.Type, f.Confidence, metadata); err != nil {
			return fmt.Errorf("failed to save finding %s: %w", f.ID, err)
		}
	}

	return tx.Commit()
}

// ForTask returns the stored findings of one task.
func (s *Store) ForTask(taskID string) ([]earthengine.Finding, error) {
	rows, err := s.db.Query(`
		SELECT id, lat, lon, type, confidence, metadata
		FROM findings WHERE task_id = ? ORDER BY confidence DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	return scanFindings(rows)
}

// InBounds returns all stored findings inside a geographic region,
// across every scan.
func (s *Store) InBounds(b geo.Bounds) ([]earthengine.Finding, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, lat, lon, type, confidence, metadata
		FROM findings
		WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		ORDER BY confidence DESC`,
		b.South, b.North, b.West, b.East)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	return scanFindings(rows)
}

func scanFindings(rows *sql.Rows) ([]earthengine.Finding, error) {
	var out []earthengine.Finding
	for rows.Next() {
		var f earthengine.Finding
		var metadata sql.NullString
		if err := rows.Scan(&f.ID, &f.Lat, &f.Lon, &f.Type, &f.Confidence, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		if metadata.Valid {
			f.Metadata = json.RawMessage(metadata.String)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecentScans lists the most recent scan sessions.
func (s *Store) RecentScans(limit int) ([]Scan, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT task_id, dataset, center_lat, center_lon, width_km, height_km, status, created_at
		FROM scans ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var out []Scan
	for rows.Next() {
		var sc Scan
		if err := rows.Scan(&sc.TaskID, &sc.Dataset, &sc.CenterLat, &sc.CenterLon,
			&sc.WidthKm, &sc.HeightKm, &sc.Status, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scan row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DeleteScan removes a scan and its findings.
func (s *Store) DeleteScan(taskID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM findings WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete findings for %s: %w", taskID, err)
	}
	if _, err := tx.Exec(`DELETE FROM scans WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete scan %s: %w", taskID, err)
	}

	return tx.Commit()
}
