// Package storage provides SQLite-backed persistence for the listing
// snapshot, alert state, and fired-alert audit log.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sagarzx/Car-Market-Alert/internal/market"
	"github.com/Sagarzx/Car-Market-Alert/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/marketwatch/market.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "marketwatch", "market.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS listings (
			source       TEXT NOT NULL,
			ref          TEXT NOT NULL,
			external_id  TEXT,
			url          TEXT,
			title        TEXT,
			make         TEXT,
			model        TEXT,
			year         INTEGER,
			price        REAL NOT NULL,
			km           REAL,
			region       TEXT,
			fuel         TEXT,
			transmission TEXT,
			image_url    TEXT,
			observed_at  INTEGER NOT NULL,
			PRIMARY KEY (source, ref)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_state (
			source            TEXT NOT NULL,
			ref               TEXT NOT NULL,
			last_margin_price REAL NOT NULL DEFAULT 0,
			last_drop_price   REAL NOT NULL DEFAULT 0,
			updated_at        INTEGER NOT NULL,
			PRIMARY KEY (source, ref)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			source      TEXT NOT NULL,
			ref         TEXT NOT NULL,
			title       TEXT,
			price       REAL NOT NULL,
			baseline    REAL NOT NULL,
			delta_pct   REAL NOT NULL,
			delta_abs   REAL NOT NULL,
			score       REAL NOT NULL,
			detected_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_observed_at ON listings(observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	// Older snapshot files predate some optional columns; add them in place
	// so they read back as null.
	for _, col := range []struct{ name, typ string }{
		{"fuel", "TEXT"},
		{"transmission", "TEXT"},
		{"image_url", "TEXT"},
	} {
		if err := s.ensureColumn("listings", col.name, col.typ); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) ensureColumn(table, column, typ string) error {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, typ))
	return err
}

const listingCols = `source, ref, external_id, url, title, make, model, year,
	price, km, region, fuel, transmission, image_url, observed_at`

// LoadListings returns the persisted current snapshot, one record per
// identity key.
func (s *Storage) LoadListings() ([]models.Listing, error) {
	rows, err := s.db.Query(`SELECT ` + listingCols + ` FROM listings ORDER BY source, ref`)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		var ref string
		var externalID, url, title, mk, model, region, fuel, transmission, imageURL sql.NullString
		var year sql.NullInt64
		var km sql.NullFloat64
		var observedAtNano int64
		err := rows.Scan(
			&l.Source, &ref, &externalID, &url, &title, &mk, &model, &year,
			&l.Price, &km, &region, &fuel, &transmission, &imageURL, &observedAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		l.ExternalID = externalID.String
		l.URL = url.String
		l.Title = title.String
		l.Make = mk.String
		l.Model = model.String
		l.Year = int(year.Int64)
		l.Km = km.Float64
		l.Region = region.String
		l.Fuel = fuel.String
		l.Transmission = transmission.String
		l.ImageURL = imageURL.String
		l.ObservedAt = time.Unix(0, observedAtNano)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ReplaceListings rewrites the full current snapshot in one transaction.
// On any failure the transaction rolls back and the previously committed
// snapshot remains authoritative for the next cycle.
func (s *Storage) ReplaceListings(listings []models.Listing) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM listings`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO listings (` + listingCols + `)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range listings {
		if err := market.Validate(l); err != nil {
			return fmt.Errorf("refusing to persist: %w", err)
		}
		_, err := stmt.Exec(
			l.Source, l.Key().Ref, nullStr(l.ExternalID), nullStr(l.URL), nullStr(l.Title),
			nullStr(l.Make), nullStr(l.Model), nullInt(l.Year),
			l.Price, nullFloat(l.Km), nullStr(l.Region), nullStr(l.Fuel),
			nullStr(l.Transmission), nullStr(l.ImageURL), l.ObservedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert listing %s: %w", l.Key(), err)
		}
	}
	return tx.Commit()
}

// LoadStates returns the persisted anti-spam state per identity key.
func (s *Storage) LoadStates() (map[models.Key]*models.State, error) {
	rows, err := s.db.Query(`SELECT source, ref, last_margin_price, last_drop_price, updated_at FROM alert_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert state: %w", err)
	}
	defer rows.Close()

	states := make(map[models.Key]*models.State)
	for rows.Next() {
		var k models.Key
		var st models.State
		var updatedAtNano int64
		if err := rows.Scan(&k.Source, &k.Ref, &st.LastMarginPrice, &st.LastDropPrice, &updatedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert state: %w", err)
		}
		st.UpdatedAt = time.Unix(0, updatedAtNano)
		states[k] = &st
	}
	return states, rows.Err()
}

// SaveStates upserts the full anti-spam state in one transaction. State rows
// are never deleted.
func (s *Storage) SaveStates(states map[models.Key]*models.State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO alert_state
		(source, ref, last_margin_price, last_drop_price, updated_at)
		VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for k, st := range states {
		if _, err := stmt.Exec(k.Source, k.Ref, st.LastMarginPrice, st.LastDropPrice, st.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to save state for %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// RecordAlert appends a fired alert to the audit log.
func (s *Storage) RecordAlert(c models.Candidate, detectedAt time.Time) error {
	k := c.Listing.Key()
	_, err := s.db.Exec(`INSERT INTO alerts
		(id, kind, source, ref, title, price, baseline, delta_pct, delta_abs, score, detected_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		uuid.New().String(), string(c.Kind), k.Source, k.Ref, c.Listing.Title,
		c.Listing.Price, c.Baseline, c.DeltaPct, c.DeltaAbs, c.Score, detectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert record: %w", err)
	}
	return nil
}

// AlertCount returns the number of audit-log rows, used by tests and the
// status log line.
func (s *Storage) AlertCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
