package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the device directory persistence operations.
type Repository interface {
	// List retrieves all records ordered by name.
	List(ctx context.Context) ([]Record, error)

	// GetByName retrieves a record by name.
	// Returns ErrDeviceNotFound if the record does not exist.
	GetByName(ctx context.Context, name string) (*Record, error)

	// Create inserts a record and sets its ID and CreatedAt.
	// Returns ErrDeviceExists if the name or (mac, position) is taken.
	Create(ctx context.Context, rec *Record) error

	// Delete removes a record by name.
	// Returns ErrDeviceNotFound if the record does not exist.
	Delete(ctx context.Context, name string) error

	// Seed inserts records that are not configured yet and returns how many
	// were added.
	Seed(ctx context.Context, records []Record) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db must have the devices migration applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectRecord = `
	SELECT id, name, kind, mac, position, mac2, position2, created_at
	FROM devices`

// List retrieves all records.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectRecord+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return records, nil
}

// GetByName retrieves a record by name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectRecord+" WHERE name = ?", name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return rec, nil
}

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (name, kind, mac, position, mac2, position2, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Name,
		string(rec.Kind),
		rec.MAC,
		rec.Position,
		rec.MAC2,
		rec.Position2,
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %q", ErrDeviceExists, rec.Name)
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	rec.ID = id
	return nil
}

// Delete removes a record by name.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Seed inserts every record whose name and (mac, position) are not already
// configured. Invalid records fail the whole seed before anything is
// written.
func (r *SQLiteRepository) Seed(ctx context.Context, records []Record) (int, error) {
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("seeding %q: %w", rec.Name, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	added := 0
	for _, rec := range records {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO devices (name, kind, mac, position, mac2, position2, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM devices WHERE name = ? OR (mac = ? AND position = ?)
			)`,
			rec.Name, string(rec.Kind), rec.MAC, rec.Position, rec.MAC2, rec.Position2, now,
			rec.Name, rec.MAC, rec.Position,
		)
		if err != nil {
			return 0, fmt.Errorf("seeding %q: %w", rec.Name, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("checking rows affected: %w", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing seed: %w", err)
	}
	return added, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var kind, createdAt string
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&kind,
		&rec.MAC,
		&rec.Position,
		&rec.MAC2,
		&rec.Position2,
		&createdAt,
	); err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

// isUniqueConstraintError reports whether err is a SQLite unique or primary
// key violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
