package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting; cascade deletes from
	// endpoints to blades depend on it.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded SQL files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateEndpoint persists a new endpoint record.
func (s *SQLiteStore) CreateEndpoint(ctx context.Context, ep *Endpoint) error {
	query := `
		INSERT INTO endpoints (id, name, url, username, password, kind, zone_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		ep.ID,
		ep.Name,
		ep.URL,
		ep.Username,
		ep.Password,
		ep.Kind,
		ep.ZoneID,
		ep.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create endpoint: %w", err)
	}

	return nil
}

func (s *SQLiteStore) scanEndpoint(row *sql.Row, key string) (*Endpoint, error) {
	ep := &Endpoint{}
	err := row.Scan(
		&ep.ID,
		&ep.Name,
		&ep.URL,
		&ep.Username,
		&ep.Password,
		&ep.Kind,
		&ep.ZoneID,
		&ep.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "endpoint", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}

	return ep, nil
}

// GetEndpoint retrieves an endpoint by ID.
func (s *SQLiteStore) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	query := `
		SELECT id, name, url, username, password, kind, zone_id, created_at
		FROM endpoints
		WHERE id = ?
	`
	return s.scanEndpoint(s.db.QueryRowContext(ctx, query, id), id)
}

// GetEndpointByURL retrieves an endpoint by its base URL. Used for
// duplicate detection: one controller is managed by at most one
// endpoint record.
func (s *SQLiteStore) GetEndpointByURL(ctx context.Context, url string) (*Endpoint, error) {
	query := `
		SELECT id, name, url, username, password, kind, zone_id, created_at
		FROM endpoints
		WHERE url = ?
	`
	return s.scanEndpoint(s.db.QueryRowContext(ctx, query, url), url)
}

func (s *SQLiteStore) listEndpoints(ctx context.Context, query string, args ...interface{}) ([]*Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	eps := []*Endpoint{}
	for rows.Next() {
		ep := &Endpoint{}
		err := rows.Scan(
			&ep.ID,
			&ep.Name,
			&ep.URL,
			&ep.Username,
			&ep.Password,
			&ep.Kind,
			&ep.ZoneID,
			&ep.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		eps = append(eps, ep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoints: %w", err)
	}

	return eps, nil
}

// ListEndpoints lists all endpoints ordered by creation time.
func (s *SQLiteStore) ListEndpoints(ctx context.Context) ([]*Endpoint, error) {
	query := `
		SELECT id, name, url, username, password, kind, zone_id, created_at
		FROM endpoints
		ORDER BY created_at
	`
	return s.listEndpoints(ctx, query)
}

// ListEndpointsByKind lists endpoints of one controller family.
func (s *SQLiteStore) ListEndpointsByKind(ctx context.Context, kind EndpointKind) ([]*Endpoint, error) {
	query := `
		SELECT id, name, url, username, password, kind, zone_id, created_at
		FROM endpoints
		WHERE kind = ?
		ORDER BY created_at
	`
	return s.listEndpoints(ctx, query, kind)
}

// DeleteEndpoint removes an endpoint. Blade records cascade via the
// foreign key.
func (s *SQLiteStore) DeleteEndpoint(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &NotFoundError{Entity: "endpoint", Key: id}
	}

	return nil
}

// UpsertBlade inserts a blade record or updates the profile and host
// fields of the existing record with the same (endpoint_id, dn). The
// original ID and created_at are preserved on conflict.
func (s *SQLiteStore) UpsertBlade(ctx context.Context, blade *BladeRecord) error {
	query := `
		INSERT INTO blades (id, endpoint_id, dn, profile_dn, host_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (endpoint_id, dn) DO UPDATE SET
			profile_dn = excluded.profile_dn,
			host_id    = excluded.host_id,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if blade.CreatedAt.IsZero() {
		blade.CreatedAt = now
	}
	blade.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		blade.ID,
		blade.EndpointID,
		blade.Dn,
		blade.ProfileDn,
		blade.HostID,
		blade.CreatedAt,
		blade.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert blade: %w", err)
	}

	return nil
}

func (s *SQLiteStore) scanBlade(row *sql.Row, key string) (*BladeRecord, error) {
	b := &BladeRecord{}
	err := row.Scan(
		&b.ID,
		&b.EndpointID,
		&b.Dn,
		&b.ProfileDn,
		&b.HostID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "blade", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blade: %w", err)
	}

	return b, nil
}

// GetBlade retrieves a blade record by local ID.
func (s *SQLiteStore) GetBlade(ctx context.Context, id string) (*BladeRecord, error) {
	query := `
		SELECT id, endpoint_id, dn, profile_dn, host_id, created_at, updated_at
		FROM blades
		WHERE id = ?
	`
	return s.scanBlade(s.db.QueryRowContext(ctx, query, id), id)
}

// GetBladeByDn retrieves a blade record by its natural key.
func (s *SQLiteStore) GetBladeByDn(ctx context.Context, endpointID, dn string) (*BladeRecord, error) {
	query := `
		SELECT id, endpoint_id, dn, profile_dn, host_id, created_at, updated_at
		FROM blades
		WHERE endpoint_id = ? AND dn = ?
	`
	return s.scanBlade(s.db.QueryRowContext(ctx, query, endpointID, dn), dn)
}

// ListBladesByEndpoint lists all blade records for one endpoint.
func (s *SQLiteStore) ListBladesByEndpoint(ctx context.Context, endpointID string) ([]*BladeRecord, error) {
	query := `
		SELECT id, endpoint_id, dn, profile_dn, host_id, created_at, updated_at
		FROM blades
		WHERE endpoint_id = ?
		ORDER BY dn
	`

	rows, err := s.db.QueryContext(ctx, query, endpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blades: %w", err)
	}
	defer rows.Close()

	blades := []*BladeRecord{}
	for rows.Next() {
		b := &BladeRecord{}
		err := rows.Scan(
			&b.ID,
			&b.EndpointID,
			&b.Dn,
			&b.ProfileDn,
			&b.HostID,
			&b.CreatedAt,
			&b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blade: %w", err)
		}
		blades = append(blades, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blades: %w", err)
	}

	return blades, nil
}

// DeleteBlade removes a blade record by local ID.
func (s *SQLiteStore) DeleteBlade(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blades WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete blade: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &NotFoundError{Entity: "blade", Key: id}
	}

	return nil
}

// SetBladeProfile updates the assignment reference of one blade record.
func (s *SQLiteStore) SetBladeProfile(ctx context.Context, id string, profileDn *string) error {
	return s.updateBladeColumn(ctx, id, "profile_dn", profileDn)
}

// SetBladeHost updates the bound host of one blade record.
func (s *SQLiteStore) SetBladeHost(ctx context.Context, id string, hostID *string) error {
	return s.updateBladeColumn(ctx, id, "host_id", hostID)
}

func (s *SQLiteStore) updateBladeColumn(ctx context.Context, id, column string, value *string) error {
	query := fmt.Sprintf(`UPDATE blades SET %s = ?, updated_at = ? WHERE id = ?`, column)

	result, err := s.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update blade %s: %w", column, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &NotFoundError{Entity: "blade", Key: id}
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
