package notification

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"brandshell/service/util"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Delivery is one received notification as kept in the inbox.
type Delivery struct {
	ID         string            `json:"id"`
	Context    DeliveryContext   `json:"context"`
	Kind       Kind              `json:"kind"`
	Title      string            `json:"title,omitempty"`
	Message    string            `json:"message,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Pending    bool              `json:"pending"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Destination rebuilds the routed destination of d.
func (d Delivery) Destination() Destination {
	params := d.Params
	if params == nil {
		params = map[string]string{}
	}
	return Destination{Kind: d.Kind, Params: params, Title: d.Title, Message: d.Message}
}

// Store is the notification inbox. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(dbPath, secret string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _busy_timeout=5000: wait up to 5s when DB is locked (default=0, fails immediately)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	sealer, err := NewSealer(secret)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, sealer: sealer, logger: logger, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores d, assigning its id and receive time when unset.
func (s *Store) Record(ctx context.Context, d Delivery) (Delivery, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = s.now()
	}

	sealed, err := s.sealer.Seal(d.Params)
	if err != nil {
		return d, fmt.Errorf("failed to seal params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, context, kind, title, message, params_sealed, pending, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, string(d.Context), string(d.Kind), nullString(d.Title), nullString(d.Message), sealed, d.Pending, d.ReceivedAt.UnixMilli())
	if err != nil {
		return d, fmt.Errorf("failed to record delivery: %w", err)
	}
	return d, nil
}

// Recent returns up to limit deliveries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context, kind, title, message, params_sealed, pending, received_at
		FROM deliveries
		ORDER BY received_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scan(rows)
}

// TakePending returns the deliveries waiting for navigation, oldest
// first, and clears their pending flag.
func (s *Store) TakePending(ctx context.Context) ([]Delivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, context, kind, title, message, params_sealed, pending, received_at
		FROM deliveries
		WHERE pending = 1
		ORDER BY received_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	pending, err := s.scan(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE deliveries SET pending = 0 WHERE pending = 1`); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range pending {
		pending[i].Pending = false
	}
	return pending, nil
}

// Prune deletes deliveries received before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE received_at < ? AND pending = 0`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Registration returns the push relay subscription stored for relay.
// The webhook key is kept sealed. An empty id means none is stored.
func (s *Store) Registration(ctx context.Context, relay string) (subscriptionID, key string, err error) {
	var sealed []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT subscription_id, key_sealed FROM relay_registrations WHERE relay = ?
	`, relay).Scan(&subscriptionID, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read relay registration: %w", err)
	}

	opened, err := s.sealer.Open(sealed)
	if err != nil {
		return "", "", err
	}
	return subscriptionID, opened["key"], nil
}

// SaveRegistration replaces the subscription stored for relay.
func (s *Store) SaveRegistration(ctx context.Context, relay, subscriptionID, key string) error {
	sealed, err := s.sealer.Seal(map[string]string{"key": key})
	if err != nil {
		return fmt.Errorf("failed to seal relay key: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay_registrations (relay, subscription_id, key_sealed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(relay) DO UPDATE SET
			subscription_id = excluded.subscription_id,
			key_sealed = excluded.key_sealed,
			updated_at = excluded.updated_at
	`, relay, subscriptionID, sealed, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save relay registration: %w", err)
	}
	return nil
}

func (s *Store) scan(rows *sql.Rows) ([]Delivery, error) {
	var out []Delivery
	for rows.Next() {
		var (
			d               Delivery
			dc, kind        string
			title, message  sql.NullString
			sealed          []byte
			receivedAtMilli int64
		)
		if err := rows.Scan(&d.ID, &dc, &kind, &title, &message, &sealed, &d.Pending, &receivedAtMilli); err != nil {
			return nil, err
		}
		d.Context = DeliveryContext(dc)
		d.Kind = Kind(kind)
		d.Title = title.String
		d.Message = message.String
		d.ReceivedAt = time.UnixMilli(receivedAtMilli)

		if len(sealed) > 0 {
			params, err := s.sealer.Open(sealed)
			if err != nil {
				s.logger.Warn("Dropping unreadable delivery params", "id", d.ID, "error", err)
			} else {
				d.Params = params
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
