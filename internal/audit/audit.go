// Package audit keeps a SQLite trail of export attempts.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/celerix-dev/celerix-export/pkg/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultLimit is used by Recent when limit is not positive.
	DefaultLimit = 50
	// MaxLimit caps Recent.
	MaxLimit = 1000

	// ActionExport is the action recorded for export attempts.
	ActionExport = "export"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("audit: store closed")

// Store is an append-only export audit log.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	insertStmt *sql.Stmt
	recentStmt *sql.Stmt

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens or creates the audit database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, logger: logger, now: time.Now, closed: make(chan struct{})}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare audit statements: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS export_audit (
		id        TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		actor     TEXT NOT NULL,
		action    TEXT NOT NULL,
		format    TEXT NOT NULL,
		filename  TEXT NOT NULL,
		records   INTEGER NOT NULL,
		status    TEXT NOT NULL,
		details   TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_export_audit_timestamp ON export_audit(timestamp);
	`)
	return err
}

func (s *Store) prepareStatements() error {
	var err error
	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO export_audit (id, timestamp, actor, action, format, filename, records, status, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	s.recentStmt, err = s.db.Prepare(`
		SELECT id, timestamp, actor, action, format, filename, records, status, details
		FROM export_audit
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare recent: %w", err)
	}
	return nil
}

// Record appends entry. Missing ID, timestamp and action are filled in.
func (s *Store) Record(ctx context.Context, entry schema.AuditLog) (schema.AuditLog, error) {
	select {
	case <-s.closed:
		return entry, ErrClosed
	default:
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if entry.Action == "" {
		entry.Action = ActionExport
	}
	_, err := s.insertStmt.ExecContext(ctx,
		entry.ID,
		entry.Timestamp.UnixNano(),
		entry.Actor,
		entry.Action,
		entry.Format,
		entry.Filename,
		entry.Records,
		entry.Status,
		entry.Details,
	)
	if err != nil {
		return entry, fmt.Errorf("failed to record audit entry: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]schema.AuditLog, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]schema.AuditLog, 0)
	for rows.Next() {
		var (
			entry schema.AuditLog
			ts    int64
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.Actor, &entry.Action, &entry.Format,
			&entry.Filename, &entry.Records, &entry.Status, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entry.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return out, nil
}

// Close releases the database. It is safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.insertStmt.Close()
		s.recentStmt.Close()
		err = s.db.Close()
	})
	return err
}

// Entry converts an export result into an audit entry.
func Entry(actor string, res *export.Result, err error) schema.AuditLog {
	entry := schema.AuditLog{
		ID:       res.ID,
		Actor:    actor,
		Action:   ActionExport,
		Format:   string(res.Format),
		Filename: res.Filename,
		Records:  res.Records,
		Status:   string(res.Status),
	}
	switch {
	case err != nil:
		entry.Details = err.Error()
	case res.Status == export.StatusSaved:
		entry.Details = fmt.Sprintf("bytes=%d columns=%d", res.Bytes, res.Columns)
		if res.Pages > 0 {
			entry.Details += fmt.Sprintf(" pages=%d", res.Pages)
		}
		if res.BrandingFallback {
			entry.Details += " branding=fallback"
		}
	}
	return entry
}

// Observer returns an export.Observer that records every export under
// actor. Write failures are logged, never returned to the exporter.
func (s *Store) Observer(actor string) export.Observer {
	return &observer{store: s, actor: actor}
}

type observer struct {
	store *Store
	actor string
}

func (o *observer) ObserveExport(res *export.Result, err error) {
	if res == nil {
		return
	}
	if _, rerr := o.store.Record(context.Background(), Entry(o.actor, res, err)); rerr != nil {
		o.store.logger.Warn("failed to write audit entry",
			zap.String("export_id", res.ID),
			zap.Error(rerr))
	}
}
