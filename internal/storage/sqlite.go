package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	op  time.Duration
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create sqlite dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, op: cfg.OpTimeout}

	cctx, cancel := opCtx(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(cctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping sqlite", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(cctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(cctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(cctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(cctx, migrationsSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	log.Info("store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	return unavailable("ping", s.db.PingContext(ctx))
}

func (s *sqliteStore) Upsert(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	// created_at is left out of the update so the first creation time sticks.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(subject_id, medication_key, delivery_address, medication_label, time, timezone, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(subject_id, medication_key) DO UPDATE SET
		   delivery_address=excluded.delivery_address,
		   medication_label=excluded.medication_label,
		   time=excluded.time,
		   timezone=excluded.timezone`,
		r.SubjectID, reminder.MedicationKey(r.Medication), r.Address, r.Medication, r.Time, r.Timezone,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return reminder.Reminder{}, unavailable("upsert", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT subject_id, delivery_address, medication_label, time, timezone, created_at
		 FROM reminders WHERE subject_id = ? AND medication_key = ?`,
		r.SubjectID, reminder.MedicationKey(r.Medication))
	out, err := scanReminder(row)
	if err != nil {
		return reminder.Reminder{}, unavailable("upsert", err)
	}
	return out, nil
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]reminder.Reminder, error) {
	return s.query(ctx, "list", `SELECT subject_id, delivery_address, medication_label, time, timezone, created_at
		FROM reminders ORDER BY id`)
}

func (s *sqliteStore) ListByAddress(ctx context.Context, address string) ([]reminder.Reminder, error) {
	return s.query(ctx, "list by address", `SELECT subject_id, delivery_address, medication_label, time, timezone, created_at
		FROM reminders WHERE delivery_address = ? ORDER BY id`, reminder.NormalizeAddress(address))
}

func (s *sqliteStore) Delete(ctx context.Context, subjectID, medication string) (bool, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE subject_id = ? AND medication_key = ?`,
		subjectID, reminder.MedicationKey(medication))
	if err != nil {
		return false, unavailable("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) query(ctx context.Context, op, q string, args ...any) ([]reminder.Reminder, error) {
	ctx, cancel := opCtx(ctx, s.op)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(sc rowScanner) (reminder.Reminder, error) {
	var (
		r       reminder.Reminder
		created string
	)
	if err := sc.Scan(&r.SubjectID, &r.Address, &r.Medication, &r.Time, &r.Timezone, &created); err != nil {
		return reminder.Reminder{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return reminder.Reminder{}, errors.Wrapf(err, "parse created_at %q", created)
	}
	r.CreatedAt = t
	return r, nil
}
