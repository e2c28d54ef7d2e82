package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

const compactEvery = 200

// fileStore keeps reminders in memory and persists them as:
//   - <prefix>.snapshot.json (full state, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only put/delete records)
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	rows         map[string]reminder.Reminder
	writes       int
}

type journalRecord struct {
	Op  string             `json:"op"`
	Key string             `json:"key"`
	Row *reminder.Reminder `json:"row,omitempty"`
}

func fileKey(subjectID, medication string) string {
	return subjectID + ":" + reminder.MedicationKey(medication)
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	rows := map[string]reminder.Reminder{}
	if err := loadSnapshot(snapPath, rows); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load snapshot")
	}
	if err := replayJournal(journalPath, rows); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "replay journal")
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, unavailable("open journal", err)
	}
	log.Info("store opened", logx.String("path", prefix), logx.Int("rows", len(rows)))
	return &fileStore{log: log, snapshotPath: snapPath, journal: jf, rows: rows}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return unavailable("ping", os.ErrClosed)
	}
	return nil
}

func (s *fileStore) Upsert(_ context.Context, r reminder.Reminder) (reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Reminder{}, unavailable("upsert", os.ErrClosed)
	}
	key := fileKey(r.SubjectID, r.Medication)
	if old, ok := s.rows[key]; ok {
		r.CreatedAt = old.CreatedAt
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.appendLocked(journalRecord{Op: "put", Key: key, Row: &r}); err != nil {
		return reminder.Reminder{}, unavailable("upsert", err)
	}
	s.rows[key] = r
	return r, nil
}

func (s *fileStore) ListAll(context.Context) ([]reminder.Reminder, error) {
	return s.list(func(reminder.Reminder) bool { return true })
}

func (s *fileStore) ListByAddress(_ context.Context, address string) ([]reminder.Reminder, error) {
	address = reminder.NormalizeAddress(address)
	return s.list(func(r reminder.Reminder) bool { return r.Address == address })
}

func (s *fileStore) list(keep func(reminder.Reminder) bool) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, unavailable("list", os.ErrClosed)
	}
	var out []reminder.Reminder
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return fileKey(out[i].SubjectID, out[i].Medication) < fileKey(out[j].SubjectID, out[j].Medication)
	})
	return out, nil
}

func (s *fileStore) Delete(_ context.Context, subjectID, medication string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, unavailable("delete", os.ErrClosed)
	}
	key := fileKey(subjectID, medication)
	if _, ok := s.rows[key]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", Key: key}); err != nil {
		return false, unavailable("delete", err)
	}
	delete(s.rows, key)
	return true, nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]reminder.Reminder) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]reminder.Reminder
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// maxJournalLine bounds one journal record. Labels are capped far below it.
const maxJournalLine = 1 << 20

func replayJournal(path string, out map[string]reminder.Reminder) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for sc.Scan() {
		var rec journalRecord
		// A torn final line from a crash is skipped.
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.Key == "" {
			continue
		}
		switch rec.Op {
		case "put":
			if rec.Row != nil {
				out[rec.Key] = *rec.Row
			}
		case "del":
			delete(out, rec.Key)
		}
	}
	return sc.Err()
}
