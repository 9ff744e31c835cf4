package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.trai.ch/zerr"

	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

const compactEvery = 500

// fileStore keeps executions in memory and makes them durable through
// plain files.
//
// Files:
//   - <prefix>.executions.snapshot.json (periodic snapshot)
//   - <prefix>.executions.journal.jsonl (append-only journal)
//   - <prefix>.audit.jsonl              (append-only JSON Lines)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger
	mem *Memory

	mu sync.Mutex

	auditPath    string
	auditFile    *os.File
	snapshotPath string
	journalFile  *os.File
	writes       int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, zerr.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "create storage dir"), "dir", dir)
	}

	st := &fileStore{
		log:          log,
		mem:          NewMemory(),
		auditPath:    prefix + ".audit.jsonl",
		snapshotPath: prefix + ".executions.snapshot.json",
	}
	journalPath := prefix + ".executions.journal.jsonl"

	if err := st.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, zerr.With(zerr.Wrap(err, "load snapshot"), "path", st.snapshotPath)
	}
	skipped, err := st.replayJournal(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, zerr.With(zerr.Wrap(err, "replay journal"), "path", journalPath)
	}

	af, err := openAppend(st.auditPath)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "open audit log"), "path", st.auditPath)
	}
	jf, err := openAppend(journalPath)
	if err != nil {
		_ = af.Close()
		return nil, zerr.With(zerr.Wrap(err, "open journal"), "path", journalPath)
	}
	st.auditFile = af
	st.journalFile = jf

	// Fold the journal into a fresh snapshot so skipped lines are gone.
	if skipped > 0 {
		st.mu.Lock()
		err := st.compactLocked()
		st.mu.Unlock()
		if err != nil {
			st.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return st, nil
}

// openAppend opens a JSON Lines file for appending. A last line left
// without its newline by a crash is terminated first, so the next record
// starts on a line of its own.
func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := sealTail(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func sealTail(f *os.File) error {
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []execRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		s.mem.execs[r.ID] = r.execution()
	}
	return nil
}

// replayJournal applies journal lines over the snapshot and reports how
// many unreadable lines (a torn tail from a crash) it skipped.
func (s *fileStore) replayJournal(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	skipped := 0
	for sc.Scan() {
		var r execRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			skipped++
			continue
		}
		s.mem.execs[r.ID] = r.execution()
	}
	if skipped > 0 {
		s.log.Warn("journal lines skipped", logx.Int("count", skipped), logx.String("path", path))
	}
	return skipped, sc.Err()
}

func (s *fileStore) FindActiveByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	return s.mem.FindActiveByScopeAndTask(ctx, scopeKey, taskID)
}

func (s *fileStore) FindLastByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	return s.mem.FindLastByScopeAndTask(ctx, scopeKey, taskID)
}

func (s *fileStore) FindByID(ctx context.Context, id string) (*task.Execution, error) {
	return s.mem.FindByID(ctx, id)
}

func (s *fileStore) FindAll(ctx context.Context) ([]*task.Execution, error) {
	return s.mem.FindAll(ctx)
}

func (s *fileStore) Save(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.journalLocked(e); err != nil {
		return err
	}
	return s.mem.Save(ctx, e)
}

func (s *fileStore) Update(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.mem.FindByID(ctx, e.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return zerr.With(zerr.New("execution not found"), "execution_id", e.ID)
	}
	if err := s.journalLocked(e); err != nil {
		return err
	}
	return s.mem.Update(ctx, e)
}

func (s *fileStore) journalLocked(e *task.Execution) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(toRecord(e)); err != nil {
		return zerr.With(zerr.Wrap(err, "append journal"), "execution_id", e.ID)
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort; the journal still holds everything on failure.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	all, err := s.mem.FindAll(context.Background())
	if err != nil {
		return err
	}
	recs := make([]execRecord, 0, len(all))
	for _, e := range all {
		recs = append(recs, toRecord(e))
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(recs); err != nil {
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
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e task.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.auditFile).Encode(toAuditRecord(e)); err != nil {
		return zerr.Wrap(err, "append audit")
	}
	return nil
}

// ListAudit scans the audit log and keeps the tail.
func (s *fileStore) ListAudit(ctx context.Context, limit int) ([]task.AuditEvent, error) {
	s.mu.Lock()
	closed := s.auditFile == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	f, err := os.Open(s.auditPath)
	if err != nil {
		return nil, zerr.Wrap(err, "open audit log")
	}
	defer f.Close()

	var all []task.AuditEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r auditRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		all = append(all, r.event())
		if limit > 0 && len(all) > 2*limit {
			all = append(all[:0], all[len(all)-limit:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, zerr.Wrap(err, "read audit log")
	}
	return newestFirst(all, limit), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	var errs []error
	if s.writes > 0 {
		errs = append(errs, s.compactLocked())
	}
	errs = append(errs, s.journalFile.Close(), s.auditFile.Close())
	s.journalFile = nil
	s.auditFile = nil
	_ = s.mem.Close()
	return errors.Join(errs...)
}
