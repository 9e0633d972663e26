package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskplan/internal/schedule"
	logx "taskplan/pkg/logx"
)

const defaultCompactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of every project and task)
//   - <prefix>.journal.jsonl (append-only journal of writes since the snapshot)
//   - <prefix>.lock (advisory lock shared by every process using the store)
//
// Every operation holds the lock (shared for reads, exclusive for writes)
// and first catches up with records other processes appended. A write is
// applied to memory only after its journal record is on disk. The journal is
// compacted into the snapshot every CompactEvery records.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	snapshotPath string
	journal      *os.File
	lock         *fileLock

	// offset is how much of the journal st reflects; snap identifies the
	// snapshot st was loaded from (nil when there was none).
	offset int64
	snap   os.FileInfo

	writes       int
	compactEvery int
}

type journalOp string

const (
	opCreateProject journalOp = "project.create"
	opDeleteProject journalOp = "project.delete"
	opCommit        journalOp = "commit"
)

type journalRecord struct {
	Op        journalOp         `json:"op"`
	Project   *schedule.Project `json:"project,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	Commit    *Commit           `json:"commit,omitempty"`
}

type snapshot struct {
	Projects []schedule.Project `json:"projects"`
	Tasks    []schedule.Task    `json:"tasks"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	lock, err := openFileLock(prefix + ".lock")
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(prefix+".journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		journal:      jf,
		lock:         lock,
		compactEvery: every,
	}
	err = s.withLock(context.Background(), false, s.reloadLocked)
	if err != nil {
		_ = jf.Close()
		_ = lock.Close()
		return nil, err
	}
	log.Debug("file store opened",
		logx.String("path", prefix),
		logx.Int("projects", len(s.st.projects)),
		logx.Int("tasks", len(s.st.tasks)),
		logx.Int("journal_records", s.writes),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := errors.Join(s.journal.Close(), s.lock.Close())
	s.journal = nil
	return err
}

// withLock runs fn holding both the in-process mutex and the file lock,
// after catching up with writes made through other handles.
func (s *fileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.lock.lock(ctx, exclusive); err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	defer func() {
		if err := s.lock.unlock(); err != nil {
			s.log.Warn("store unlock failed", logx.Err(err))
		}
	}()
	if s.st != nil {
		if err := s.refreshLocked(); err != nil {
			return fmt.Errorf("refresh store: %w", err)
		}
	}
	return fn()
}

// refreshLocked replays journal records appended since the last look, or
// reloads everything when another process compacted the journal.
func (s *fileStore) refreshLocked() error {
	snap, err := statIfExists(s.snapshotPath)
	if err != nil {
		return err
	}
	info, err := s.journal.Stat()
	if err != nil {
		return err
	}
	if !sameFile(s.snap, snap) || info.Size() < s.offset {
		return s.reloadLocked()
	}
	if info.Size() == s.offset {
		return nil
	}
	n, read, err := replayJournal(io.NewSectionReader(s.journal, s.offset, info.Size()-s.offset), s.st, s.log)
	s.offset += read
	s.writes += n
	return err
}

// reloadLocked rebuilds the state from the snapshot and the whole journal.
func (s *fileStore) reloadLocked() error {
	snap, err := statIfExists(s.snapshotPath)
	if err != nil {
		return err
	}
	st := newState()
	if snap != nil {
		if err := loadSnapshot(s.snapshotPath, st); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}
	info, err := s.journal.Stat()
	if err != nil {
		return err
	}
	n, read, err := replayJournal(io.NewSectionReader(s.journal, 0, info.Size()), st, s.log)
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	s.st, s.snap, s.offset, s.writes = st, snap, read, n
	return nil
}

// write validates rec against the current state, journals it, then applies it.
func (s *fileStore) write(ctx context.Context, rec journalRecord, check, apply func() error) error {
	return s.withLock(ctx, true, func() error {
		return s.appendLocked(rec, check, apply)
	})
}

func (s *fileStore) appendLocked(rec journalRecord, check, apply func() error) error {
	if err := check(); err != nil {
		return err
	}
	// Drop a torn tail left by a crashed writer so the next record starts on
	// its own line.
	if info, err := s.journal.Stat(); err != nil {
		return err
	} else if info.Size() > s.offset {
		s.log.Warn("journal tail dropped", logx.Int64("bytes", info.Size()-s.offset))
		if err := s.journal.Truncate(s.offset); err != nil {
			return fmt.Errorf("journal truncate: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("journal encode: %w", err)
	}
	if _, err := s.journal.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	s.offset += int64(buf.Len())
	if err := apply(); err != nil {
		// check passed, so this only happens on a bug; the journal record
		// will fail the same way on replay and be skipped.
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) CreateProject(ctx context.Context, p schedule.Project) error {
	return s.write(ctx, journalRecord{Op: opCreateProject, Project: &p},
		func() error {
			if p.ID == "" {
				return errors.New("project id is required")
			}
			if _, ok := s.st.projects[p.ID]; ok {
				return fmt.Errorf("project %s: %w", p.ID, ErrExists)
			}
			return nil
		},
		func() error { return s.st.createProject(p) },
	)
}

func (s *fileStore) DeleteProject(ctx context.Context, id string) error {
	return s.write(ctx, journalRecord{Op: opDeleteProject, ProjectID: id},
		func() error {
			_, err := s.st.project(id)
			return err
		},
		func() error { return s.st.deleteProject(id) },
	)
}

func (s *fileStore) Commit(ctx context.Context, c Commit) error {
	return s.write(ctx, journalRecord{Op: opCommit, Commit: &c},
		func() error { return s.st.check(c) },
		func() error { return s.st.apply(c) },
	)
}

func (s *fileStore) Update(ctx context.Context, projectID string, fn UpdateFunc) error {
	return s.withLock(ctx, true, func() error {
		return s.st.update(projectID, fn, func(c Commit) error {
			return s.appendLocked(journalRecord{Op: opCommit, Commit: &c},
				func() error { return s.st.check(c) },
				func() error { return s.st.apply(c) },
			)
		})
	})
}

func (s *fileStore) GetProject(ctx context.Context, id string) (p schedule.Project, err error) {
	err = s.withLock(ctx, false, func() error {
		p, err = s.st.project(id)
		return err
	})
	return p, err
}

func (s *fileStore) ListProjects(ctx context.Context) (ps []schedule.Project, err error) {
	err = s.withLock(ctx, false, func() error {
		ps = s.st.listProjects()
		return nil
	})
	return ps, err
}

func (s *fileStore) GetTask(ctx context.Context, id string) (t schedule.Task, err error) {
	err = s.withLock(ctx, false, func() error {
		t, err = s.st.task(id)
		return err
	})
	return t, err
}

func (s *fileStore) ListTasks(ctx context.Context, projectID string) (ts []schedule.Task, err error) {
	err = s.withLock(ctx, false, func() error {
		ts, err = s.st.listTasks(projectID)
		return err
	})
	return ts, err
}

// compactLocked needs the exclusive lock.
func (s *fileStore) compactLocked() error {
	snap := snapshot{Projects: s.st.listProjects(), Tasks: make([]schedule.Task, 0, len(s.st.tasks))}
	for _, p := range snap.Projects {
		ts, _ := s.st.listTasks(p.ID)
		snap.Tasks = append(snap.Tasks, ts...)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
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
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.offset = 0
	s.snap, err = statIfExists(s.snapshotPath)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, p := range snap.Projects {
		if err := st.createProject(p); err != nil {
			return err
		}
	}
	for _, t := range snap.Tasks {
		p, err := st.project(t.ProjectID)
		if err != nil {
			return err
		}
		if err := st.apply(Commit{Project: p, Upserts: []schedule.Task{t}}); err != nil {
			return err
		}
	}
	return nil
}

// replayJournal applies journal records from r on top of st. It returns how
// many records were read and how many bytes they took. A trailing record
// without its newline is left unread. Undecodable or inapplicable records
// are skipped.
func replayJournal(r io.Reader, st *state, log logx.Logger) (int, int64, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		n    int
		read int64
	)
	for {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				log.Warn("journal tail incomplete", logx.Int("bytes", len(line)))
			}
			return n, read, nil
		}
		if err != nil {
			return n, read, err
		}
		read += int64(len(line))
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			log.Warn("journal record skipped", logx.Int("line", n+1), logx.Err(err))
			continue
		}
		n++
		var aerr error
		switch rec.Op {
		case opCreateProject:
			if rec.Project != nil {
				aerr = st.createProject(*rec.Project)
			}
		case opDeleteProject:
			aerr = st.deleteProject(rec.ProjectID)
		case opCommit:
			if rec.Commit != nil {
				aerr = st.apply(*rec.Commit)
			}
		default:
			aerr = fmt.Errorf("unknown op %q", rec.Op)
		}
		if aerr != nil {
			log.Warn("journal record not applied", logx.Int("line", n), logx.String("op", string(rec.Op)), logx.Err(aerr))
		}
	}
}

func statIfExists(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return info, err
}

// sameFile reports whether a and b describe the same unchanged file.
func sameFile(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}
