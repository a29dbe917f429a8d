package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/voice-agent-lab/internal/logging"
)

const fileTimeLayout = "20060102T150405.000Z"

// FileStore writes one JSON sidecar per entry into a directory, with the
// spoken reply saved next to it as <base>_reply.wav.
type FileStore struct {
	dir string
	// lock guards read-modify-write cycles against other processes
	// sharing the directory.
	lock bool

	mu    sync.Mutex
	bases map[string]string // id -> file base name
}

// OpenFileStore creates dir if needed and indexes existing sidecars.
func OpenFileStore(dir string, crossProcessLock bool) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("journal dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	s := &FileStore{dir: dir, lock: crossProcessLock, bases: make(map[string]string)}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list journal dir: %w", err)
	}
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if id, ok := parseBase(strings.TrimSuffix(name, ".json")); ok {
			s.bases[id] = strings.TrimSuffix(name, ".json")
		}
	}
	logging.Infow("journal: file store opened", "dir", dir, "entries", len(s.bases))
	return s, nil
}

// parseBase splits "<timestamp>_<id>" and rejects anything else.
func parseBase(base string) (string, bool) {
	n := len(fileTimeLayout)
	if len(base) <= n+1 || base[n] != '_' {
		return "", false
	}
	if _, err := time.Parse(fileTimeLayout, base[:n]); err != nil {
		return "", false
	}
	return base[n+1:], true
}

func (s *FileStore) jsonPath(base string) string { return filepath.Join(s.dir, base+".json") }
func (s *FileStore) wavPath(base string) string  { return filepath.Join(s.dir, base+"_reply.wav") }

func (s *FileStore) base(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bases[id]
	return b, ok
}

func (s *FileStore) Record(_ context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("journal entry has no id")
	}
	at := e.DispatchedAt
	if at.IsZero() {
		at = time.Now()
	}
	base := at.UTC().Format(fileTimeLayout) + "_" + e.ID
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if err := SaveFileAtomic(s.jsonPath(base), b, 0o644); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	s.mu.Lock()
	s.bases[e.ID] = base
	s.mu.Unlock()
	return nil
}

func (s *FileStore) read(base string) (Entry, error) {
	var e Entry
	b, err := os.ReadFile(s.jsonPath(base))
	if err != nil {
		if os.IsNotExist(err) {
			return e, ErrNotFound
		}
		return e, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("invalid journal entry %s: %w", base, err)
	}
	return e, nil
}

func (s *FileStore) Get(_ context.Context, id string) (Entry, error) {
	base, ok := s.base(id)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return s.read(base)
}

// Annotate merges o into the stored entry and rewrites it atomically.
func (s *FileStore) Annotate(_ context.Context, id string, o Outcome) error {
	base, ok := s.base(id)
	if !ok {
		return fmt.Errorf("annotate %s: %w", id, ErrNotFound)
	}
	unlock, err := s.acquire(base)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.read(base)
	if err != nil {
		return err
	}
	o.apply(&e, time.Now())
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if err := SaveFileAtomic(s.jsonPath(base), b, 0o644); err != nil {
		logging.Warnw("journal: failed to save annotation", "path", s.jsonPath(base), "err", err, "prompt.id", id)
		return err
	}
	return nil
}

// acquire takes an advisory flock on <base>.lock when cross-process
// locking is enabled.
func (s *FileStore) acquire(base string) (func(), error) {
	if !s.lock {
		return func() {}, nil
	}
	path := filepath.Join(s.dir, base+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(path)
	}, nil
}

func (s *FileStore) SaveSpeech(ctx context.Context, id string, wav []byte) (string, error) {
	base, ok := s.base(id)
	if !ok {
		return "", fmt.Errorf("save speech %s: %w", id, ErrNotFound)
	}
	path := s.wavPath(base)
	if err := SaveFileAtomic(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("write speech: %w", err)
	}
	return path, s.Annotate(ctx, id, Outcome{SpeechPath: path})
}

// sorted returns bases oldest first. The timestamp prefix sorts
// chronologically.
func (s *FileStore) sorted() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.bases))
	for _, b := range s.bases {
		out = append(out, b)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *FileStore) Recent(_ context.Context, n int) ([]Entry, error) {
	bases := s.sorted()
	var out []Entry
	for i := len(bases) - 1; i >= 0 && len(out) < n; i-- {
		e, err := s.read(bases[i])
		if err != nil {
			logging.Debugw("journal: skipping unreadable entry", "base", bases[i], "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *FileStore) Prune(_ context.Context, cutoff time.Time, keep int) (int, error) {
	bases := s.sorted()
	limit := cutoff.UTC().Format(fileTimeLayout)
	var doomed []string
	for i, b := range bases {
		tooOld := b[:len(fileTimeLayout)] < limit
		overCap := keep > 0 && len(bases)-i > keep
		if tooOld || overCap {
			doomed = append(doomed, b)
		}
	}
	for _, b := range doomed {
		if err := os.Remove(s.jsonPath(b)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("remove journal entry: %w", err)
		}
		_ = os.Remove(s.wavPath(b))
		s.mu.Lock()
		delete(s.bases, b[len(fileTimeLayout)+1:])
		s.mu.Unlock()
	}
	return len(doomed), nil
}

func (s *FileStore) Close() error { return nil }

// SaveFileAtomic writes data to a temp file in the same directory, syncs
// it, and renames it over path.
func SaveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

var _ Store = (*FileStore)(nil)
