package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/voice-agent-lab/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore keeps entries in a single SQLite database. Spoken replies
// are stored as blobs; their SpeechPath is "sqlite:<id>".
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Infow("journal: sqlite store opened", "path", path)
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		logging.Infow("journal: applied migration", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("journal entry has no id")
	}
	frags, err := json.Marshal(e.Fragments)
	if err != nil {
		return err
	}
	if e.DispatchedAt.IsZero() {
		e.DispatchedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompts (id, text, fragments, activated_at, dispatched_at, reply, replied_at, speech_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Text, string(frags), millis(e.ActivatedAt), millis(e.DispatchedAt),
		e.Reply, millis(e.RepliedAt), e.SpeechPath, e.Error)
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Annotate(ctx context.Context, id string, o Outcome) error {
	var replied int64
	if o.Reply != "" {
		replied = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE prompts SET
			reply       = CASE WHEN ? <> '' THEN ? ELSE reply END,
			replied_at  = CASE WHEN ? <> 0 THEN ? ELSE replied_at END,
			speech_path = CASE WHEN ? <> '' THEN ? ELSE speech_path END,
			error       = CASE WHEN ? <> '' THEN ? ELSE error END
		WHERE id = ?`,
		o.Reply, o.Reply, replied, replied, o.SpeechPath, o.SpeechPath, o.Error, o.Error, id)
	if err != nil {
		return fmt.Errorf("annotate prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("annotate %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SaveSpeech(ctx context.Context, id string, wav []byte) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO speech (prompt_id, wav, created_at) VALUES (?, ?, ?)
		ON CONFLICT (prompt_id) DO UPDATE SET wav = excluded.wav, created_at = excluded.created_at`,
		id, wav, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("save speech for %s: %w", id, err)
	}
	ref := "sqlite:" + id
	return ref, s.Annotate(ctx, id, Outcome{SpeechPath: ref})
}

// Speech returns the stored audio for an entry.
func (s *SQLiteStore) Speech(ctx context.Context, id string) ([]byte, error) {
	var wav []byte
	err := s.db.QueryRowContext(ctx, `SELECT wav FROM speech WHERE prompt_id = ?`, id).Scan(&wav)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wav, err
}

const selectEntry = `SELECT id, text, fragments, activated_at, dispatched_at, reply, replied_at, speech_path, error FROM prompts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e                              Entry
		frags                          string
		activated, dispatched, replied int64
	)
	if err := r.Scan(&e.ID, &e.Text, &frags, &activated, &dispatched, &e.Reply, &replied, &e.SpeechPath, &e.Error); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(frags), &e.Fragments); err != nil {
		return e, fmt.Errorf("decode fragments of %s: %w", e.ID, err)
	}
	e.ActivatedAt, e.DispatchedAt, e.RepliedAt = fromMillis(activated), fromMillis(dispatched), fromMillis(replied)
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+` ORDER BY dispatched_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent prompts: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time, keep int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM prompts WHERE dispatched_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune by age: %w", err)
	}
	removed, _ := res.RowsAffected()
	if keep > 0 {
		res, err = tx.ExecContext(ctx, `
			DELETE FROM prompts WHERE id NOT IN (
				SELECT id FROM prompts ORDER BY dispatched_at DESC, rowid DESC LIMIT ?
			)`, keep)
		if err != nil {
			return 0, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
