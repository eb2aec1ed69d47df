package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/deepagent/internal/observability"
	"github.com/harun/deepagent/internal/tracing"
)

const (
	tracerName = "deepagent.checkpoint"

	defaultBusyTimeout = 5 * time.Second
	defaultPageSize    = 100
	busyRetryDelay     = 50 * time.Millisecond
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures a SQLiteStore
type Config struct {
	// Path of the database file; parent directories are created.
	Path string
	// BusyTimeout is handed to SQLite before a write gives up on the lock.
	BusyTimeout time.Duration
	// PageSize is the number of rows List fetches per query.
	PageSize int
}

// SQLiteStore is the durable Store backed by a single SQLite file in WAL mode
type SQLiteStore struct {
	db       *sql.DB
	path     string
	pageSize int

	// mu is held shared by every operation and exclusively by Close.
	mu     sync.RWMutex
	closed bool

	locksMu     sync.Mutex
	threadLocks map[string]*threadLock
}

// threadLock serializes writers of one thread. refs counts holders and
// waiters so the entry can be dropped once nobody needs it.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

var _ Store = (*SQLiteStore)(nil)

// Open opens or creates the store at cfg.Path and applies pending migrations.
// It refuses databases migrated by a newer binary.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.open", attribute.String("path", cfg.Path))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("component", "checkpoint").Str("path", cfg.Path).Logger()

	if cfg.Path == "" {
		return nil, tracing.Fail(span, fmt.Errorf("%w: database path is required", ErrStorageInit))
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("%w: failed to create directory: %w", ErrStorageInit, err))
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=%d&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("%w: failed to open database: %w", ErrStorageInit, err))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, tracing.Fail(span, fmt.Errorf("%w: failed to open database: %w", ErrStorageInit, err))
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, tracing.Fail(span, fmt.Errorf("%w: %w", ErrStorageInit, err))
	}

	logger.Info().Msg("Checkpoint store opened")

	return &SQLiteStore{
		db:          db,
		path:        cfg.Path,
		pageSize:    cfg.PageSize,
		threadLocks: make(map[string]*threadLock),
	}, nil
}

// migrate fails closed when the database records a schema version newer than
// the newest embedded migration.
func migrate(ctx context.Context, db *sql.DB) error {
	sources, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sources)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	var known int64
	for _, src := range provider.ListSources() {
		if src.Version > known {
			known = src.Version
		}
	}

	current, err := appliedVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > known {
		return fmt.Errorf("%w: database at version %d, binary knows %d", ErrIncompatibleSchema, current, known)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func appliedVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var tables int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'goose_db_version'`).Scan(&tables)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version_id) FROM goose_db_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version.Int64, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// lockThread blocks until the caller holds the write lock of threadID and
// returns the matching unlock.
func (s *SQLiteStore) lockThread(threadID string) func() {
	s.locksMu.Lock()
	lock, ok := s.threadLocks[threadID]
	if !ok {
		lock = &threadLock{}
		s.threadLocks[threadID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.threadLocks, threadID)
		}
		s.locksMu.Unlock()
	}
}

// acquire takes the shared lifecycle lock; callers must release it.
func (s *SQLiteStore) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	return nil
}

func (s *SQLiteStore) release() {
	s.mu.RUnlock()
}

// Put durably inserts cp. CreatedAt is set when zero.
func (s *SQLiteStore) Put(ctx context.Context, cp Checkpoint) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.put",
		attribute.String("thread_id", cp.ThreadID),
		attribute.String("checkpoint_id", cp.CheckpointID),
		attribute.Int("state_bytes", len(cp.State)),
	)
	defer span.End()
	ctx = tracing.WithThreadID(ctx, cp.ThreadID)

	start := time.Now()
	defer func() {
		observability.RecordCheckpointOp("put", time.Since(start), err == nil)
	}()

	if err := s.acquire(); err != nil {
		return tracing.Fail(span, err)
	}
	defer s.release()

	if err := cp.Validate(); err != nil {
		return tracing.Fail(span, err)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	defer s.lockThread(cp.ThreadID)()

	if err := retryOnBusy(ctx, func() error { return s.insert(ctx, cp) }); err != nil {
		if errors.Is(err, ErrCheckpointExists) {
			return tracing.Fail(span, err)
		}
		return tracing.Fail(span, fmt.Errorf("%w: put %s/%s: %w", ErrStorageIO, cp.ThreadID, cp.CheckpointID, err))
	}

	observability.RecordCheckpointWritten()
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, cp Checkpoint) error {
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("checkpoint_id", cp.CheckpointID).
		Logger()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cp.ParentCheckpointID != "" {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
			cp.ThreadID, cp.ParentCheckpointID).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			logger.Warn().Str("parent_checkpoint_id", cp.ParentCheckpointID).Msg("Parent checkpoint not found, storing anyway")
		case err != nil:
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, checkpoint_id, parent_checkpoint_id, codec, state, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.CheckpointID, cp.ParentCheckpointID, cp.Codec, cp.State, cp.Metadata, cp.CreatedAt.UnixNano())
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s/%s", ErrCheckpointExists, cp.ThreadID, cp.CheckpointID)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Debug().Msg("Checkpoint stored")
	return nil
}

const selectColumns = `thread_id, checkpoint_id, parent_checkpoint_id, codec, state, metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var cp Checkpoint
	var created int64
	if err := row.Scan(&cp.ThreadID, &cp.CheckpointID, &cp.ParentCheckpointID, &cp.Codec, &cp.State, &cp.Metadata, &created); err != nil {
		return Checkpoint{}, err
	}
	cp.CreatedAt = time.Unix(0, created).UTC()
	return cp, nil
}

// GetLatest returns the checkpoint with the greatest id in the thread.
func (s *SQLiteStore) GetLatest(ctx context.Context, threadID string) (cp Checkpoint, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.get_latest", attribute.String("thread_id", threadID))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordCheckpointOp("get_latest", time.Since(start), err == nil || errors.Is(err, ErrNotFound))
	}()

	if err := s.acquire(); err != nil {
		return Checkpoint{}, tracing.Fail(span, err)
	}
	defer s.release()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM checkpoints WHERE thread_id = ? ORDER BY checkpoint_id DESC LIMIT 1`, threadID)
	cp, err = scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	if err != nil {
		return Checkpoint{}, tracing.Fail(span, fmt.Errorf("%w: get latest %s: %w", ErrStorageIO, threadID, err))
	}
	return cp, nil
}

// Get returns a single checkpoint.
func (s *SQLiteStore) Get(ctx context.Context, threadID, checkpointID string) (cp Checkpoint, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.get",
		attribute.String("thread_id", threadID),
		attribute.String("checkpoint_id", checkpointID),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordCheckpointOp("get", time.Since(start), err == nil || errors.Is(err, ErrNotFound))
	}()

	if err := s.acquire(); err != nil {
		return Checkpoint{}, tracing.Fail(span, err)
	}
	defer s.release()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`, threadID, checkpointID)
	cp, err = scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("%w: %s/%s", ErrNotFound, threadID, checkpointID)
	}
	if err != nil {
		return Checkpoint{}, tracing.Fail(span, fmt.Errorf("%w: get %s/%s: %w", ErrStorageIO, threadID, checkpointID, err))
	}
	return cp, nil
}

// List pages through the thread by checkpoint id. An error ends the sequence.
func (s *SQLiteStore) List(ctx context.Context, threadID string) iter.Seq2[Checkpoint, error] {
	return func(yield func(Checkpoint, error) bool) {
		after := ""
		for {
			page, err := s.listPage(ctx, threadID, after)
			if err != nil {
				yield(Checkpoint{}, err)
				return
			}
			for _, cp := range page {
				if !yield(cp, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1].CheckpointID
		}
	}
}

func (s *SQLiteStore) listPage(ctx context.Context, threadID, after string) (page []Checkpoint, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.list_page",
		attribute.String("thread_id", threadID),
		attribute.String("after", after),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordCheckpointOp("list", time.Since(start), err == nil)
	}()

	if err := s.acquire(); err != nil {
		return nil, tracing.Fail(span, err)
	}
	defer s.release()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM checkpoints
		 WHERE thread_id = ? AND checkpoint_id > ?
		 ORDER BY checkpoint_id ASC LIMIT ?`, threadID, after, s.pageSize)
	if err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("%w: list %s: %w", ErrStorageIO, threadID, err))
	}
	defer rows.Close()

	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, tracing.Fail(span, fmt.Errorf("%w: list %s: %w", ErrStorageIO, threadID, err))
		}
		page = append(page, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("%w: list %s: %w", ErrStorageIO, threadID, err))
	}
	return page, nil
}

// Threads returns all threads ordered by id.
func (s *SQLiteStore) Threads(ctx context.Context) ([]ThreadInfo, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.threads")
	defer span.End()

	if err := s.acquire(); err != nil {
		return nil, tracing.Fail(span, err)
	}
	defer s.release()

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, COUNT(*), MAX(checkpoint_id), MAX(created_at)
		 FROM checkpoints GROUP BY thread_id ORDER BY thread_id`)
	if err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("%w: threads: %w", ErrStorageIO, err))
	}
	defer rows.Close()

	var threads []ThreadInfo
	for rows.Next() {
		var info ThreadInfo
		var modified int64
		if err := rows.Scan(&info.ThreadID, &info.Count, &info.LatestID, &modified); err != nil {
			return nil, tracing.Fail(span, fmt.Errorf("%w: threads: %w", ErrStorageIO, err))
		}
		info.LastModified = time.Unix(0, modified).UTC()
		threads = append(threads, info)
	}
	if err := rows.Err(); err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("%w: threads: %w", ErrStorageIO, err))
	}
	return threads, nil
}

// Prune keeps the newest keep checkpoints of the thread.
func (s *SQLiteStore) Prune(ctx context.Context, threadID string, keep int) (removed int, err error) {
	keep = clampKeep(keep)
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.prune",
		attribute.String("thread_id", threadID),
		attribute.Int("keep", keep),
	)
	defer span.End()
	ctx = tracing.WithThreadID(ctx, threadID)

	start := time.Now()
	defer func() {
		observability.RecordCheckpointOp("prune", time.Since(start), err == nil)
	}()

	if err := s.acquire(); err != nil {
		return 0, tracing.Fail(span, err)
	}
	defer s.release()

	defer s.lockThread(threadID)()

	err = retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE thread_id = ? AND checkpoint_id NOT IN (
			   SELECT checkpoint_id FROM checkpoints WHERE thread_id = ? ORDER BY checkpoint_id DESC LIMIT ?
			 )`, threadID, threadID, keep)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = int(n)
		return err
	})
	if err != nil {
		return 0, tracing.Fail(span, fmt.Errorf("%w: prune %s: %w", ErrStorageIO, threadID, err))
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().Int("removed", removed).Msg("Pruned checkpoints")
	return removed, nil
}

// Delete removes the thread. Deleting an unknown thread is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "checkpoint.delete", attribute.String("thread_id", threadID))
	defer span.End()
	ctx = tracing.WithThreadID(ctx, threadID)

	start := time.Now()
	defer func() {
		observability.RecordCheckpointOp("delete", time.Since(start), err == nil)
	}()

	if err := s.acquire(); err != nil {
		return tracing.Fail(span, err)
	}
	defer s.release()

	defer s.lockThread(threadID)()

	err = retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
		return err
	})
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("%w: delete %s: %w", ErrStorageIO, threadID, err))
	}
	return nil
}

// Close waits for in-flight operations and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrStorageIO, err)
	}
	log.Info().Str("path", s.path).Msg("Checkpoint store closed")
	return nil
}

// retryOnBusy runs f and retries it once when SQLite reports the database as
// busy or locked past its busy timeout.
func retryOnBusy(ctx context.Context, f func() error) error {
	err := f()
	if !isBusy(err) {
		return err
	}

	timer := time.NewTimer(busyRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return f()
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
