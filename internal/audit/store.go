package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gateway/internal/metrics"
	dbconfig "gateway/pkg/database"
	"gateway/pkg/interfaces"
	"gateway/pkg/types"
)

const (
	defaultBufferSize  = 1024
	maxBatchSize       = 128
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
)

// Options tunes the journal writer
type Options struct {
	BufferSize int
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Store is the SQLite-backed audit journal.
// Record hands events to a single writer goroutine; reads go straight to the pool.
type Store struct {
	db      *sql.DB
	events  chan types.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ interfaces.AuditStore = (*Store)(nil)

// Open opens (and migrates) the journal database and starts the writer
func Open(config *dbconfig.Config, opts Options) (*Store, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}
	return newStore(db, opts), nil
}

func newStore(db *sql.DB, opts Options) *Store {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}

	s := &Store{
		db:      db,
		events:  make(chan types.Event, opts.BufferSize),
		clock:   opts.Clock,
		logger:  opts.Logger.Named("audit"),
		metrics: opts.Metrics,
	}

	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Record queues an event for the journal. It never blocks: when the queue is
// full or the store is closed the event is dropped and counted.
func (s *Store) Record(event types.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.AuditDropped.Inc()
		return
	}

	select {
	case s.events <- event:
	default:
		s.metrics.AuditDropped.Inc()
	}
}

// writeLoop is the only goroutine that writes to the database.
// Whatever is already queued is committed together in one transaction.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	batch := make([]types.Event, 0, maxBatchSize)
	for event := range s.events {
		batch = append(batch[:0], event)
	drain:
		for len(batch) < maxBatchSize {
			select {
			case next, ok := <-s.events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		if err := s.insert(batch); err != nil {
			s.logger.Warn("Failed to write audit events", zap.Int("events", len(batch)), zap.Error(err))
		}
	}
}

func (s *Store) insert(batch []types.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gateway_events (id, kind, subject, detail, remote_addr, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Kind, e.Subject, e.Detail, e.RemoteAddr, e.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit events, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, subject, detail, remote_addr, created_at
		FROM gateway_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*types.Event, 0, limit)
	for rows.Next() {
		var e types.Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Detail, &e.RemoteAddr, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// HealthCheck validates database connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return interfaces.ErrStoreClosed
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gateway_events LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops accepting events, flushes the queue and closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}
