// Package journal keeps an append-only audit trail of room events in Postgres.
// It is write-only: rooms are never rebuilt from it.
package journal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one emitted room event.
type Entry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID    string    `gorm:"size:64;index"`
	Event     string    `gorm:"size:64"`
	PlayerID  string    `gorm:"size:128"`
	Direct    bool
	Payload   string    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"index"`
}

func (Entry) TableName() string { return "room_events" }

// Appender accepts entries without blocking the caller.
type Appender interface {
	Append(entries ...Entry)
}

// Nop discards everything. Used when no database is configured.
type Nop struct{}

func (Nop) Append(...Entry) {}

type store interface {
	insert(ctx context.Context, batch []Entry) error
	close() error
}

type gormStore struct {
	db *gorm.DB
}

func (g gormStore) insert(ctx context.Context, batch []Entry) error {
	return g.db.WithContext(ctx).CreateInBatches(batch, len(batch)).Error
}

func (g gormStore) close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open connects to Postgres and migrates the room_events table.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		sqlDB, dbErr := db.DB()
		if dbErr == nil {
			err = multierr.Append(err, sqlDB.Close())
		}
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return db, nil
}

type Options struct {
	Buffer     int
	BatchSize  int
	FlushEvery time.Duration
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = time.Second
	}
	return o
}

// Writer buffers entries and inserts them in batches from Run.
type Writer struct {
	in      chan Entry
	store   store
	opts    Options
	log     *zap.Logger
	dropped atomic.Int64
}

func NewWriter(db *gorm.DB, log *zap.Logger, opts Options) *Writer {
	return newWriter(gormStore{db: db}, log, opts)
}

func newWriter(s store, log *zap.Logger, opts Options) *Writer {
	opts = opts.withDefaults()
	return &Writer{
		in:    make(chan Entry, opts.Buffer),
		store: s,
		opts:  opts,
		log:   log.Named("journal"),
	}
}

// Append stamps ids and times and queues the entries. A full buffer drops.
func (w *Writer) Append(entries ...Entry) {
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		select {
		case w.in <- e:
		default:
			if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
				w.log.Warn("journal buffer full, dropping entries", zap.Int64("dropped", n))
			}
		}
	}
}

// Dropped is the number of entries lost to a full buffer.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Run flushes until ctx is done, then flushes what is left and closes the store.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.FlushEvery)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.opts.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.insert(ctx, batch); err != nil {
			w.log.Error("journal insert failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case e := <-w.in:
					batch = append(batch, e)
				default:
					break drain
				}
			}
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(final)
			cancel()
			return w.store.close()

		case e := <-w.in:
			batch = append(batch, e)
			if len(batch) >= w.opts.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}
