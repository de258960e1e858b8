package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
	closed  bool
}

func (f *fakeStore) insert(_ context.Context, batch []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]Entry(nil), batch...))
	return f.err
}

func (f *fakeStore) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestWriter_FlushesFullBatches(t *testing.T) {
	fs := &fakeStore{}
	w := newWriter(fs, zaptest.NewLogger(t), Options{BatchSize: 2, FlushEvery: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Append(Entry{RoomID: "a1", Event: "turnUpdate"}, Entry{RoomID: "a1", Event: "moveToken"})
	require.Eventually(t, func() bool { return fs.total() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, fs.closed)
	require.Len(t, fs.batches, 1)
	for _, e := range fs.batches[0] {
		assert.NotEqual(t, uuid.Nil, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestWriter_FlushesRemainderOnShutdown(t *testing.T) {
	fs := &fakeStore{}
	w := newWriter(fs, zaptest.NewLogger(t), Options{BatchSize: 50, FlushEvery: time.Hour})

	w.Append(Entry{RoomID: "a1", Event: "playerList"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 1, fs.total())
}

func TestWriter_TickerFlush(t *testing.T) {
	fs := &fakeStore{}
	w := newWriter(fs, zaptest.NewLogger(t), Options{BatchSize: 50, FlushEvery: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	w.Append(Entry{RoomID: "a1", Event: "gameStarted"})
	require.Eventually(t, func() bool { return fs.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWriter_DropsWhenFull(t *testing.T) {
	fs := &fakeStore{}
	w := newWriter(fs, zaptest.NewLogger(t), Options{Buffer: 2})

	w.Append(Entry{Event: "a"}, Entry{Event: "b"}, Entry{Event: "c"})
	assert.Equal(t, int64(1), w.Dropped())
}

func TestWriter_InsertErrorIsLogged(t *testing.T) {
	fs := &fakeStore{err: errors.New("connection refused")}
	w := newWriter(fs, zaptest.NewLogger(t), Options{BatchSize: 1, FlushEvery: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Append(Entry{Event: "turnUpdate"})
	require.Eventually(t, func() bool { return fs.total() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestNop(t *testing.T) {
	var a Appender = Nop{}
	a.Append(Entry{Event: "ignored"})
}
