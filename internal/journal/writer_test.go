package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/docrelay/internal/config"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]Entry
	fail    bool
}

func (s *memStore) Insert(ctx context.Context, entries []Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("db down")
	}
	cp := append([]Entry(nil), entries...)
	s.batches = append(s.batches, cp)
	return len(entries), nil
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func entry(id string) Entry {
	return Entry{EnvelopeID: id, Channel: "c1", Type: "message", RoutedAt: time.Now()}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	store := &memStore{}
	w := NewWriter(config.JournalConfig{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 100}, store, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		w.Record(entry(id))
	}

	require.Eventually(t, func() bool { return store.total() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), w.Stats().Inserted)
}

func TestWriter_FlushOnInterval(t *testing.T) {
	store := &memStore{}
	w := NewWriter(config.JournalConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond, BufferSize: 100}, store, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	w.Record(entry("a"))

	require.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	store := &memStore{}
	w := NewWriter(config.JournalConfig{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 100}, store, nil)
	require.NoError(t, w.Start(context.Background()))

	w.Record(entry("a"))
	require.NoError(t, w.Stop(context.Background()))

	assert.Equal(t, 1, store.total())

	// Recording after Stop is dropped.
	w.Record(entry("b"))
	assert.Equal(t, int64(1), w.Stats().Dropped)
}

func TestWriter_BatchesPreserveOrder(t *testing.T) {
	store := &memStore{}
	w := NewWriter(config.JournalConfig{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 100}, store, nil)
	require.NoError(t, w.Start(context.Background()))

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		w.Record(entry(id))
	}
	require.NoError(t, w.Stop(context.Background()))

	var got []string
	for _, b := range store.batches {
		assert.LessOrEqual(t, len(b), 2)
		for _, e := range b {
			got = append(got, e.EnvelopeID)
		}
	}
	assert.Equal(t, ids, got)
}

func TestWriter_InsertErrorCounted(t *testing.T) {
	store := &memStore{fail: true}
	w := NewWriter(config.JournalConfig{BatchSize: 1, FlushInterval: time.Hour, BufferSize: 100}, store, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	w.Record(entry("a"))

	require.Eventually(t, func() bool { return w.Stats().Errors == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), w.Stats().Inserted)
}

func TestWriter_DropsWhenFull(t *testing.T) {
	store := &memStore{}
	w := NewWriter(config.JournalConfig{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 2}, store, nil)

	w.Record(entry("a"))
	w.Record(entry("b"))
	w.Record(entry("c"))

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Recorded)
	assert.Equal(t, int64(1), stats.Dropped)
}
