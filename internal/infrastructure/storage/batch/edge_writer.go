package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
)

// EdgeWriter buffers edge inserts and flushes them to an EdgeRepository in
// batches, reducing per-tick database overhead on the hot path. It flushes
// whichever comes first: defaultBatchSize records or defaultFlushInterval.
type EdgeWriter struct {
	repo          port.EdgeRepository
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []port.EdgeRecord

	flush chan struct{}
	done  chan struct{}
}

func NewEdgeWriter(repo port.EdgeRepository) *EdgeWriter {
	w := &EdgeWriter{
		repo:          repo,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		buffer:        make([]port.EdgeRecord, 0, defaultBatchSize),
		flush:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	return w
}

// Run drives the periodic flush loop until ctx is cancelled, then flushes
// whatever remains buffered before returning.
func (w *EdgeWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.flushNow(context.Background())
			return
		case <-ticker.C:
			w.flushNow(ctx)
		case <-w.flush:
			w.flushNow(ctx)
		}
	}
}

// WriteEdge queues rec for the next flush. It never blocks on the database.
func (w *EdgeWriter) WriteEdge(rec port.EdgeRecord) {
	w.mu.Lock()
	w.buffer = append(w.buffer, rec)
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flush <- struct{}{}:
		default:
		}
	}
}

func (w *EdgeWriter) flushNow(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]port.EdgeRecord, 0, w.batchSize)
	w.mu.Unlock()

	for _, rec := range batch {
		if err := w.repo.InsertEdge(ctx, rec); err != nil {
			log.Error().Err(err).Msg("batched edge insert failed")
		}
	}
}

// Done is closed once Run has flushed whatever remained buffered and
// returned, for callers that need to wait out the shutdown drain sequence.
func (w *EdgeWriter) Done() <-chan struct{} {
	return w.done
}

var _ port.EdgeSink = (*EdgeWriter)(nil)
