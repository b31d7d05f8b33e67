package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
	domainservice "hyperarb/internal/domain/service"
)

// OpportunityWriter buffers classified opportunities the same way EdgeWriter
// buffers edges — the tracker that feeds it must never block on storage.
type OpportunityWriter struct {
	repo          port.OpportunityRepository
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []model.Opportunity

	flush chan struct{}
	done  chan struct{}
}

func NewOpportunityWriter(repo port.OpportunityRepository) *OpportunityWriter {
	return &OpportunityWriter{
		repo:          repo,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		buffer:        make([]model.Opportunity, 0, defaultBatchSize),
		flush:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

func (w *OpportunityWriter) Run(ctx context.Context) {
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

func (w *OpportunityWriter) WriteOpportunity(o model.Opportunity) {
	w.mu.Lock()
	w.buffer = append(w.buffer, o)
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flush <- struct{}{}:
		default:
		}
	}
}

func (w *OpportunityWriter) flushNow(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]model.Opportunity, 0, w.batchSize)
	w.mu.Unlock()

	for _, o := range batch {
		if err := w.repo.InsertOpportunity(ctx, o); err != nil {
			log.Error().Err(err).Msg("batched opportunity insert failed")
		}
	}
}

// Done is closed once Run has flushed whatever remained buffered and
// returned, for callers that need to wait out the shutdown drain sequence.
func (w *OpportunityWriter) Done() <-chan struct{} {
	return w.done
}

var _ domainservice.OpportunityWriter = (*OpportunityWriter)(nil)
