package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmcpd/openmcpd/internal/domain/audit"
)

// AuditService logs request audit records asynchronously: a buffered channel
// feeds a background worker that batches writes, so recording never blocks
// the dispatch hot path.
type AuditService struct {
	store         audit.Store
	records       chan audit.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	channelSize   int
	dropCount     atomic.Int64
	started       atomic.Bool
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithAuditBatchSize sets how many records batch before a write.
func WithAuditBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithAuditFlushInterval sets the interval for flushing partial batches.
func WithAuditFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithAuditChannelSize sets the record buffer capacity.
func WithAuditChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.Record, size)
			s.channelSize = size
		}
	}
}

// NewAuditService creates an AuditService over the given store.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AuditService{
		store:         store,
		records:       make(chan audit.Record, 1000),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
		channelSize:   1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background writer.
func (s *AuditService) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record enqueues a record. When the buffer is full the record is dropped
// and counted; audit must never stall request handling.
func (s *AuditService) Record(rec audit.Record) {
	select {
	case s.records <- rec:
	default:
		drops := s.dropCount.Add(1)
		s.logger.Warn("audit record dropped",
			"method", rec.Method, "session_id", rec.SessionID, "total_drops", drops)
	}
}

// DroppedRecords returns the total number of dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// Stop closes the intake channel, waits for the worker to drain, and closes
// the store.
func (s *AuditService) Stop() {
	if !s.started.Load() {
		return
	}
	close(s.records)
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close audit store", "error", err)
	}
}

// worker batches records and flushes on size or interval.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			// Drain whatever is already buffered, then stop.
			for {
				select {
				case rec, ok := <-s.records:
					if !ok {
						s.finalFlush(batch)
						return
					}
					batch = append(batch, rec)
				default:
					s.finalFlush(batch)
					return
				}
			}
		}
	}
}

// finalFlush writes the remaining batch with a bounded deadline.
func (s *AuditService) finalFlush(batch []audit.Record) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
	_ = s.store.Flush(ctx)
}

// flush writes a batch. Errors are logged, never propagated: audit failures
// must not fail requests.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
	}
}
