package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RowWriter persists batches of column maps.
type RowWriter interface {
	InsertRows(ctx context.Context, table string, rows []map[string]any) error
}

// WriteOp is a single row queued for insertion.
type WriteOp struct {
	Table  string
	Row    map[string]any
	result chan<- error // set by SendSync
}

// SinkConfig configures the write sink.
type SinkConfig struct {
	Writer        RowWriter
	BatchSize     int           // Flush after N rows (default: 100)
	FlushInterval time.Duration // Or after duration (default: 5s)
	QueueSize     int           // Buffer size (default: 1000)
	Logger        *slog.Logger
}

// Sink batches row writes off the hot path. Model call traces are sent here so
// a slow disk never delays a model call.
type Sink struct {
	writer RowWriter
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue   chan WriteOp
	batch   []WriteOp
	batchMu sync.Mutex
	flushCh chan chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSink creates a write sink. Call Start before sending.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		writer:        cfg.Writer,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan WriteOp, cfg.QueueSize),
		batch:         make([]WriteOp, 0, cfg.BatchSize),
		flushCh:       make(chan chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing queued rows.
func (s *Sink) Start(ctx context.Context) {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.runBatcher()
}

// Stop flushes remaining rows and shuts the sink down.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Debug("stopping sink, flushing remaining rows")
		close(s.queue)
		s.wg.Wait()
		s.cancel()
	})
}

// Send queues a row (fire-and-forget). It implements llmcall.Sink.
func (s *Sink) Send(table string, row map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("sink closed, dropping row", "table", table)
		}
	}()

	op := WriteOp{Table: table, Row: row}
	select {
	case s.queue <- op:
	default:
		select {
		case s.queue <- op:
		case <-s.ctx.Done():
			s.logger.Warn("sink closed, dropping row", "table", table)
		}
	}
}

// SendSync queues a row and waits until it is written.
func (s *Sink) SendSync(ctx context.Context, table string, row map[string]any) error {
	resultCh := make(chan error, 1)
	op := WriteOp{Table: table, Row: row, result: resultCh}

	select {
	case s.queue <- op:
	case <-s.ctx.Done():
		return fmt.Errorf("sink closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resultCh:
		return err
	case <-s.ctx.Done():
		return fmt.Errorf("sink closed while waiting for result")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush writes everything queued so far and waits for it.
func (s *Sink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.flushCh <- done:
	case <-s.ctx.Done():
		return fmt.Errorf("sink closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBatcher collects rows and flushes on size, time or request.
func (s *Sink) runBatcher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				s.flushBatch()
				return
			}
			s.addToBatch(op)

		case <-ticker.C:
			s.flushBatch()

		case done := <-s.flushCh:
			s.drainQueue()
			s.flushBatch()
			close(done)
		}
	}
}

// drainQueue moves every already-queued row into the batch.
func (s *Sink) drainQueue() {
	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				return
			}
			s.addToBatch(op)
		default:
			return
		}
	}
}

func (s *Sink) addToBatch(op WriteOp) {
	s.batchMu.Lock()
	s.batch = append(s.batch, op)
	shouldFlush := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()

	if shouldFlush {
		s.flushBatch()
	}
}

func (s *Sink) flushBatch() {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	ops := s.batch
	s.batch = make([]WriteOp, 0, s.batchSize)
	s.batchMu.Unlock()

	s.logger.Debug("flushing batch", "count", len(ops))

	for table, group := range groupOps(ops) {
		s.processInserts(table, group)
	}
}

// groupOps groups operations by table, keeping their order.
func groupOps(ops []WriteOp) map[string][]WriteOp {
	grouped := make(map[string][]WriteOp)
	for _, op := range ops {
		grouped[op.Table] = append(grouped[op.Table], op)
	}
	return grouped
}

func (s *Sink) processInserts(table string, ops []WriteOp) {
	rows := make([]map[string]any, len(ops))
	for i, op := range ops {
		rows[i] = op.Row
	}

	// Writes outlive a cancelled run so traces of the failure are kept.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 30*time.Second)
	defer cancel()

	err := s.writer.InsertRows(ctx, table, rows)
	if err != nil {
		s.logger.Error("insert failed", "table", table, "rows", len(rows), "error", err)
	}
	for _, op := range ops {
		if op.result != nil {
			op.result <- err
			close(op.result)
		}
	}
}
