// Package worker runs the flatten pipeline against a NATS JetStream stream.
// It pulls jobs in batches, distributes them to worker goroutines and
// publishes a result per job, with optional OpenTelemetry tracing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Procrustes/internal/tracing"
	"github.com/wehubfusion/Procrustes/pkg/message"
)

// Worker manages concurrent job processing from a JetStream consumer.
type Worker struct {
	service         *message.Service
	processor       Processor
	stream          string
	consumer        string
	batchSize       int
	numWorkers      int
	processTimeout  time.Duration
	logger          *zap.Logger
	tracer          trace.Tracer
	tracingShutdown func(context.Context) error
}

// New creates a Worker. The service must be backed by a connected JetStream
// context. tracingConfig is optional; when provided, tracing is set up and
// torn down with the worker.
func New(service *message.Service, processor Processor, stream, consumer string, batchSize, numWorkers int, processTimeout time.Duration, logger *zap.Logger, tracingConfig *tracing.Config) (*Worker, error) {
	if service == nil {
		return nil, errors.New("service cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	if consumer == "" {
		return nil, errors.New("consumer name cannot be empty")
	}
	if batchSize <= 0 {
		return nil, errors.New("batchSize must be greater than 0")
	}
	if numWorkers <= 0 {
		return nil, errors.New("numWorkers must be greater than 0")
	}
	if processTimeout <= 0 {
		return nil, errors.New("processTimeout must be greater than 0")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	w := &Worker{
		service:        service,
		processor:      processor,
		stream:         stream,
		consumer:       consumer,
		batchSize:      batchSize,
		numWorkers:     numWorkers,
		processTimeout: processTimeout,
		logger:         logger,
		tracer:         otel.Tracer("procrustes/worker"),
	}

	if tracingConfig != nil {
		shutdown, err := tracing.Setup(context.Background(), *tracingConfig, logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without it", zap.Error(err))
		} else {
			w.tracingShutdown = shutdown
		}
	}

	return w, nil
}

// Close shuts down tracing if it was set up.
func (w *Worker) Close() error {
	if w.tracingShutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.tracingShutdown(ctx); err != nil {
		w.logger.Error("Error shutting down tracing", zap.Error(err))
		return err
	}
	return nil
}

// Run starts the processing pipeline and blocks until the context is
// cancelled and all workers have drained.
func (w *Worker) Run(ctx context.Context) error {
	jobChan := make(chan *message.Job, w.batchSize)

	var wg sync.WaitGroup
	for i := 0; i < w.numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.loop(ctx, workerID, jobChan)
		}(i)
	}

	go w.pull(ctx, jobChan)

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		w.logger.Info("Worker completed")
		return nil
	case <-ctx.Done():
		w.logger.Info("Worker stopped due to context cancellation")
		return ctx.Err()
	}
}

// pull fetches job batches and feeds the worker channel, backing off on
// errors and idle fetches.
func (w *Worker) pull(ctx context.Context, jobChan chan<- *message.Job) {
	defer close(jobChan)

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down job puller")
			return
		default:
		}

		jobs, err := w.service.PullJobs(ctx, w.stream, w.consumer, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Error pulling jobs", zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond

		if len(jobs) == 0 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, job := range jobs {
			select {
			case jobChan <- job:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) loop(ctx context.Context, workerID int, jobChan <-chan *message.Job) {
	w.logger.Info("Worker started", zap.Int("workerID", workerID))
	defer w.logger.Info("Worker stopped", zap.Int("workerID", workerID))

	for {
		select {
		case job, ok := <-jobChan:
			if !ok {
				return
			}
			w.processJob(ctx, workerID, job)
		case <-ctx.Done():
			return
		}
	}
}

// processJob runs the processor on one job and publishes its result. A
// processing failure produces a failed result rather than a redelivery: the
// failure is the outcome of the job. Only a failure to publish the result
// naks the job so it is retried.
func (w *Worker) processJob(ctx context.Context, workerID int, job *message.Job) {
	ctx, span := w.tracer.Start(ctx, "worker.processJob",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.id", job.JobID),
			attribute.String("job.format", job.Format),
			attribute.String("stream", w.stream),
			attribute.String("consumer", w.consumer),
		))
	defer span.End()

	processCtx, cancel := context.WithTimeout(ctx, w.processTimeout)
	defer cancel()

	start := time.Now()
	w.logger.Info("Processing job",
		zap.Int("workerID", workerID),
		zap.String("jobID", job.JobID),
		zap.String("source", job.Source))

	result, processErr := w.processor.Process(processCtx, job)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("processing.duration_ms", elapsed.Milliseconds()))

	if processErr != nil {
		span.RecordError(processErr)
		span.SetStatus(codes.Error, processErr.Error())

		w.logger.Error("Error processing job",
			zap.Int("workerID", workerID),
			zap.String("jobID", job.JobID),
			zap.Duration("processingTime", elapsed),
			zap.Error(processErr))

		result = message.NewResult(job.JobID, message.StatusFailed).
			WithError(processErr).
			WithDuration(elapsed)
	} else {
		span.SetStatus(codes.Ok, "Job processed")
		span.SetAttributes(
			attribute.Int("result.rows", result.Rows),
			attribute.Int("result.columns", result.Columns),
		)
		w.logger.Info("Processed job",
			zap.Int("workerID", workerID),
			zap.String("jobID", job.JobID),
			zap.Int("rows", result.Rows),
			zap.Int("columns", result.Columns),
			zap.Duration("processingTime", elapsed))
	}

	// Result publishing uses its own timeout so a cancelled parent context
	// does not lose the outcome of work already done.
	publishCtx, publishCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer publishCancel()

	if err := w.service.PublishResult(publishCtx, result, job); err != nil {
		w.logger.Error("Error publishing result",
			zap.Int("workerID", workerID),
			zap.String("jobID", job.JobID),
			zap.Error(err))
		if nakErr := job.Nak(); nakErr != nil {
			w.logger.Error("Error naking job after publish failure",
				zap.Int("workerID", workerID),
				zap.Error(nakErr))
		}
	}
}

// EnsureTopology creates the worker's stream and consumer up front so the
// first pull does not race topology creation.
func (w *Worker) EnsureTopology() error {
	if err := w.service.EnsureStream(w.stream); err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	if err := w.service.EnsureConsumer(w.stream, w.consumer); err != nil {
		return fmt.Errorf("failed to ensure consumer: %w", err)
	}
	return nil
}
