package message

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Procrustes/pkg/errors"
)

// JSContext defines the minimal subset of JetStream operations the service
// depends on. This allows tests to provide a mock without requiring a
// running NATS server.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error)
	StreamInfo(stream string) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error)
	ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error)
}

// JSSubscription abstracts the subscription operations the service uses.
// Implemented by the real nats.Subscription via adapter and by test doubles.
type JSSubscription interface {
	Unsubscribe() error
	Drain() error
	IsValid() bool
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// WrapNATSJetStream adapts a nats.JetStreamContext to the JSContext interface.
func WrapNATSJetStream(js nats.JetStreamContext) JSContext {
	return &natsJSAdapter{js: js}
}

type natsJSAdapter struct {
	js nats.JetStreamContext
}

func (a *natsJSAdapter) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.Publish(subj, data, opts...)
}

func (a *natsJSAdapter) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	sub, err := a.js.PullSubscribe(subj, durable, opts...)
	if err != nil {
		return nil, err
	}
	return &natsSubAdapter{sub: sub}, nil
}

func (a *natsJSAdapter) StreamInfo(stream string) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream)
}

func (a *natsJSAdapter) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg)
}

func (a *natsJSAdapter) ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error) {
	return a.js.ConsumerInfo(stream, consumer)
}

func (a *natsJSAdapter) AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	return a.js.AddConsumer(stream, cfg)
}

type natsSubAdapter struct {
	sub *nats.Subscription
}

func (s *natsSubAdapter) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s *natsSubAdapter) Drain() error       { return s.sub.Drain() }
func (s *natsSubAdapter) IsValid() bool      { return s.sub.IsValid() }
func (s *natsSubAdapter) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	return s.sub.Fetch(batch, opts...)
}

// BlobStorageClient stores payloads too large to travel inline.
type BlobStorageClient interface {
	Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
	Download(ctx context.Context, reference string) ([]byte, error)
}

const (
	// maxInlineSize is the threshold above which payloads are offloaded to
	// blob storage instead of traveling inline.
	maxInlineSize = 1 * 1024 * 1024

	publishRetryDelay = time.Second
)

// Service publishes jobs and results over JetStream and pulls jobs for
// processing, with acknowledgment handling and large-payload offload.
type Service struct {
	js                JSContext
	logger            *zap.Logger
	maxDeliver        int
	publishMaxRetries int
	resultStream      string
	resultSubject     string
	blobStorage       BlobStorageClient

	mu   sync.Mutex
	subs map[string]JSSubscription
}

// NewService creates a message service. Any implementation that satisfies
// JSContext (including a wrapped nats.JetStreamContext) can be used.
// maxDeliver controls redelivery attempts for consumers the service creates;
// publishMaxRetries controls how often a failed publish is retried.
func NewService(js JSContext, maxDeliver, publishMaxRetries int, resultStream, resultSubject string) (*Service, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context cannot be nil")
	}
	if maxDeliver <= 0 && maxDeliver != -1 {
		return nil, fmt.Errorf("maxDeliver must be positive or -1 for unlimited")
	}
	if publishMaxRetries < 0 {
		return nil, fmt.Errorf("publishMaxRetries cannot be negative")
	}
	if resultStream == "" {
		return nil, fmt.Errorf("result stream cannot be empty")
	}
	if resultSubject == "" {
		return nil, fmt.Errorf("result subject cannot be empty")
	}

	return &Service{
		js:                js,
		logger:            zap.NewNop(),
		maxDeliver:        maxDeliver,
		publishMaxRetries: publishMaxRetries,
		resultStream:      resultStream,
		resultSubject:     resultSubject,
		subs:              make(map[string]JSSubscription),
	}, nil
}

// SetLogger sets a custom zap logger for the service.
func (s *Service) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetBlobStorage sets the blob storage client used to offload large payloads.
func (s *Service) SetBlobStorage(bs BlobStorageClient) {
	s.blobStorage = bs
}

// EnsureStream creates the JetStream stream if it doesn't exist.
func (s *Service) EnsureStream(streamName string) error {
	info, err := s.js.StreamInfo(streamName)
	if err == nil {
		s.logger.Debug("JetStream stream already exists",
			zap.String("stream", streamName),
			zap.Uint64("messages", info.State.Msgs))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info for '%s': %w", streamName, err)
	}

	s.logger.Info("Creating JetStream stream", zap.String("stream", streamName))
	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{fmt.Sprintf("%s.*", streamName)},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", streamName, err)
	}
	return nil
}

// EnsureConsumer creates a durable pull consumer if it doesn't exist.
func (s *Service) EnsureConsumer(streamName, consumerName string) error {
	_, err := s.js.ConsumerInfo(streamName, consumerName)
	if err == nil {
		return nil
	}
	if err != nats.ErrConsumerNotFound {
		return fmt.Errorf("failed to get consumer info for '%s' on '%s': %w", consumerName, streamName, err)
	}

	s.logger.Info("Creating JetStream consumer",
		zap.String("stream", streamName),
		zap.String("consumer", consumerName))
	_, err = s.js.AddConsumer(streamName, &nats.ConsumerConfig{
		Durable:    consumerName,
		AckPolicy:  nats.AckExplicitPolicy,
		AckWait:    30 * time.Second,
		MaxDeliver: s.maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer '%s': %w", consumerName, err)
	}
	return nil
}

// PublishJob publishes a job to the given subject, retrying on failure. The
// stream owning the subject is created when missing. Jobs with documents
// larger than the inline threshold are offloaded to blob storage first.
func (s *Service) PublishJob(ctx context.Context, subject string, job *Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}

	if len(job.Data) > maxInlineSize {
		if err := s.offloadJobData(ctx, job); err != nil {
			return err
		}
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", sdkerrors.ErrInvalidJob, err)
	}

	stream := streamForSubject(subject)
	if err := s.EnsureStream(stream); err != nil {
		return err
	}

	data, err := job.ToBytes()
	if err != nil {
		return err
	}

	return s.publishWithRetry(ctx, subject, data, job.JobID)
}

// PullJobs fetches up to batch jobs from the durable consumer, creating the
// stream and consumer when missing. Messages that cannot be decoded are
// terminated so they are not redelivered forever.
func (s *Service) PullJobs(ctx context.Context, stream, consumer string, batch int) ([]*Job, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("batch must be greater than 0")
	}

	sub, err := s.subscription(stream, consumer)
	if err != nil {
		return nil, err
	}

	msgs, err := sub.Fetch(batch, nats.Context(ctx))
	if err != nil {
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	jobs := make([]*Job, 0, len(msgs))
	for _, msg := range msgs {
		job, err := JobFromNATSMsg(msg)
		if err != nil {
			s.logger.Warn("Discarding undecodable job message",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			if termErr := msg.Term(); termErr != nil {
				s.logger.Error("Failed to terminate bad message", zap.Error(termErr))
			}
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PublishResult publishes a result to the configured result subject and, on
// success, acknowledges the job's source message. Large CSV output is
// offloaded to blob storage before publishing.
func (s *Service) PublishResult(ctx context.Context, result *Result, job *Job) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}

	if len(result.CSV) > maxInlineSize {
		if err := s.offloadResultCSV(ctx, result); err != nil {
			return err
		}
	}

	if err := s.EnsureStream(s.resultStream); err != nil {
		return err
	}

	data, err := result.ToBytes()
	if err != nil {
		return err
	}

	if err := s.publishWithRetry(ctx, s.resultSubject, data, result.JobID); err != nil {
		return err
	}

	if job != nil {
		if ackErr := job.Ack(); ackErr != nil {
			s.logger.Error("Failed to ack job after publishing result",
				zap.String("jobId", job.JobID),
				zap.Error(ackErr))
		}
	}
	return nil
}

func (s *Service) publishWithRetry(ctx context.Context, subject string, data []byte, id string) error {
	var lastErr error
	for attempt := 0; attempt <= s.publishMaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("Retrying publish",
				zap.String("subject", subject),
				zap.String("id", id),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-time.After(publishRetryDelay):
			}
		}

		if _, lastErr = s.js.Publish(subject, data); lastErr == nil {
			s.logger.Debug("Published message",
				zap.String("subject", subject),
				zap.String("id", id),
				zap.Int("size", len(data)))
			return nil
		}
	}
	return fmt.Errorf("%w: subject '%s' after %d attempts: %v", sdkerrors.ErrPublishFailed, subject, s.publishMaxRetries+1, lastErr)
}

func (s *Service) subscription(stream, consumer string) (JSSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stream + "/" + consumer
	if sub, ok := s.subs[key]; ok && sub.IsValid() {
		return sub, nil
	}

	if err := s.EnsureStream(stream); err != nil {
		return nil, err
	}
	if err := s.EnsureConsumer(stream, consumer); err != nil {
		return nil, err
	}

	sub, err := s.js.PullSubscribe("", consumer, nats.Bind(stream, consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to '%s/%s': %w", stream, consumer, err)
	}
	s.subs[key] = sub
	return sub, nil
}

// Close drains all cached subscriptions.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to drain subscription %s: %w", key, err)
		}
		delete(s.subs, key)
	}
	return firstErr
}

func (s *Service) offloadJobData(ctx context.Context, job *Job) error {
	if s.blobStorage == nil {
		return fmt.Errorf("job %s exceeds inline size: %w", job.JobID, sdkerrors.ErrNoBlobStorage)
	}

	blobPath := path.Join("jobs", job.JobID, "document."+job.Format)
	url, err := s.blobStorage.Upload(ctx, blobPath, []byte(job.Data), map[string]string{
		"jobId":  job.JobID,
		"source": job.Source,
	})
	if err != nil {
		return fmt.Errorf("failed to offload job document: %w", err)
	}

	job.WithBlobReference(&BlobReference{URL: url, SizeBytes: len(job.Data)})
	job.Data = ""
	return nil
}

func (s *Service) offloadResultCSV(ctx context.Context, result *Result) error {
	if s.blobStorage == nil {
		return fmt.Errorf("result %s exceeds inline size: %w", result.JobID, sdkerrors.ErrNoBlobStorage)
	}

	blobPath := path.Join("results", result.JobID, "table.csv")
	url, err := s.blobStorage.Upload(ctx, blobPath, []byte(result.CSV), map[string]string{
		"jobId":  result.JobID,
		"status": result.Status,
	})
	if err != nil {
		return fmt.Errorf("failed to offload result: %w", err)
	}

	result.BlobReference = &BlobReference{URL: url, SizeBytes: len(result.CSV)}
	result.CSV = ""
	return nil
}

// streamForSubject extracts the stream name from a subject: the segment
// before the first dot, used as-is.
func streamForSubject(subject string) string {
	for i := 0; i < len(subject); i++ {
		if subject[i] == '.' {
			return subject[:i]
		}
	}
	return subject
}
