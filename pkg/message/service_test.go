package message

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/wehubfusion/Procrustes/pkg/errors"
)

// mockJS implements JSContext in memory.
type mockJS struct {
	mu            sync.Mutex
	streams       map[string]bool
	consumers     map[string]bool
	published     map[string][][]byte
	failPublishes int
	sub           *mockSub
}

func newMockJS() *mockJS {
	return &mockJS{
		streams:   make(map[string]bool),
		consumers: make(map[string]bool),
		published: make(map[string][][]byte),
		sub:       &mockSub{},
	}
}

func (m *mockJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPublishes > 0 {
		m.failPublishes--
		return nil, errors.New("publish failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.published[subj] = append(m.published[subj], cp)
	return &nats.PubAck{Stream: "mock"}, nil
}

func (m *mockJS) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	return m.sub, nil
}

func (m *mockJS) StreamInfo(stream string) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.streams[stream] {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{}, nil
}

func (m *mockJS) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[cfg.Name] = true
	return &nats.StreamInfo{}, nil
}

func (m *mockJS) ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.consumers[stream+"/"+consumer] {
		return nil, nats.ErrConsumerNotFound
	}
	return &nats.ConsumerInfo{}, nil
}

func (m *mockJS) AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[stream+"/"+cfg.Durable] = true
	return &nats.ConsumerInfo{}, nil
}

func (m *mockJS) publishedTo(subject string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[subject]
}

// mockSub returns its queued messages once, then times out.
type mockSub struct {
	mu   sync.Mutex
	msgs []*nats.Msg
}

func (s *mockSub) Unsubscribe() error { return nil }
func (s *mockSub) Drain() error       { return nil }
func (s *mockSub) IsValid() bool      { return true }
func (s *mockSub) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return nil, nats.ErrTimeout
	}
	if batch > len(s.msgs) {
		batch = len(s.msgs)
	}
	out := s.msgs[:batch]
	s.msgs = s.msgs[batch:]
	return out, nil
}

// mockBlob records uploads in memory.
type mockBlob struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func newMockBlob() *mockBlob {
	return &mockBlob{uploads: make(map[string][]byte)}
}

func (b *mockBlob) Upload(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads[blobPath] = data
	return "https://blob.local/" + blobPath, nil
}

func (b *mockBlob) Download(ctx context.Context, reference string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := strings.TrimPrefix(reference, "https://blob.local/")
	data, ok := b.uploads[path]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func newTestService(t *testing.T, js JSContext) *Service {
	t.Helper()
	svc, err := NewService(js, 5, 1, "RESULTS", "RESULTS.flatten")
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	js := newMockJS()

	_, err := NewService(nil, 5, 1, "RESULTS", "RESULTS.flatten")
	assert.Error(t, err)

	_, err = NewService(js, 0, 1, "RESULTS", "RESULTS.flatten")
	assert.Error(t, err)

	_, err = NewService(js, 5, -1, "RESULTS", "RESULTS.flatten")
	assert.Error(t, err)

	_, err = NewService(js, 5, 1, "", "RESULTS.flatten")
	assert.Error(t, err)

	_, err = NewService(js, 5, 1, "RESULTS", "")
	assert.Error(t, err)

	svc, err := NewService(js, -1, 0, "RESULTS", "RESULTS.flatten")
	assert.NoError(t, err, "maxDeliver -1 means unlimited")
	assert.NotNil(t, svc)
}

func TestPublishJob_CreatesStreamAndPublishes(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)

	job := NewJob("src", "json").WithData(`{"a": 1}`)
	err := svc.PublishJob(context.Background(), "FLATTEN.jobs", job)
	require.NoError(t, err)

	assert.True(t, js.streams["FLATTEN"], "stream should be created from the subject prefix")

	published := js.publishedTo("FLATTEN.jobs")
	require.Len(t, published, 1)

	decoded, err := JobFromBytes(published[0])
	require.NoError(t, err)
	assert.Equal(t, job.JobID, decoded.JobID)
}

func TestPublishJob_InvalidJob(t *testing.T) {
	svc := newTestService(t, newMockJS())

	err := svc.PublishJob(context.Background(), "FLATTEN.jobs", NewJob("src", "json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job")
}

func TestPublishJob_RetriesOnFailure(t *testing.T) {
	js := newMockJS()
	js.failPublishes = 1
	svc := newTestService(t, js)

	job := NewJob("src", "json").WithData(`{"a": 1}`)
	err := svc.PublishJob(context.Background(), "FLATTEN.jobs", job)
	require.NoError(t, err, "one failure should be absorbed by the retry")
	assert.Len(t, js.publishedTo("FLATTEN.jobs"), 1)
}

func TestPublishJob_OffloadsLargeDocument(t *testing.T) {
	js := newMockJS()
	blob := newMockBlob()
	svc := newTestService(t, js)
	svc.SetBlobStorage(blob)

	big := strings.Repeat("x", maxInlineSize+1)
	job := NewJob("src", "json").WithData(big)

	err := svc.PublishJob(context.Background(), "FLATTEN.jobs", job)
	require.NoError(t, err)

	published := js.publishedTo("FLATTEN.jobs")
	require.Len(t, published, 1)

	decoded, err := JobFromBytes(published[0])
	require.NoError(t, err)
	assert.Empty(t, decoded.Data, "inline data should be cleared after offload")
	require.NotNil(t, decoded.BlobReference)
	assert.Equal(t, len(big), decoded.BlobReference.SizeBytes)

	stored, err := blob.Download(context.Background(), decoded.BlobReference.URL)
	require.NoError(t, err)
	assert.Equal(t, big, string(stored))
}

func TestPublishJob_LargeDocumentWithoutBlobStorage(t *testing.T) {
	svc := newTestService(t, newMockJS())

	job := NewJob("src", "json").WithData(strings.Repeat("x", maxInlineSize+1))
	err := svc.PublishJob(context.Background(), "FLATTEN.jobs", job)
	require.Error(t, err)
	assert.True(t, sdkerrors.IsNoBlobStorage(err))
}

func TestPullJobs_DecodesAndSkipsBadMessages(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)

	good := NewJob("src", "json").WithData(`{"a": 1}`)
	goodBytes, err := good.ToBytes()
	require.NoError(t, err)

	js.sub.msgs = []*nats.Msg{
		{Subject: "FLATTEN.jobs", Data: goodBytes},
		{Subject: "FLATTEN.jobs", Data: []byte("not json")},
	}

	jobs, err := svc.PullJobs(context.Background(), "FLATTEN", "workers", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, good.JobID, jobs[0].JobID)
	assert.True(t, js.consumers["FLATTEN/workers"], "consumer should be created")
}

func TestPullJobs_TimeoutMeansNoJobs(t *testing.T) {
	svc := newTestService(t, newMockJS())

	jobs, err := svc.PullJobs(context.Background(), "FLATTEN", "workers", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestPublishResult(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)

	result := NewResult("job-1", StatusCompleted).WithTable("a\n1\n", 1, 1)
	err := svc.PublishResult(context.Background(), result, nil)
	require.NoError(t, err)

	published := js.publishedTo("RESULTS.flatten")
	require.Len(t, published, 1)

	decoded, err := ResultFromBytes(published[0])
	require.NoError(t, err)
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, "a\n1\n", decoded.CSV)
}

func TestPublishResult_OffloadsLargeCSV(t *testing.T) {
	js := newMockJS()
	blob := newMockBlob()
	svc := newTestService(t, js)
	svc.SetBlobStorage(blob)

	bigCSV := "col\n" + strings.Repeat("v\n", maxInlineSize)
	result := NewResult("job-2", StatusCompleted).WithTable(bigCSV, maxInlineSize, 1)

	err := svc.PublishResult(context.Background(), result, nil)
	require.NoError(t, err)

	published := js.publishedTo("RESULTS.flatten")
	require.Len(t, published, 1)

	decoded, err := ResultFromBytes(published[0])
	require.NoError(t, err)
	assert.Empty(t, decoded.CSV)
	require.NotNil(t, decoded.BlobReference)

	stored, err := blob.Download(context.Background(), decoded.BlobReference.URL)
	require.NoError(t, err)
	assert.Equal(t, bigCSV, string(stored))
}
