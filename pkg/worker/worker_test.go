package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Procrustes/pkg/message"
)

// stubJS implements message.JSContext with a fixed set of fetchable
// messages and captures everything published.
type stubJS struct {
	mu        sync.Mutex
	queued    []*nats.Msg
	published map[string][][]byte
}

func newStubJS(msgs ...*nats.Msg) *stubJS {
	return &stubJS{queued: msgs, published: make(map[string][][]byte)}
}

func (s *stubJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.published[subj] = append(s.published[subj], cp)
	return &nats.PubAck{}, nil
}

func (s *stubJS) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (message.JSSubscription, error) {
	return s, nil
}

func (s *stubJS) StreamInfo(stream string) (*nats.StreamInfo, error) {
	return &nats.StreamInfo{}, nil
}

func (s *stubJS) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return &nats.StreamInfo{}, nil
}

func (s *stubJS) ConsumerInfo(stream, consumer string) (*nats.ConsumerInfo, error) {
	return &nats.ConsumerInfo{}, nil
}

func (s *stubJS) AddConsumer(stream string, cfg *nats.ConsumerConfig) (*nats.ConsumerInfo, error) {
	return &nats.ConsumerInfo{}, nil
}

func (s *stubJS) Unsubscribe() error { return nil }
func (s *stubJS) Drain() error       { return nil }
func (s *stubJS) IsValid() bool      { return true }

func (s *stubJS) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) == 0 {
		return nil, nats.ErrTimeout
	}
	out := s.queued
	s.queued = nil
	return out, nil
}

func (s *stubJS) resultsFor(subject string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[subject]
}

func newTestWorker(t *testing.T, js message.JSContext) (*Worker, *message.Service) {
	t.Helper()
	svc, err := message.NewService(js, 5, 0, "RESULTS", "RESULTS.flatten")
	require.NoError(t, err)

	w, err := New(svc, NewFlattenProcessor(nil), "FLATTEN", "workers", 4, 1, 5*time.Second, zap.NewNop(), nil)
	require.NoError(t, err)
	return w, svc
}

func TestNew_Validation(t *testing.T) {
	js := newStubJS()
	svc, err := message.NewService(js, 5, 0, "RESULTS", "RESULTS.flatten")
	require.NoError(t, err)
	logger := zap.NewNop()
	proc := NewFlattenProcessor(nil)

	testCases := []struct {
		name string
		fn   func() (*Worker, error)
	}{
		{"nil service", func() (*Worker, error) {
			return New(nil, proc, "S", "c", 1, 1, time.Second, logger, nil)
		}},
		{"nil processor", func() (*Worker, error) {
			return New(svc, nil, "S", "c", 1, 1, time.Second, logger, nil)
		}},
		{"empty stream", func() (*Worker, error) {
			return New(svc, proc, "", "c", 1, 1, time.Second, logger, nil)
		}},
		{"empty consumer", func() (*Worker, error) {
			return New(svc, proc, "S", "", 1, 1, time.Second, logger, nil)
		}},
		{"zero batch", func() (*Worker, error) {
			return New(svc, proc, "S", "c", 0, 1, time.Second, logger, nil)
		}},
		{"zero workers", func() (*Worker, error) {
			return New(svc, proc, "S", "c", 1, 0, time.Second, logger, nil)
		}},
		{"zero timeout", func() (*Worker, error) {
			return New(svc, proc, "S", "c", 1, 1, 0, logger, nil)
		}},
		{"nil logger", func() (*Worker, error) {
			return New(svc, proc, "S", "c", 1, 1, time.Second, nil, nil)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := tc.fn()
			assert.Error(t, err)
			assert.Nil(t, w)
		})
	}
}

func TestWorker_ProcessesJobAndPublishesResult(t *testing.T) {
	job := message.NewJob("test", "json").WithData(`{"a": [1, 2]}`)
	jobBytes, err := job.ToBytes()
	require.NoError(t, err)

	js := newStubJS(&nats.Msg{Subject: "FLATTEN.jobs", Data: jobBytes})
	w, _ := newTestWorker(t, js)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(js.resultsFor("RESULTS.flatten")) == 1
	}, 3*time.Second, 20*time.Millisecond, "expected a result to be published")

	cancel()
	<-runDone

	results := js.resultsFor("RESULTS.flatten")
	decoded, err := message.ResultFromBytes(results[0])
	require.NoError(t, err)
	assert.True(t, decoded.IsSuccess())
	assert.Equal(t, job.JobID, decoded.JobID)
	assert.Equal(t, 2, decoded.Rows)
	assert.Equal(t, "a\n1\n2\n", decoded.CSV)
}

func TestWorker_ProcessingFailurePublishesFailedResult(t *testing.T) {
	job := message.NewJob("test", "json").WithData(`{"broken`)
	jobBytes, err := job.ToBytes()
	require.NoError(t, err)

	js := newStubJS(&nats.Msg{Subject: "FLATTEN.jobs", Data: jobBytes})
	w, _ := newTestWorker(t, js)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(js.resultsFor("RESULTS.flatten")) == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	<-runDone

	decoded, err := message.ResultFromBytes(js.resultsFor("RESULTS.flatten")[0])
	require.NoError(t, err)
	assert.False(t, decoded.IsSuccess())
	assert.NotEmpty(t, decoded.Error)
}

func TestWorker_EnsureTopology(t *testing.T) {
	js := newStubJS()
	w, _ := newTestWorker(t, js)
	assert.NoError(t, w.EnsureTopology())
}
