// Package message defines the job and result envelopes exchanged over NATS
// JetStream, plus the service that publishes and consumes them.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// BlobReference points at a payload stored out of band. When a document or a
// rendered result is too large to send inline, it is uploaded to blob
// storage and a BlobReference travels in the envelope instead.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes"`
}

// FlattenSpec carries flatten and rendering options with a job so the
// submitter controls how its document is flattened.
type FlattenSpec struct {
	// Separator joins nested keys in flat column names. Empty means the
	// engine default.
	Separator string `json:"separator,omitempty"`

	// MaxDepth bounds nesting depth. Zero means unbounded.
	MaxDepth int `json:"maxDepth,omitempty"`

	// Missing is the marker written into CSV cells a row has no value for.
	Missing string `json:"missing,omitempty"`

	// TitleHeaders rewrites CSV headers as friendly titles.
	TitleHeaders bool `json:"titleHeaders,omitempty"`
}

// Job is a request to flatten one document into CSV.
type Job struct {
	// JobID uniquely identifies the job across the system.
	JobID string `json:"jobId"`

	// Source names the submitter, for logging and result correlation.
	Source string `json:"source,omitempty"`

	// Format is the document format: "json" or "yaml".
	Format string `json:"format"`

	// Data holds the document inline when it is small enough.
	Data string `json:"data,omitempty"`

	// BlobReference points at the document when it was offloaded.
	BlobReference *BlobReference `json:"blobReference,omitempty"`

	// Flatten carries the flatten and rendering options.
	Flatten FlattenSpec `json:"flatten,omitempty"`

	// Metadata holds additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`

	// natsMsg holds the original NATS message for acknowledgment (not serialized)
	natsMsg *nats.Msg
}

// NewJob creates a job with a generated id and timestamps.
func NewJob(source, format string) *Job {
	now := time.Now().Format(time.RFC3339)
	return &Job{
		JobID:     uuid.NewString(),
		Source:    source,
		Format:    format,
		Metadata:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithData sets the inline document.
func (j *Job) WithData(data string) *Job {
	j.Data = data
	j.UpdatedAt = time.Now().Format(time.RFC3339)
	return j
}

// WithBlobReference points the job at an offloaded document.
func (j *Job) WithBlobReference(ref *BlobReference) *Job {
	j.BlobReference = ref
	j.UpdatedAt = time.Now().Format(time.RFC3339)
	return j
}

// WithFlatten sets the flatten options.
func (j *Job) WithFlatten(spec FlattenSpec) *Job {
	j.Flatten = spec
	j.UpdatedAt = time.Now().Format(time.RFC3339)
	return j
}

// WithMetadata adds a metadata pair.
func (j *Job) WithMetadata(key, value string) *Job {
	if j.Metadata == nil {
		j.Metadata = make(map[string]string)
	}
	j.Metadata[key] = value
	j.UpdatedAt = time.Now().Format(time.RFC3339)
	return j
}

// HasInlineData reports whether the document travels inline.
func (j *Job) HasInlineData() bool { return j.Data != "" }

// Validate checks the envelope is complete enough to process.
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.Format == "" {
		return fmt.Errorf("format is required")
	}
	if j.Data == "" && j.BlobReference == nil {
		return fmt.Errorf("job carries neither inline data nor a blob reference")
	}
	return nil
}

// ToBytes serializes the job to JSON.
func (j *Job) ToBytes() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromBytes deserializes a job from JSON.
func JobFromBytes(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &j, nil
}

// JobFromNATSMsg deserializes a job and retains the underlying NATS message
// so the consumer can acknowledge it.
func JobFromNATSMsg(natsMsg *nats.Msg) (*Job, error) {
	j, err := JobFromBytes(natsMsg.Data)
	if err != nil {
		return nil, err
	}
	j.natsMsg = natsMsg
	return j, nil
}

// Ack acknowledges the underlying NATS message, if any.
func (j *Job) Ack() error {
	if j.natsMsg == nil {
		return nil
	}
	return j.natsMsg.Ack()
}

// Nak negatively acknowledges the underlying NATS message so it is
// redelivered.
func (j *Job) Nak() error {
	if j.natsMsg == nil {
		return nil
	}
	return j.natsMsg.Nak()
}

// Term terminates delivery of the underlying NATS message.
func (j *Job) Term() error {
	if j.natsMsg == nil {
		return nil
	}
	return j.natsMsg.Term()
}

// NATSMsg returns the underlying NATS message, or nil.
func (j *Job) NATSMsg() *nats.Msg { return j.natsMsg }

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result reports the outcome of one flatten job.
type Result struct {
	// JobID matches the job this result belongs to.
	JobID string `json:"jobId"`

	// Status is StatusCompleted or StatusFailed.
	Status string `json:"status"`

	// Rows and Columns describe the rendered table.
	Rows    int `json:"rows"`
	Columns int `json:"columns"`

	// CSV holds the rendered output inline when small enough.
	CSV string `json:"csv,omitempty"`

	// BlobReference points at the output when it was offloaded.
	BlobReference *BlobReference `json:"blobReference,omitempty"`

	// Error describes the failure for StatusFailed results.
	Error string `json:"error,omitempty"`

	// DurationMs is the processing time in milliseconds.
	DurationMs int64 `json:"durationMs"`

	CompletedAt string `json:"completedAt"`
}

// NewResult creates a result for the given job id.
func NewResult(jobID, status string) *Result {
	return &Result{
		JobID:       jobID,
		Status:      status,
		CompletedAt: time.Now().Format(time.RFC3339),
	}
}

// WithTable records the rendered CSV and its dimensions.
func (r *Result) WithTable(csv string, rows, columns int) *Result {
	r.CSV = csv
	r.Rows = rows
	r.Columns = columns
	return r
}

// WithBlobReference points the result at offloaded output.
func (r *Result) WithBlobReference(ref *BlobReference) *Result {
	r.BlobReference = ref
	return r
}

// WithError marks the result failed with the given cause.
func (r *Result) WithError(err error) *Result {
	r.Status = StatusFailed
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// WithDuration records the processing time.
func (r *Result) WithDuration(d time.Duration) *Result {
	r.DurationMs = d.Milliseconds()
	return r
}

// IsSuccess reports whether the job completed.
func (r *Result) IsSuccess() bool { return r.Status == StatusCompleted }

// ToBytes serializes the result to JSON.
func (r *Result) ToBytes() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return data, nil
}

// ResultFromBytes deserializes a result from JSON.
func ResultFromBytes(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &r, nil
}
