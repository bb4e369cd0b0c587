package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/wehubfusion/Procrustes/pkg/decode"
	"github.com/wehubfusion/Procrustes/pkg/flatten"
	"github.com/wehubfusion/Procrustes/pkg/message"
	"github.com/wehubfusion/Procrustes/pkg/tabular"
)

// Processor turns one job into one result.
type Processor interface {
	Process(ctx context.Context, job *message.Job) (*message.Result, error)
}

// FlattenProcessor is the default Processor: it resolves the job's document,
// decodes it, flattens it and renders CSV.
type FlattenProcessor struct {
	blob message.BlobStorageClient
}

// NewFlattenProcessor creates a processor. blob may be nil when all jobs
// carry their documents inline.
func NewFlattenProcessor(blob message.BlobStorageClient) *FlattenProcessor {
	return &FlattenProcessor{blob: blob}
}

// Process implements Processor.
func (p *FlattenProcessor) Process(ctx context.Context, job *message.Job) (*message.Result, error) {
	start := time.Now()

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	raw, err := p.resolveDocument(ctx, job)
	if err != nil {
		return nil, err
	}

	tree, err := decode.Parse(job.Format, raw)
	if err != nil {
		return nil, err
	}

	var flattenOpts []flatten.Option
	if job.Flatten.Separator != "" {
		flattenOpts = append(flattenOpts, flatten.WithSeparator(job.Flatten.Separator))
	}
	if job.Flatten.MaxDepth > 0 {
		flattenOpts = append(flattenOpts, flatten.WithMaxDepth(job.Flatten.MaxDepth))
	}

	rows, err := flatten.Flatten(tree, flattenOpts...)
	if err != nil {
		return nil, err
	}

	var renderOpts []tabular.Option
	if job.Flatten.Missing != "" {
		renderOpts = append(renderOpts, tabular.WithMissing(job.Flatten.Missing))
	}
	if job.Flatten.TitleHeaders {
		renderOpts = append(renderOpts, tabular.WithHeader(tabular.TitleHeader))
	}

	csv, err := tabular.RenderCSV(rows, renderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to render csv: %w", err)
	}

	result := message.NewResult(job.JobID, message.StatusCompleted).
		WithTable(csv, len(rows), len(tabular.Columns(rows))).
		WithDuration(time.Since(start))
	return result, nil
}

func (p *FlattenProcessor) resolveDocument(ctx context.Context, job *message.Job) ([]byte, error) {
	if job.HasInlineData() {
		return []byte(job.Data), nil
	}

	if p.blob == nil {
		return nil, fmt.Errorf("job %s references blob storage but none is configured", job.JobID)
	}

	data, err := p.blob.Download(ctx, job.BlobReference.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document for job %s: %w", job.JobID, err)
	}
	return data, nil
}
