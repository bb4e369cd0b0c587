// Command procrustes flattens nested JSON or YAML documents into CSV.
//
// File mode (default) reads one document and writes CSV:
//
//	procrustes -format yaml -sep . -o out.csv document.yaml
//
// Serve mode runs the JetStream worker, consuming flatten jobs and
// publishing results:
//
//	procrustes -serve -stream FLATTEN -consumer flatten-worker
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	internalnats "github.com/wehubfusion/Procrustes/internal/nats"
	"github.com/wehubfusion/Procrustes/internal/tracing"
	"github.com/wehubfusion/Procrustes/pkg/decode"
	"github.com/wehubfusion/Procrustes/pkg/flatten"
	"github.com/wehubfusion/Procrustes/pkg/message"
	"github.com/wehubfusion/Procrustes/pkg/storage"
	"github.com/wehubfusion/Procrustes/pkg/tabular"
	"github.com/wehubfusion/Procrustes/pkg/worker"
)

func main() {
	var (
		format   = flag.String("format", "", "document format: json or yaml (default: inferred from file extension, json for stdin)")
		sep      = flag.String("sep", flatten.DefaultSeparator, "separator joining nested keys in flat column names")
		maxDepth = flag.Int("max-depth", 0, "maximum nesting depth, 0 for unlimited")
		missing  = flag.String("missing", "", "marker written into cells a row has no value for")
		titles   = flag.Bool("titles", false, "rewrite CSV headers as friendly titles")
		output   = flag.String("o", "", "output file (default: stdout)")
		serve    = flag.Bool("serve", false, "run as a JetStream worker instead of flattening a file")
		stream   = flag.String("stream", "FLATTEN", "JetStream stream to consume in serve mode")
		consumer = flag.String("consumer", "flatten-worker", "durable consumer name in serve mode")
		workers  = flag.Int("workers", 4, "worker goroutines in serve mode")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *serve {
		if err := runServe(logger, *stream, *consumer, *workers); err != nil {
			logger.Fatal("Worker failed", zap.Error(err))
		}
		return
	}

	if err := runFile(flag.Arg(0), *format, *sep, *maxDepth, *missing, *titles, *output); err != nil {
		fmt.Fprintf(os.Stderr, "procrustes: %v\n", err)
		os.Exit(1)
	}
}

// runFile flattens a single document from a file or stdin.
func runFile(inputPath, format, sep string, maxDepth int, missing string, titles bool, outputPath string) error {
	var data []byte
	var err error

	if inputPath == "" || inputPath == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", inputPath, err)
		}
	}

	if format == "" {
		format = inferFormat(inputPath)
	}

	tree, err := decode.Parse(format, data)
	if err != nil {
		return err
	}

	flattenOpts := []flatten.Option{flatten.WithSeparator(sep)}
	if maxDepth > 0 {
		flattenOpts = append(flattenOpts, flatten.WithMaxDepth(maxDepth))
	}
	rows, err := flatten.Flatten(tree, flattenOpts...)
	if err != nil {
		return err
	}

	renderOpts := []tabular.Option{tabular.WithMissing(missing)}
	if titles {
		renderOpts = append(renderOpts, tabular.WithHeader(tabular.TitleHeader))
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}

	return tabular.WriteCSV(out, rows, renderOpts...)
}

func inferFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// runServe runs the JetStream worker until interrupted. Connection and
// storage settings come from the environment: NATS_URL, RESULT_STREAM,
// RESULT_SUBJECT, AZURE_STORAGE_CONNECTION_STRING, BLOB_CONTAINER and
// OTLP_ENDPOINT.
func runServe(logger *zap.Logger, stream, consumer string, numWorkers int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsURL := envOr("NATS_URL", natsgo.DefaultURL)
	conn, err := internalnats.Connect(ctx, internalnats.DefaultConnectionConfig(natsURL), logger)
	if err != nil {
		return err
	}
	defer internalnats.Close(conn)

	js, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	service, err := message.NewService(
		message.WrapNATSJetStream(js),
		5, 3,
		envOr("RESULT_STREAM", "RESULTS"),
		envOr("RESULT_SUBJECT", "RESULTS.flatten"),
	)
	if err != nil {
		return err
	}
	service.SetLogger(logger)
	defer service.Close()

	var blob message.BlobStorageClient
	if cs := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); cs != "" {
		client, err := storage.NewAzureBlobClient(cs, envOr("BLOB_CONTAINER", "procrustes"), logger)
		if err != nil {
			return err
		}
		blob = client
		service.SetBlobStorage(blob)
	}

	var tracingConfig *tracing.Config
	if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
		cfg := tracing.DefaultConfig("procrustes")
		cfg.OTLPEndpoint = endpoint
		tracingConfig = &cfg
	}

	w, err := worker.New(service, worker.NewFlattenProcessor(blob), stream, consumer,
		16, numWorkers, 30*time.Second, logger, tracingConfig)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.EnsureTopology(); err != nil {
		return err
	}

	logger.Info("Worker running",
		zap.String("stream", stream),
		zap.String("consumer", consumer),
		zap.Int("workers", numWorkers))

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
