// Package ingest orchestrates the document pipeline: trusted fetch, blob
// archival, document upsert, chunking. One bad source never halts the
// pipeline; per-document failures are recorded and reported.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/clearlane/tariffcore/pkg/blob"
	"github.com/clearlane/tariffcore/pkg/chunker"
	"github.com/clearlane/tariffcore/pkg/connector"
	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/observability"
)

// Options tune the orchestrator.
type Options struct {
	MaxAttempts      int           // transport retries per URL, default 3
	InitialBackoff   time.Duration // doubled per attempt, default 1s
	ConnectorTimeout time.Duration // per-fetch HTTP timeout
	Chunking         chunker.Options
	Timeline         *observability.AuditTimeline // optional
}

// Report is the outcome of one ingestion job.
type Report struct {
	Connector      string
	URL            string
	Success        bool
	Error          string
	DocumentID     string
	CanonicalID    string
	Created        bool
	ContentChanged bool
	StorageURI     string
	ChunkCount     int
	Attempts       int
}

// Orchestrator runs the fetch→store→chunk pipeline.
type Orchestrator struct {
	docs    *docstore.Store
	blobs   blob.Store
	opts    Options
	logger  *slog.Logger
	ingests metric.Int64Counter
	errors  metric.Int64Counter
	chunks  metric.Int64Counter
}

// New creates an orchestrator over the given stores.
func New(docs *docstore.Store, blobs blob.Store, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.Chunking == (chunker.Options{}) {
		opts.Chunking = chunker.DefaultOptions()
	}

	meter := otel.Meter("tariffcore.ingest")
	ingests, _ := meter.Int64Counter("tariffcore.ingest.documents",
		metric.WithDescription("Documents ingested"), metric.WithUnit("{document}"))
	errors, _ := meter.Int64Counter("tariffcore.ingest.errors",
		metric.WithDescription("Ingestion failures"), metric.WithUnit("{error}"))
	chunks, _ := meter.Int64Counter("tariffcore.ingest.chunks",
		metric.WithDescription("Chunks written"), metric.WithUnit("{chunk}"))

	return &Orchestrator{
		docs:    docs,
		blobs:   blobs,
		opts:    opts,
		logger:  slog.Default().With("component", "ingest"),
		ingests: ingests,
		errors:  errors,
		chunks:  chunks,
	}
}

// IngestURL fetches one URL through a named connector and runs the full
// pipeline. Transport failures are retried with exponential backoff;
// trust refusals are returned immediately and never retried.
func (o *Orchestrator) IngestURL(ctx context.Context, connectorName, rawURL string) (*Report, error) {
	conn, ok := connector.ByName(connectorName, o.opts.ConnectorTimeout)
	if !ok {
		return nil, fmt.Errorf("ingest: unknown connector %q", connectorName)
	}
	return o.Ingest(ctx, conn, rawURL)
}

// Ingest runs the pipeline with an explicit connector.
func (o *Orchestrator) Ingest(ctx context.Context, conn connector.Connector, rawURL string) (*Report, error) {
	report := &Report{Connector: conn.Name(), URL: rawURL}
	attrs := metric.WithAttributes(attribute.String("connector", conn.Name()))

	res, err := o.fetchWithRetry(ctx, conn, rawURL, report)
	if err != nil {
		o.errors.Add(ctx, 1, attrs)
		return report, err
	}
	if !res.Success {
		report.Error = res.Error
		o.errors.Add(ctx, 1, attrs)
		o.timeline(observability.TimelineEntry{
			Kind:    observability.KindIngestion,
			Summary: fmt.Sprintf("fetch failed after %d attempts: %s", report.Attempts, res.Error),
			Details: map[string]interface{}{"connector": conn.Name(), "url": rawURL},
		})
		return report, nil
	}

	key := blob.Key(res.Source, res.CanonicalID, res.RawBytes, extFor(res.ContentType))
	uri, err := o.blobs.Put(ctx, key, res.RawBytes, res.ContentType)
	if err != nil {
		o.errors.Add(ctx, 1, attrs)
		return report, fmt.Errorf("ingest: store blob: %w", err)
	}
	report.StorageURI = uri

	doc := &docstore.Document{
		ID:             res.DocumentID,
		Source:         res.Source,
		Tier:           res.Tier,
		ConnectorName:  res.ConnectorName,
		CanonicalID:    res.CanonicalID,
		URL:            res.URL,
		Title:          res.Title,
		PublishedAt:    res.PublishedAt,
		EffectiveStart: res.EffectiveStart,
		SHA256Raw:      res.SHA256,
		StorageURI:     uri,
		ExtractedText:  res.ExtractedText,
		HTSCodes:       res.HTSCodes,
		Programs:       res.Programs,
		FetchLogs:      []docstore.FetchLog{res.FetchLog},
	}
	up, err := o.docs.Upsert(ctx, doc)
	if err != nil {
		o.errors.Add(ctx, 1, attrs)
		return report, err
	}
	report.Success = true
	report.DocumentID = up.Document.ID
	report.CanonicalID = up.Document.CanonicalID
	report.Created = up.Created
	report.ContentChanged = up.ContentChanged

	// Unchanged content keeps its existing chunks.
	if up.Created || up.ContentChanged {
		n, err := o.rechunk(ctx, up.Document.ID, res.ExtractedText)
		if err != nil {
			return report, err
		}
		report.ChunkCount = n
		o.chunks.Add(ctx, int64(n), attrs)
	}

	o.ingests.Add(ctx, 1, attrs)
	o.timeline(observability.TimelineEntry{
		Kind:       observability.KindIngestion,
		DocumentID: report.DocumentID,
		Summary:    fmt.Sprintf("ingested %s", report.CanonicalID),
		Details: map[string]interface{}{
			"connector": conn.Name(),
			"created":   report.Created,
			"changed":   report.ContentChanged,
			"chunks":    report.ChunkCount,
		},
	})
	o.logger.Info("ingested document",
		"connector", conn.Name(), "canonical_id", report.CanonicalID,
		"created", report.Created, "chunks", report.ChunkCount)
	return report, nil
}

// fetchWithRetry retries transport failures with doubled backoff. Trust
// refusals surface immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, conn connector.Connector, rawURL string, report *Report) (*connector.Result, error) {
	backoff := o.opts.InitialBackoff
	var last *connector.Result
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		report.Attempts = attempt
		res, err := conn.Fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if res.Success {
			return res, nil
		}
		last = res
		o.logger.Warn("fetch failed",
			"connector", conn.Name(), "url", rawURL,
			"attempt", attempt, "error", res.Error)
		if attempt == o.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return last, nil
}

// rechunk splits the text and replaces the document's chunks in a single
// transaction. An empty extraction marks the document failed instead.
func (o *Orchestrator) rechunk(ctx context.Context, documentID, text string) (int, error) {
	if text == "" {
		if err := o.docs.MarkExtractionFailed(ctx, documentID); err != nil {
			return 0, err
		}
		return 0, nil
	}
	parts, err := chunker.Split(text, o.opts.Chunking)
	if err != nil {
		if markErr := o.docs.MarkExtractionFailed(ctx, documentID); markErr != nil {
			return 0, markErr
		}
		o.logger.Warn("chunking failed", "document_id", documentID, "error", err)
		return 0, nil
	}

	chunks := make([]docstore.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = docstore.Chunk{
			DocumentID: documentID,
			ChunkIndex: p.Index,
			CharStart:  p.CharStart,
			CharEnd:    p.CharEnd,
			Text:       p.Text,
			TextHash:   p.TextHash,
		}
	}
	if err := o.docs.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// ReindexChunks re-runs the chunker over every stored document. Used
// after a chunking option change.
func (o *Orchestrator) ReindexChunks(ctx context.Context) (docs, chunks int, err error) {
	ids, err := o.docs.ListIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return docs, chunks, err
		}
		doc, err := o.docs.Get(ctx, id)
		if err != nil {
			return docs, chunks, err
		}
		if doc == nil || doc.ExtractionFailed {
			continue
		}
		n, err := o.rechunk(ctx, doc.ID, doc.ExtractedText)
		if err != nil {
			o.logger.Warn("reindex failed", "document_id", id, "error", err)
			continue
		}
		docs++
		chunks += n
	}
	return docs, chunks, nil
}

func (o *Orchestrator) timeline(entry observability.TimelineEntry) {
	if o.opts.Timeline == nil {
		return
	}
	if err := o.opts.Timeline.Record(entry); err != nil {
		o.logger.Warn("timeline record failed", "error", err)
	}
}

func extFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "html"):
		return ".html"
	case strings.Contains(contentType, "pdf"):
		return ".pdf"
	case strings.Contains(contentType, "json"):
		return ".json"
	case strings.Contains(contentType, "text"):
		return ".txt"
	default:
		return ""
	}
}
