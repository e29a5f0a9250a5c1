// Package observability provides OpenTelemetry tracing and metrics for
// the tariff services, plus an in-memory audit timeline for decision
// replay during review.
//
// # Provider
//
// Initialize a provider at startup and shut it down on exit:
//
//	obs, err := observability.New(ctx, observability.DefaultConfig())
//	defer obs.Shutdown(ctx)
//
// Wrap an operation so its duration, outcome, and error (if any) are
// recorded on one span:
//
//	ctx, done := obs.TrackOperation(ctx, "ingest.fetch",
//		observability.IngestOperation("csms", id, created, chunks)...)
//	defer done(err)
//
// # Audit timeline
//
// AuditTimeline records calculation and verification events in memory,
// ordered by time, for the review tooling to query:
//
//	tl := observability.NewAuditTimeline()
//	tl.Record(observability.TimelineEntry{Kind: "calculation", Ref: auditHash})
package observability
