// Package pipeline sequences one sentinel run: fetch every source, dedupe the
// leads, enrich them, deliver the digest and write the run log.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/dedup"
	"github.com/JakeFAU/municipal-sentinel/internal/metrics"
	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
	"github.com/JakeFAU/municipal-sentinel/internal/sniper"
)

// State names a step of the run state machine.
type State string

// Run states in the order they are entered.
const (
	StateFetching      State = "fetching"
	StateDeduplicating State = "deduplicating"
	StateEnriching     State = "enriching"
	StateNotifying     State = "notifying"
	StateLogging       State = "logging"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

var tracer = otel.Tracer("github.com/JakeFAU/municipal-sentinel/internal/pipeline")

// Sources holds the six snipers. A nil source is skipped.
type Sources struct {
	Enforcement sniper.Source[sentinel.Lead]
	Licenses    sniper.Source[sentinel.Lead]
	Dockets     sniper.Source[sentinel.LegislativeAlert]
	Integrity   sniper.Source[sentinel.IntegrityRisk]
	Renewal     sniper.Source[sentinel.ExpiringLicense]
	TOT         sniper.Source[sentinel.TaxRisk]
}

// Enricher turns deduplicated leads into digest targets.
type Enricher interface {
	Enrich(ctx context.Context, leads []sentinel.Lead) []sentinel.EnrichedTarget
}

// Config bounds a run.
type Config struct {
	// FetcherTimeout caps each source. Zero means no cap.
	FetcherTimeout time.Duration
	// ArchivePrefix is prepended to digest archive paths.
	ArchivePrefix string
	// Location decides the calendar day used in archive paths.
	Location *time.Location
}

// Summary is the structured result handed back to the trigger.
type Summary struct {
	RunID               string             `json:"runId"`
	Status              sentinel.RunStatus `json:"status"`
	AlertsCount         int                `json:"alertsCount"`
	IntegrityRisksCount int                `json:"integrityRisksCount"`
	ExpiringCount       int                `json:"expiringCount"`
	TaxRisksCount       int                `json:"taxRisksCount"`
	DistressedCount     int                `json:"distressedCount"`
	NewEntrantsCount    int                `json:"newEntrantsCount"`
	TotalTargets        int                `json:"totalTargets"`
	EnrichedCount       int                `json:"enrichedCount"`
	// SourceErrors maps a source name to the error that emptied it.
	SourceErrors map[string]string `json:"sourceErrors,omitempty"`
}

// Runner executes pipeline runs. It holds no per-run state.
type Runner struct {
	cfg      Config
	sources  Sources
	enricher Enricher
	notifier sentinel.Notifier
	runLog   sentinel.RunLogger
	archive  sentinel.BlobStore
	clock    sentinel.Clock
	ids      sentinel.IDGenerator
	logger   *zap.Logger
}

// New constructs a Runner. archive may be nil to disable digest archiving.
func New(
	cfg Config,
	sources Sources,
	enricher Enricher,
	notifier sentinel.Notifier,
	runLog sentinel.RunLogger,
	archive sentinel.BlobStore,
	clock sentinel.Clock,
	ids sentinel.IDGenerator,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Runner{
		cfg:      cfg,
		sources:  sources,
		enricher: enricher,
		notifier: notifier,
		runLog:   runLog,
		archive:  archive,
		clock:    clock,
		ids:      ids,
		logger:   logger.Named("pipeline"),
	}
}

type fetched struct {
	distressed []sentinel.Lead
	entrants   []sentinel.Lead
	alerts     []sentinel.LegislativeAlert
	integrity  []sentinel.IntegrityRisk
	expiring   []sentinel.ExpiringLicense
	taxRisks   []sentinel.TaxRisk
}

// Run performs one full pipeline run. The returned error is non-nil exactly
// when Summary.Status is failed.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		// Every run gets a run log row, so a failed generator falls back to the clock.
		runID = fallbackRunID(r.clock.Now())
		r.logger.Warn("run id generation failed; using timestamp id", zap.String("run_id", runID), zap.Error(err))
	}
	ctx, span := tracer.Start(ctx, "sentinel.run", trace.WithAttributes(attribute.String("sentinel.run_id", runID)))
	defer span.End()
	started := r.clock.Now()
	logger := r.logger.With(zap.String("run_id", runID))
	summary := Summary{RunID: runID, SourceErrors: map[string]string{}}
	logger.Info("run started")

	r.enter(logger, StateFetching)
	res := r.fetchAll(ctx, logger, &summary)
	summary.DistressedCount = len(res.distressed)
	summary.NewEntrantsCount = len(res.entrants)
	summary.AlertsCount = len(res.alerts)
	summary.IntegrityRisksCount = len(res.integrity)
	summary.ExpiringCount = len(res.expiring)
	summary.TaxRisksCount = len(res.taxRisks)

	r.enter(logger, StateDeduplicating)
	merged := make([]sentinel.Lead, 0, len(res.entrants)+len(res.distressed))
	merged = append(merged, res.entrants...)
	merged = append(merged, res.distressed...)
	leads := dedup.Dedupe(merged)
	summary.TotalTargets = len(leads)

	r.enter(logger, StateEnriching)
	targets := r.enricher.Enrich(ctx, leads)
	summary.EnrichedCount = len(targets)

	r.enter(logger, StateNotifying)
	digest := sentinel.Digest{
		RunID:             runID,
		GeneratedAt:       r.clock.Now(),
		Targets:           targets,
		LegislativeAlerts: res.alerts,
		IntegrityRisks:    res.integrity,
		ExpiringLicenses:  res.expiring,
		TaxRisks:          res.taxRisks,
	}
	var runErr error
	if err := ctx.Err(); err != nil {
		// The trigger gave up; a digest built from timed-out sources is not sent.
		runErr = fmt.Errorf("run aborted before notify: %w", err)
	} else {
		r.archiveDigest(ctx, logger, digest)
		if err := r.notifier.Send(ctx, digest); err != nil {
			runErr = fmt.Errorf("notify digest: %w", err)
		}
	}

	r.enter(logger, StateLogging)
	// The run log is written even when the trigger's context has ended.
	logCtx := context.WithoutCancel(ctx)
	entry := sentinel.RunLog{
		RunID:               runID,
		StartedAt:           started,
		FinishedAt:          r.clock.Now(),
		AlertsCount:         summary.AlertsCount,
		IntegrityRisksCount: summary.IntegrityRisksCount,
		ExpiringCount:       summary.ExpiringCount,
		TaxRisksCount:       summary.TaxRisksCount,
		DistressedCount:     summary.DistressedCount,
		NewEntrantsCount:    summary.NewEntrantsCount,
		TotalTargets:        summary.TotalTargets,
	}
	if runErr != nil {
		entry.Status = sentinel.RunFailed
		entry.Error = runErr.Error()
		if err := r.runLog.Log(logCtx, entry); err != nil {
			logger.Error("run log write failed on failure path", zap.Error(err))
		}
		return r.finish(span, logger, summary, runErr)
	}

	entry.Status = sentinel.RunCompleted
	if err := r.runLog.Log(logCtx, entry); err != nil {
		return r.finish(span, logger, summary, fmt.Errorf("write run log: %w", err))
	}
	return r.finish(span, logger, summary, nil)
}

func fallbackRunID(t time.Time) string {
	return "run-" + t.UTC().Format("20060102T150405.000000000Z")
}

func (r *Runner) fetchAll(ctx context.Context, logger *zap.Logger, summary *Summary) fetched {
	// Entrants are fetched before distressed leads so that dedup keeps them.
	var res fetched
	res.entrants = collect(ctx, r.cfg.FetcherTimeout, logger, r.sources.Licenses, summary)
	res.distressed = collect(ctx, r.cfg.FetcherTimeout, logger, r.sources.Enforcement, summary)
	res.alerts = collect(ctx, r.cfg.FetcherTimeout, logger, r.sources.Dockets, summary)
	res.integrity = collect(ctx, r.cfg.FetcherTimeout, logger, r.sources.Integrity, summary)
	res.expiring = collect(ctx, r.cfg.FetcherTimeout, logger, r.sources.Renewal, summary)
	res.taxRisks = collect(ctx, r.cfg.FetcherTimeout, logger, r.sources.TOT, summary)
	return res
}

func (r *Runner) enter(logger *zap.Logger, state State) {
	metrics.ObserveState(string(state))
	logger.Debug("pipeline state", zap.String("state", string(state)))
}

func (r *Runner) finish(span trace.Span, logger *zap.Logger, summary Summary, runErr error) (Summary, error) {
	span.SetAttributes(
		attribute.Int("sentinel.total_targets", summary.TotalTargets),
		attribute.Int("sentinel.source_errors", len(summary.SourceErrors)),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run failed")
		summary.Status = sentinel.RunFailed
		r.enter(logger, StateFailed)
		metrics.ObserveRun(string(sentinel.RunFailed))
		logger.Error("run failed", zap.Error(runErr))
		return summary, runErr
	}
	summary.Status = sentinel.RunCompleted
	r.enter(logger, StateCompleted)
	metrics.ObserveRun(string(sentinel.RunCompleted))
	logger.Info("run completed",
		zap.Int("total_targets", summary.TotalTargets),
		zap.Int("enriched", summary.EnrichedCount),
		zap.Int("alerts", summary.AlertsCount),
		zap.Int("source_errors", len(summary.SourceErrors)),
	)
	return summary, nil
}

// archiveDigest stores the digest JSON. Failures are logged and ignored.
func (r *Runner) archiveDigest(ctx context.Context, logger *zap.Logger, digest sentinel.Digest) {
	if r.archive == nil {
		return
	}
	payload, err := json.Marshal(digest)
	if err != nil {
		logger.Warn("digest encode failed", zap.Error(err))
		return
	}
	path := r.archivePath(digest)
	uri, err := r.archive.PutObject(ctx, path, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Warn("digest archive failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("digest archived", zap.String("uri", uri))
}

func (r *Runner) archivePath(digest sentinel.Digest) string {
	day := digest.GeneratedAt.In(r.cfg.Location).Format("2006-01-02")
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", day, digest.RunID)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, day, digest.RunID)
}

// collect runs src under its own deadline and collapses any failure to an empty result.
func collect[T any](
	ctx context.Context,
	timeout time.Duration,
	logger *zap.Logger,
	src sniper.Source[T],
	summary *Summary,
) []T {
	if src == nil {
		return nil
	}
	name := src.Name()
	ctx, span := tracer.Start(ctx, "sentinel.source", trace.WithAttributes(attribute.String("sentinel.source", name)))
	defer span.End()
	start := time.Now()
	items, err := invoke(ctx, timeout, src)
	kind := ""
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source failed")
		kind = string(sentinel.KindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		summary.SourceErrors[name] = err.Error()
		logger.Warn("source failed; continuing without it",
			zap.String("source", name),
			zap.String("kind", kind),
			zap.Error(err),
		)
		items = nil
	} else {
		logger.Info("source fetched", zap.String("source", name), zap.Int("items", len(items)))
	}
	span.SetAttributes(attribute.Int("sentinel.items", len(items)))
	metrics.ObserveSource(name, len(items), kind, time.Since(start))
	return items
}

type outcome[T any] struct {
	items []T
	err   error
}

// invoke calls src.Fetch in its own goroutine so a panic or a source that
// ignores its context cannot stall the run.
func invoke[T any](ctx context.Context, timeout time.Duration, src sniper.Source[T]) ([]T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	name := src.Name()
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[T]{err: sentinel.NewFetchError(name, sentinel.FetchPanic, fmt.Errorf("recovered: %v", p))}
			}
		}()
		items, err := src.Fetch(ctx)
		done <- outcome[T]{items: items, err: err}
	}()

	select {
	case out := <-done:
		return out.items, timeoutKind(ctx, name, out.err)
	case <-ctx.Done():
		select {
		case out := <-done:
			return out.items, timeoutKind(ctx, name, out.err)
		default:
		}
		return nil, sentinel.NewFetchError(name, sentinel.FetchTimeout, ctx.Err())
	}
}

// timeoutKind reclassifies an error caused by the source deadline.
func timeoutKind(ctx context.Context, name string, err error) error {
	if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	if sentinel.KindOf(err) == sentinel.FetchTimeout {
		return err
	}
	return sentinel.NewFetchError(name, sentinel.FetchTimeout, err)
}
