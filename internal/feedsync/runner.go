// Package feedsync drives the cursor-based document sync against the
// distribution feed: advance the NSU cursor, drain buffered documents,
// and record the outcome as a sync run.
package feedsync

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fiscalflow/fiscalflow/internal/ingest"
	"github.com/fiscalflow/fiscalflow/internal/model"
	"github.com/fiscalflow/fiscalflow/internal/nuvemfiscal"
	"github.com/fiscalflow/fiscalflow/internal/store"
)

// Feed is the slice of the distribution API the runner needs.
type Feed interface {
	RequestDistribution(ctx context.Context, taxID string, lastNSU int64) (*nuvemfiscal.Distribution, error)
	ListDocuments(ctx context.Context, taxID string, top, skip int) ([]nuvemfiscal.RawDocument, error)
}

// DocumentSink persists one raw payload, reporting whether a new row was
// written. Implemented by ingest.Ingestor.
type DocumentSink interface {
	Ingest(ctx context.Context, companyID string, raw nuvemfiscal.RawDocument) (bool, error)
}

// Options tunes the runner. Zero values get production defaults.
type Options struct {
	// PageSize is the $top used when draining buffered documents.
	PageSize int
	// PagePause separates consecutive page fetches and cursor advances so
	// a large backlog does not hammer the feed.
	PagePause time.Duration
	// ProcessingDelay is how long to wait, once, when the feed answers
	// "processando" before asking again.
	ProcessingDelay time.Duration
	// StrictBatches fails the whole run when a batch cannot be fetched.
	// The default tolerates it: the failure is recorded, the run stops at
	// the cursor of the last good batch, and finalizes success with the
	// partial tally so the next run re-fetches from there.
	StrictBatches bool
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.PagePause <= 0 {
		o.PagePause = 2 * time.Second
	}
	if o.ProcessingDelay <= 0 {
		o.ProcessingDelay = 5 * time.Second
	}
	return o
}

// Result summarizes one finished run.
type Result struct {
	RunID           string `json:"run_id"`
	DocumentsSynced int    `json:"documents_synced"`
	SkippedExisting int    `json:"skipped_existing"`
	SkippedInvalid  int    `json:"skipped_invalid"`
	Failures        int    `json:"failures"`
	LastNSU         int64  `json:"last_nsu"`
}

// Runner executes sync runs for companies.
type Runner struct {
	feed  Feed
	sink  DocumentSink
	store store.Store
	opts  Options
	log   *zap.Logger
}

func NewRunner(feed Feed, sink DocumentSink, st store.Store, opts Options) *Runner {
	return &Runner{
		feed:  feed,
		sink:  sink,
		store: st,
		opts:  opts.withDefaults(),
		log:   zap.L().With(zap.String("component", "feedsync")),
	}
}

// Run performs one full sync for the company: resume from the last
// successful cursor, drain the feed until the cursor catches up with the
// feed's maximum, and finalize the sync run either way. The run row is
// always finished; an in_progress row never outlives this call.
func (r *Runner) Run(ctx context.Context, companyID string) (*Result, error) {
	company, err := r.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "feedsync: load company %s", companyID)
	}
	if company == nil {
		return nil, eris.Errorf("feedsync: company not found: %s", companyID)
	}

	cursor, err := r.store.LastSuccessfulNSU(ctx, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "feedsync: resume cursor")
	}

	run, err := r.store.CreateSyncRun(ctx, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "feedsync: create sync run")
	}

	log := r.log.With(
		zap.String("run_id", run.ID),
		zap.String("company_tax_id", company.TaxID),
		zap.Int64("resume_nsu", cursor))
	log.Info("sync run started")

	res := &Result{RunID: run.ID, LastNSU: cursor}
	syncErr := r.sync(ctx, company, cursor, res, log)

	if syncErr != nil {
		details := truncate(syncErr.Error(), 500)
		// Finalize with the parent detached: a canceled ctx must not keep
		// the run row stuck in_progress.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.store.FinishSyncRun(finishCtx, run.ID, model.RunFailed, res.LastNSU, res.DocumentsSynced, details); err != nil {
			log.Error("failed to finalize sync run", zap.Error(err))
		}
		log.Warn("sync run failed", zap.Error(syncErr))
		return res, syncErr
	}

	if err := r.store.FinishSyncRun(ctx, run.ID, model.RunSuccess, res.LastNSU, res.DocumentsSynced, ""); err != nil {
		return res, eris.Wrap(err, "feedsync: finalize sync run")
	}
	log.Info("sync run finished",
		zap.Int("documents_synced", res.DocumentsSynced),
		zap.Int("skipped_existing", res.SkippedExisting),
		zap.Int("failures", res.Failures),
		zap.Int64("last_nsu", res.LastNSU))
	return res, nil
}

func (r *Runner) sync(ctx context.Context, company *model.Company, cursor int64, res *Result, log *zap.Logger) error {
	for {
		dist, err := r.feed.RequestDistribution(ctx, company.TaxID, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrap(err, "feedsync: request distribution")
			}
			return r.batchFailed(eris.Wrap(err, "feedsync: request distribution"), cursor, res, log)
		}

		if dist.Processing() {
			// The feed is still assembling the batch: wait the fixed delay
			// once, then list whatever is already buffered. Anything not
			// ready is served to the next run from the same cursor.
			log.Info("feed still preparing batch, waiting once",
				zap.Duration("delay", r.opts.ProcessingDelay))
			if err := wait(ctx, r.opts.ProcessingDelay); err != nil {
				return err
			}
		} else if dist.MaxNSU <= cursor {
			res.LastNSU = cursor
			return nil
		}

		if err := r.drainPages(ctx, company, res, log); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return r.batchFailed(err, cursor, res, log)
		}

		// A reply that does not move the cursor ends the run; the next one
		// retries from the same point instead of spinning here.
		if dist.LastNSU <= cursor {
			log.Info("cursor did not advance, ending run",
				zap.Int64("cursor", cursor), zap.Int64("reported_nsu", dist.LastNSU))
			res.LastNSU = cursor
			return nil
		}

		res.LastNSU = dist.LastNSU
		cursor = dist.LastNSU
		if dist.LastNSU >= dist.MaxNSU {
			return nil
		}

		log.Debug("cursor advanced, more batches pending",
			zap.Int64("cursor", cursor), zap.Int64("max_nsu", dist.MaxNSU))
		if err := wait(ctx, r.opts.PagePause); err != nil {
			return err
		}
	}
}

// batchFailed applies the batch policy to a hard feed failure. Strict runs
// surface the error and fail; lenient runs record it, stop at the cursor of
// the last good batch, and finalize success with the partial tally so the
// next run re-fetches everything the failed batch would have delivered.
func (r *Runner) batchFailed(err error, cursor int64, res *Result, log *zap.Logger) error {
	if r.opts.StrictBatches {
		return err
	}
	res.Failures++
	res.LastNSU = cursor
	log.Warn("batch failed, ending run with partial results", zap.Error(err))
	return nil
}

// drainPages walks the feed's buffered document listing page by page and
// pushes every payload through the sink. Individual bad documents never
// fail the drain; a failed page listing aborts it and the caller's batch
// policy decides the run's fate.
func (r *Runner) drainPages(ctx context.Context, company *model.Company, res *Result, log *zap.Logger) error {
	skip := 0
	for {
		docs, err := r.feed.ListDocuments(ctx, company.TaxID, r.opts.PageSize, skip)
		if err != nil {
			return eris.Wrapf(err, "feedsync: list documents (skip=%d)", skip)
		}
		if len(docs) == 0 {
			return nil
		}

		for _, raw := range docs {
			inserted, err := r.sink.Ingest(ctx, company.ID, raw)
			switch {
			case errors.Is(err, ingest.ErrMissingAccessKey):
				res.SkippedInvalid++
				log.Warn("payload without access key skipped")
			case err != nil:
				res.Failures++
				log.Warn("document ingest failed", zap.Error(err))
			case inserted:
				res.DocumentsSynced++
			default:
				res.SkippedExisting++
			}
		}

		if len(docs) < r.opts.PageSize {
			return nil
		}
		skip += r.opts.PageSize
		if err := wait(ctx, r.opts.PagePause); err != nil {
			return err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
