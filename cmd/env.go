package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/fiscalflow/fiscalflow/internal/feedsync"
	"github.com/fiscalflow/fiscalflow/internal/ingest"
	"github.com/fiscalflow/fiscalflow/internal/manifest"
	"github.com/fiscalflow/fiscalflow/internal/nuvemfiscal"
	"github.com/fiscalflow/fiscalflow/internal/store"
	"github.com/fiscalflow/fiscalflow/internal/webhook"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "fiscalflow.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initClient() *nuvemfiscal.Client {
	nf := cfg.NuvemFiscal
	tokens := nuvemfiscal.NewTokenProvider(nf.AuthURL, nf.ClientID, nf.ClientSecret, nf.Scopes)
	return nuvemfiscal.NewClient(nf.APIURL, tokens, nuvemfiscal.WithRateLimit(nf.RatePerSec))
}

func syncOptions() feedsync.Options {
	return feedsync.Options{
		PageSize:        cfg.Sync.PageSize,
		PagePause:       time.Duration(cfg.Sync.PagePauseSecs) * time.Second,
		ProcessingDelay: time.Duration(cfg.Sync.ProcessingDelaySecs) * time.Second,
		StrictBatches:   !cfg.Sync.TolerateBatchFailure,
	}
}

// env bundles everything the long-lived commands need.
type env struct {
	store    store.Store
	client   *nuvemfiscal.Client
	runner   *feedsync.Runner
	webhooks *webhook.Processor
	manifest *manifest.Service
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	client := initClient()
	sink := ingest.New(st)

	return &env{
		store:    st,
		client:   client,
		runner:   feedsync.NewRunner(client, sink, st, syncOptions()),
		webhooks: webhook.NewProcessor(client, sink, st),
		manifest: manifest.NewService(client, st),
	}, nil
}

func (e *env) Close() {
	e.store.Close() //nolint:errcheck
}
