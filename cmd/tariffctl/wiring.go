package main

import (
	"context"
	"fmt"

	"github.com/clearlane/tariffcore/pkg/blob"
	"github.com/clearlane/tariffcore/pkg/config"
	"github.com/clearlane/tariffcore/pkg/docstore"
	"github.com/clearlane/tariffcore/pkg/llm"
	"github.com/clearlane/tariffcore/pkg/observability"
	"github.com/clearlane/tariffcore/pkg/section301"
	"github.com/clearlane/tariffcore/pkg/sqldb"
	"github.com/clearlane/tariffcore/pkg/stacking"
	"github.com/clearlane/tariffcore/pkg/tariff"
	"github.com/clearlane/tariffcore/pkg/verify"
)

// services is the wired store graph every subcommand works against.
type services struct {
	cfg        *config.Config
	db         *sqldb.DB
	tariffs    *tariff.Store
	docs       *docstore.Store
	assertions *verify.AssertionStore
	review     *verify.ReviewStore
	blobs      blob.Store
	obs        *observability.Provider
	timeline   *observability.AuditTimeline
}

// newObservability installs the OTel provider when an OTLP endpoint is
// configured; without one the global no-op providers stay in place.
func newObservability(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}
	ocfg := observability.DefaultConfig()
	ocfg.OTLPEndpoint = cfg.OTLPEndpoint
	ocfg.Environment = cfg.Environment
	ocfg.Insecure = true
	return observability.New(ctx, ocfg)
}

func openServices(ctx context.Context) (*services, error) {
	cfg := config.Load()

	obs, err := newObservability(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := sqldb.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	tariffs, err := tariff.NewStore(db)
	if err != nil {
		return nil, err
	}
	docs, err := docstore.NewStore(db)
	if err != nil {
		return nil, err
	}
	assertions, err := verify.NewAssertionStore(db)
	if err != nil {
		return nil, err
	}
	review, err := verify.NewReviewStore(db)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	return &services{
		cfg:        cfg,
		db:         db,
		tariffs:    tariffs,
		docs:       docs,
		assertions: assertions,
		review:     review,
		blobs:      blobs,
		obs:        obs,
		timeline:   observability.NewAuditTimeline(),
	}, nil
}

func (s *services) close() {
	_ = s.db.Close()
	if s.obs != nil {
		_ = s.obs.Shutdown(context.Background())
	}
}

func (s *services) engine() *stacking.Engine {
	return stacking.NewEngine(s.tariffs, section301.New(s.tariffs, 0), s.assertions)
}

func (s *services) llmClient(model string) llm.Client {
	if s.cfg.LLMBaseURL != "" {
		return llm.NewOpenAIClientWithBaseURL(s.cfg.LLMAPIKey, model, s.cfg.LLMBaseURL)
	}
	return llm.NewOpenAIClient(s.cfg.LLMAPIKey, model)
}

func (s *services) verifyService() *verify.Service {
	readerClient := s.llmClient(s.cfg.ReaderModel)
	validatorClient := readerClient
	if s.cfg.ValidatorModel != s.cfg.ReaderModel {
		validatorClient = s.llmClient(s.cfg.ValidatorModel)
	}
	gate := verify.NewWriteGate(s.db, s.docs, s.assertions, s.review)
	return verify.NewService(s.docs, s.assertions, s.review, gate, readerClient, validatorClient, verify.ServiceOptions{
		DiscoveryPriority: s.cfg.ReviewPriority,
	})
}
