package main

import (
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/traderun/internal/attention"
	"github.com/sawpanic/traderun/internal/collector"
	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/evidence"
	"github.com/sawpanic/traderun/internal/execution"
	"github.com/sawpanic/traderun/internal/marketdata"
	"github.com/sawpanic/traderun/internal/persistence"
	"github.com/sawpanic/traderun/internal/persistence/memory"
	"github.com/sawpanic/traderun/internal/persistence/postgres"
	"github.com/sawpanic/traderun/internal/persistence/redisstore"
	"github.com/sawpanic/traderun/internal/pipeline"
	"github.com/sawpanic/traderun/internal/risk"
)

// App bundles the wired components behind the CLI commands.
type App struct {
	Repo         *persistence.Repository
	Orchestrator *pipeline.Orchestrator

	db    *sqlx.DB
	redis *redis.Client
}

// Close releases held connections.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

// buildApp wires the full pipeline from configuration. With no postgres DSN
// everything runs on the in-memory stores, which is the mock/dry-run mode.
func buildApp(cfg *config.Config) (*App, error) {
	app := &App{}

	var attnStore persistence.AttentionStore = memory.NewAttentionStore()
	if cfg.Store.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		attnStore = redisstore.NewAttentionStore(app.redis, cfg.Store.Timeout())
	}

	if cfg.Store.PostgresDSN != "" {
		db, err := postgres.Open(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		app.db = db
		app.Repo = postgres.NewRepository(db, attnStore, cfg.Store.Timeout())
	} else {
		log.Warn().Msg("no postgres DSN configured, using in-memory stores")
		app.Repo = memory.NewRepository()
		app.Repo.Attention = attnStore
	}

	market := marketdata.NewChainClient(cfg.MarketData.BookSources, cfg.MarketData.Timeout(), cfg.MarketData.Depth)
	docs := collector.NewHTTPCollector(cfg.Attention.DocSources, cfg.MarketData.Timeout(), cfg.Attention.MaxDocs)
	verifier := evidence.NewVerifier(app.Repo.Evidence, cfg.Pipeline.StepTimeout(), cfg.Pipeline.MinEvidenceBytes)

	submitter := execution.Submitter(execution.NewMockSubmitter(market, app.Repo.Executions, cfg.Execution.SubmitRatePerSec))
	if !cfg.Execution.Mock {
		// Live venue adapters are wired here when available; until then the
		// simulated venue stands in.
		log.Warn().Msg("live execution requested but no venue adapter is built in, using mock fills")
	}

	app.Orchestrator = pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Repo:       app.Repo,
		Verifier:   verifier,
		Scorer:     attention.NewScorer(cfg.Attention, app.Repo.Attention, market, docs),
		Venue:      pipeline.NewVenueRules(cfg.Pipeline, cfg.Risk, market),
		Simulator:  risk.NewSimulator(cfg.Risk, market),
		Bandit:     risk.NewBandit(app.Repo.Bandits, cfg.Risk, nil),
		Sizer:      risk.NewSizer(cfg.Risk, app.Repo.Equity),
		Selector:   execution.NewSelector(cfg.Execution, market),
		Submitter:  submitter,
		Slicer:     execution.NewSlicer(submitter, cfg.Execution.SlicePacing()),
		Market:     market,
		Postmortem: pipeline.NewPostmortem(market, app.Repo.Executions, cfg.Pipeline.PostmortemCap(), cfg.Pipeline.HonorFullHorizon),
	})
	return app, nil
}

func unmarshalYAML(b []byte, v interface{}) error {
	return yaml.Unmarshal(b, v)
}
