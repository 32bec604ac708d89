package server

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/capability"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/events"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/manager"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/store"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/telemetry"
)

// Engine bundles everything the serve and research commands need.
type Engine struct {
	Cfg     *config.Config
	Manager *manager.Manager
	Bus     *events.Bus
	Tele    *telemetry.Telemetry
	Repo    store.Repository
	Redis   *redis.Client
	Logger  *log.Logger
}

// BuildEngine wires capabilities, agents, supervisor, pipeline, storage and
// the task manager from configuration. The manager is not started; callers
// own Start/Stop.
func BuildEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}

	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele = telemetry.New()
	}
	bus := events.NewBus(events.WithDropHook(tele.RecordEventDropped))

	repo, rdb, err := buildRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	required := make([]string, 0, len(research.AllSections()))
	for _, s := range research.AllSections() {
		required = append(required, string(s))
	}
	cards := capability.DefaultAgentCards()
	secret := cfg.Server.AgentSigningSecret
	if secret != "" {
		for i := range cards {
			sig, err := capability.SignAgentCard(cards[i], secret)
			if err != nil {
				return nil, fmt.Errorf("sign agent card %s: %w", cards[i].Section, err)
			}
			cards[i].Signature = sig
		}
	}
	registry, err := capability.NewRegistry(cards, secret, required)
	if err != nil {
		return nil, fmt.Errorf("agent registry: %w", err)
	}
	logger.Printf("[BOOT] agent registry validated: %d specialists (signing %s)", len(registry.Sections()), signingState(secret))

	gen := capability.NewOpenAIGenerator(cfg.LLM)
	costFn := func(g capability.Generation) float64 {
		c := gen.Cost(g)
		if cfg.Telemetry.CostTracking {
			tele.AddCost(g.Model, g.InputTokens+g.OutputTokens, c)
		}
		return c
	}

	searcher, err := capability.NewSearcher(cfg.Search)
	if err != nil {
		logger.Printf("[BOOT] %v, agents will run without sources", err)
		searcher = capability.NoopSearcher{}
	}
	var fetcher *capability.PageFetcher
	if cfg.Search.FetchContent {
		fetcher = capability.NewPageFetcher(cfg.Search.Timeout, 4000)
	}

	agents := research.NewAgents(gen, searcher, fetcher, costFn, logger)
	sup := research.NewSupervisor(agents,
		cfg.Research.MaxConcurrentAgents,
		cfg.Research.AgentTimeout,
		research.RetryPolicy{MaxRetries: cfg.Research.MaxRetries, Backoff: cfg.Research.RetryBackoff},
		logger, tele)

	weights := make(map[research.SectionKind]float64, len(cfg.Scoring.SectionWeights))
	for k, w := range cfg.Scoring.SectionWeights {
		weights[research.SectionKind(k)] = w
	}

	mgr := manager.New(cfg.Research, repo, bus, logger, tele)
	pipe := research.NewPipeline(sup, research.NewHeuristicScorer(), gen, costFn,
		cfg.Research.QualityThreshold, weights, mgr, logger, tele)
	mgr.SetRunner(pipe)

	return &Engine{
		Cfg:     cfg,
		Manager: mgr,
		Bus:     bus,
		Tele:    tele,
		Repo:    repo,
		Redis:   rdb,
		Logger:  logger,
	}, nil
}

func signingState(secret string) string {
	if secret == "" {
		return "disabled"
	}
	return "enabled"
}

func buildRepository(ctx context.Context, cfg *config.Config) (store.Repository, *redis.Client, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		repo, err := store.NewPostgres(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	case "redis":
		repo, err := store.NewRedis(ctx, cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Client(), nil
	case "", "memory":
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
