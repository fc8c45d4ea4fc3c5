// Package bootstrap wires configuration, adapters, and services into a
// running application.
package bootstrap

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailmind/adapter/out/llm"
	"mailmind/adapter/out/persistence"
	"mailmind/adapter/out/provider"
	"mailmind/config"
	"mailmind/core/port/out"
	"mailmind/core/service/analysis"
	"mailmind/core/service/brief"
	"mailmind/core/service/intelligence"
	"mailmind/core/service/learning"
	"mailmind/core/service/rules"
	"mailmind/core/service/scheduler"
	"mailmind/pkg/cache"
	"mailmind/pkg/logger"
)

// Dependencies holds every wired component. The CLI and the API server
// both run off one instance.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	Store     *persistence.Store
	Redis     *redis.Client
	Cache     out.AnalysisCache
	LLM       out.LLM
	Connector out.Connector
	Gmail     *provider.GmailConnector

	Engine       *rules.Engine
	Index        *intelligence.Index
	Analyzers    []analysis.Analyzer
	Collaborator *analysis.Collaborator
	Learner      *learning.FeedbackLearner
	Synthesizer  *learning.Synthesizer
	Briefs       *brief.Generator

	Pipeline  *scheduler.Pipeline
	Scheduler *scheduler.Scheduler
}

// NewDependencies builds the full graph. The returned cleanup closes
// the store and the Redis connection; call it exactly once.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	log := logger.Default()

	store, err := persistence.Open(cfg.DBPath, log)
	if err != nil {
		return nil, nil, err
	}

	deps := &Dependencies{
		Config: cfg,
		Log:    log,
		Store:  store,
	}
	cleanup := func() {
		if deps.Redis != nil {
			_ = deps.Redis.Close()
		}
		_ = store.Close()
	}

	// Redis assessment cache is optional; without it every strategic
	// analysis goes to the LLM.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Redis = redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, running without analysis cache")
			_ = deps.Redis.Close()
			deps.Redis = nil
		} else {
			deps.Cache = cache.NewRedisCache(deps.Redis)
		}
		cancel()
	}

	// LLM is optional; analyzers degrade to heuristics without it.
	if cfg.OpenAIAPIKey != "" {
		deps.LLM = llm.New(llm.Config{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			MaxTokens:  cfg.LLMMaxTokens,
			Timeout:    cfg.LLMTimeout,
			MaxRetries: cfg.LLMMaxRetries,
		}, log)
	}

	// Gmail is the only connector so far. Without credentials the
	// pipeline runs local-only: triage and briefs work, pull and label
	// push are disabled.
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		deps.Gmail = provider.NewGmailConnector(&provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			DataDir:      cfg.DataDir,
		}, log)
		deps.Connector = deps.Gmail
	}

	deps.Index = intelligence.New(intelligence.Config{
		VIPAddresses:    cfg.VIPAddresses,
		InternalDomains: cfg.InternalDomains,
	}, store.Profiles(), log)
	if err := deps.Index.Load(context.Background()); err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Learner = learning.NewFeedbackLearner(store, deps.Index, log)
	if err := deps.Learner.Load(context.Background()); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Synthesizer = learning.NewSynthesizer(store, cfg.ConfidenceThreshold)

	deps.Analyzers = []analysis.Analyzer{
		analysis.NewStrategicAnalyzer(deps.Index, deps.LLM, deps.Cache, cfg.SemanticCacheTTL, log),
		analysis.NewRelationshipAnalyzer(deps.Index),
		analysis.NewThreadAnalyzer(deps.Index),
		analysis.NewTriageAnalyzer(deps.Index, deps.LLM, deps.Learner, log),
		analysis.NewSpamFilter(deps.Index),
	}
	deps.Collaborator = analysis.NewCollaborator(analysis.Thresholds{
		Priority:   cfg.PriorityThreshold,
		Archive:    cfg.ArchiveThreshold,
		Escalation: cfg.EscalationThreshold,
	}, policyVersion)

	deps.Engine = rules.NewEngine(log)
	deps.Briefs = brief.NewGenerator(store, deps.LLM, log)

	deps.Pipeline = scheduler.NewPipeline(
		store, deps.Connector, deps.Engine, deps.Analyzers,
		deps.Collaborator, deps.Index, deps.Briefs, log)

	deps.Scheduler = scheduler.New(scheduler.Config{
		PullInterval:     cfg.PullInterval,
		PullBatchSize:    cfg.PullBatchSize,
		AnalyzerWorkers:  cfg.AnalyzerWorkers,
		QueueSizeFactor:  cfg.QueueSizeFactor,
		ShutdownGrace:    cfg.ShutdownGrace,
		ApplyRetryDelay:  cfg.ApplyRetryDelay,
		PullBackoffInit:  cfg.PullBackoffInit,
		PullBackoffMax:   cfg.PullBackoffMax,
		BriefCutoffLocal: cfg.BriefCutoffLocal,
	}, deps.Pipeline, log)

	return deps, cleanup, nil
}

// policyVersion stamps every decision; bump it when the reconciliation
// policy changes so old decisions can be told apart.
const policyVersion = 1
