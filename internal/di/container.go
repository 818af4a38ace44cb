// Package di wires the service together. Collaborators are chosen by
// configuration through a small registry, then assembled into one
// explicit container passed to the entry points; there is no hidden
// global state.
package di

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"memcore/internal/config"
	"memcore/internal/infrastructure/messaging/eventbridge"
	"memcore/internal/nli"
	"memcore/internal/repository"
	"memcore/internal/service/consistency"
	"memcore/internal/service/llm"
	"memcore/internal/service/parser"
	"memcore/internal/service/reasoner"
	"memcore/internal/service/retriever"
	"memcore/pkg/observability"
)

// Container holds every assembled component of the memory core.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	Store     repository.Store
	Embedder  repository.Embedder
	LLM       llm.Provider
	NLI       repository.NLIClassifier
	Publisher repository.EventPublisher // nil when events are disabled

	Parser    *parser.Parser
	Retriever *retriever.Retriever
	Checker   *consistency.Checker
	Reasoner  *reasoner.Reasoner
}

// NewContainer assembles the service from configuration.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	metrics := observability.NewMetrics()

	store, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build store: %w", err)
	}

	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}

	provider := llm.NewHTTPProvider(llm.HTTPProviderConfig{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.Timeout,
	}, logger)

	classifier := nli.NewClient(nli.Config{
		BaseURL: cfg.NLI.BaseURL,
		Timeout: cfg.NLI.Timeout,
	}, logger, metrics)

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ret := retriever.NewRetriever(store, retriever.Options{
		CandidateMultiplier: cfg.Retriever.CandidateMultiplier,
		KeywordBoost:        cfg.Retriever.KeywordBoost,
		TraversalPenalty:    cfg.Retriever.TraversalPenalty,
	}, logger, metrics)

	checker := consistency.NewChecker(store, ret, emb, classifier, publisher, consistency.Config{
		NeighborTopK: cfg.Consistency.NeighborTopK,
		FailOpen:     cfg.Consistency.FailOpen,
	}, logger, metrics)

	reason := reasoner.NewReasoner(store, emb, provider, reasoner.Config{
		Workers:               cfg.Reasoner.Workers,
		MinRelationConfidence: cfg.Reasoner.MinRelationConfidence,
		MinChainConfidence:    cfg.Reasoner.MinChainConfidence,
		MinSharedTags:         cfg.Reasoner.MinSharedTags,
	}, logger, metrics)

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Store:     store,
		Embedder:  emb,
		LLM:       provider,
		NLI:       classifier,
		Publisher: publisher,
		Parser:    parser.NewParser(provider, logger, metrics),
		Retriever: ret,
		Checker:   checker,
		Reasoner:  reason,
	}, nil
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.EventPublisher, error) {
	switch cfg.Events.Backend {
	case "", "none":
		return nil, nil
	case "eventbridge":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Events.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for events: %w", err)
		}
		client := awseventbridge.NewFromConfig(awsCfg)
		return eventbridge.NewPublisher(client, cfg.Events.BusName, cfg.Events.SourceID, logger), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}

// ApplyConfig updates components that support hot reload. Only the
// consistency fail-open policy is reloadable today.
func (c *Container) ApplyConfig(cfg *config.Config) {
	c.Checker.SetFailOpen(cfg.Consistency.FailOpen)
	c.Config = cfg
}
