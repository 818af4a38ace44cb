// The process-node binary is the Lambda consuming node-committed events
// and linking the new node into the memory graph.
package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"memcore/internal/config"
	"memcore/internal/di"
	"memcore/internal/infrastructure/messaging/eventbridge"
)

var container *di.Container

func init() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("unable to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("unable to create logger: %v", err)
	}

	container, err = di.NewContainer(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("unable to build container: %v", err)
	}
}

func configPath() string {
	// Lambda deployments bake the config next to the binary.
	return "config.yaml"
}

func handler(ctx context.Context, event events.EventBridgeEvent) error {
	var detail eventbridge.NodeCommittedDetail
	if err := json.Unmarshal(event.Detail, &detail); err != nil {
		container.Logger.Error("could not unmarshal event detail", zap.Error(err))
		return err
	}

	anchor, err := container.Store.GetNode(ctx, detail.Namespace, detail.NodeID)
	if err != nil {
		container.Logger.Error("anchor node not found",
			zap.String("namespace", detail.Namespace),
			zap.String("node_id", detail.NodeID),
			zap.Error(err),
		)
		// returning the error lets EventBridge retry
		return err
	}

	result, err := container.Reasoner.ProcessNode(ctx, detail.Namespace, anchor, nil, container.Config.Reasoner.NeighborTopK)
	if err != nil {
		return err
	}

	container.Logger.Info("node processed",
		zap.String("namespace", detail.Namespace),
		zap.String("node_id", detail.NodeID),
		zap.Int("relations", len(result.Relations)),
		zap.Int("inferred_nodes", len(result.InferredNodes)),
		zap.Int("sequence_links", len(result.SequenceLinks)),
		zap.Int("aggregate_nodes", len(result.AggregateNodes)),
		zap.Int("failures", result.Failures),
	)

	if container.Publisher != nil {
		if err := container.Publisher.RelationsCreated(ctx, detail.Namespace, detail.NodeID, result.EdgeCount()); err != nil {
			// the graph is already linked; a lost notification is not
			// worth a retry that would redo the LLM calls
			container.Logger.Warn("failed to publish relations-created event", zap.Error(err))
		}
	}
	return nil
}

func main() {
	lambda.Start(handler)
}
