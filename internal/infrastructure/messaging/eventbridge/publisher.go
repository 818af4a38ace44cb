// Package eventbridge publishes write-path events to AWS EventBridge so
// the relation processor can run asynchronously.
package eventbridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"memcore/internal/repository"
	appErrors "memcore/pkg/errors"
)

// Event detail types carried on the bus.
const (
	DetailTypeNodeCommitted    = "memcore.node.committed"
	DetailTypeRelationsCreated = "memcore.relations.created"
)

// NodeCommittedDetail is the payload of a node-committed event.
type NodeCommittedDetail struct {
	Namespace string    `json:"namespace"`
	NodeID    string    `json:"node_id"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RelationsCreatedDetail is the payload of a relations-created event.
type RelationsCreatedDetail struct {
	Namespace string    `json:"namespace"`
	NodeID    string    `json:"node_id"`
	EdgeCount int       `json:"edge_count"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher implements repository.EventPublisher on EventBridge.
type Publisher struct {
	client  *awseventbridge.Client
	busName string
	source  string
	logger  *zap.Logger
}

var _ repository.EventPublisher = (*Publisher)(nil)

// NewPublisher creates an EventBridge publisher.
func NewPublisher(client *awseventbridge.Client, busName, source string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		busName: busName,
		source:  source,
		logger:  logger,
	}
}

// NodeCommitted announces a committed node so the scheduler can enqueue
// relation processing.
func (p *Publisher) NodeCommitted(ctx context.Context, namespace, nodeID string, tags []string) error {
	return p.publish(ctx, DetailTypeNodeCommitted, NodeCommittedDetail{
		Namespace: namespace,
		NodeID:    nodeID,
		Tags:      tags,
		Timestamp: time.Now().UTC(),
	})
}

// RelationsCreated announces that relation processing finished for a node.
func (p *Publisher) RelationsCreated(ctx context.Context, namespace, nodeID string, edgeCount int) error {
	return p.publish(ctx, DetailTypeRelationsCreated, RelationsCreatedDetail{
		Namespace: namespace,
		NodeID:    nodeID,
		EdgeCount: edgeCount,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, detailType string, detail any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return appErrors.NewInternal("failed to marshal event detail", err)
	}

	result, err := p.client.PutEvents(ctx, &awseventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(payload)),
			Time:         aws.Time(time.Now().UTC()),
		}},
	})
	if err != nil {
		return appErrors.NewUnavailable("failed to publish event", err)
	}
	if result.FailedEntryCount > 0 {
		entry := result.Entries[0]
		p.logger.Warn("event publish rejected",
			zap.String("detail_type", detailType),
			zap.Stringp("error_code", entry.ErrorCode),
			zap.Stringp("error_message", entry.ErrorMessage),
		)
		return appErrors.NewUnavailable("event bus rejected entry", nil)
	}
	return nil
}
