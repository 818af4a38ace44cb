// Package dynamodb implements the graph store on a single DynamoDB
// table. Each namespace is one partition: nodes live under
// PK=MEMORY#<namespace>, SK=NODE#<id>; edges under SK=EDGE#<source>#<type>#<target>.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/repository"
	appErrors "memcore/pkg/errors"
)

// Store implements repository.Store on DynamoDB. Vector search scans the
// namespace partition and scores client-side; at the scale of one
// tenant's memory graph this is a partition query, not a table scan.
type Store struct {
	client    *awsdynamodb.Client
	tableName string
	dimension int
	logger    *zap.Logger
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a DynamoDB-backed store.
func NewStore(client *awsdynamodb.Client, tableName string, dimension int, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		dimension: dimension,
		logger:    logger,
	}
}

type nodeItem struct {
	PK         string             `dynamodbav:"PK"`
	SK         string             `dynamodbav:"SK"`
	ID         string             `dynamodbav:"ID"`
	Text       string             `dynamodbav:"Text"`
	Embedding  []float32          `dynamodbav:"Embedding"`
	MemoryType string             `dynamodbav:"MemoryType"`
	Key        string             `dynamodbav:"NodeKey,omitempty"`
	Tags       []string           `dynamodbav:"Tags,omitempty"`
	Confidence float64            `dynamodbav:"Confidence"`
	Background string             `dynamodbav:"Background,omitempty"`
	Sources    []domain.SourceRef `dynamodbav:"Sources,omitempty"`
	Status     string             `dynamodbav:"Status"`
	CreatedAt  time.Time          `dynamodbav:"CreatedAt"`
	UpdatedAt  time.Time          `dynamodbav:"UpdatedAt"`
}

type edgeItem struct {
	PK           string  `dynamodbav:"PK"`
	SK           string  `dynamodbav:"SK"`
	SourceID     string  `dynamodbav:"SourceID"`
	TargetID     string  `dynamodbav:"TargetID"`
	RelationType string  `dynamodbav:"RelationType"`
	Confidence   float64 `dynamodbav:"Confidence"`
}

func partitionKey(namespace string) string { return "MEMORY#" + namespace }
func nodeSortKey(id string) string         { return "NODE#" + id }

func edgeSortKey(edge domain.MemoryEdge) string {
	return fmt.Sprintf("EDGE#%s#%s#%s", edge.SourceID, edge.RelationType, edge.TargetID)
}

func toNodeItem(namespace string, node *domain.MemoryNode) nodeItem {
	return nodeItem{
		PK:         partitionKey(namespace),
		SK:         nodeSortKey(node.ID),
		ID:         node.ID,
		Text:       node.Text,
		Embedding:  node.Embedding,
		MemoryType: string(node.MemoryType),
		Key:        node.Key,
		Tags:       node.Tags,
		Confidence: node.Confidence,
		Background: node.Background,
		Sources:    node.Sources,
		Status:     string(node.Status),
		CreatedAt:  node.CreatedAt,
		UpdatedAt:  node.UpdatedAt,
	}
}

func (i nodeItem) toNode() *domain.MemoryNode {
	return &domain.MemoryNode{
		ID:         i.ID,
		Text:       i.Text,
		Embedding:  i.Embedding,
		MemoryType: domain.MemoryType(i.MemoryType),
		Key:        i.Key,
		Tags:       i.Tags,
		Confidence: i.Confidence,
		Background: i.Background,
		Sources:    i.Sources,
		Status:     domain.NodeStatus(i.Status),
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

func (s *Store) AddNode(ctx context.Context, namespace string, node *domain.MemoryNode) error {
	if err := node.Validate(s.dimension); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(toNodeItem(namespace, node))
	if err != nil {
		return appErrors.NewInternal("failed to marshal node", err)
	}

	_, err = s.client.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return appErrors.NewInvariant(fmt.Sprintf("node %s already exists", node.ID))
		}
		return classify(err, "failed to save node")
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, namespace, id string) (*domain.MemoryNode, error) {
	result, err := s.client.GetItem(ctx, &awsdynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(namespace)},
			"SK": &types.AttributeValueMemberS{Value: nodeSortKey(id)},
		},
	})
	if err != nil {
		return nil, classify(err, "failed to get node")
	}
	if result.Item == nil {
		return nil, appErrors.NewNotFound(fmt.Sprintf("node %s not found", id))
	}

	var item nodeItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal node", err)
	}
	return item.toNode(), nil
}

func (s *Store) UpdateNode(ctx context.Context, namespace string, node *domain.MemoryNode) error {
	if err := node.Validate(s.dimension); err != nil {
		return err
	}
	node.UpdatedAt = time.Now().UTC()

	item, err := attributevalue.MarshalMap(toNodeItem(namespace, node))
	if err != nil {
		return appErrors.NewInternal("failed to marshal node", err)
	}

	_, err = s.client.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return appErrors.NewNotFound(fmt.Sprintf("node %s not found", node.ID))
		}
		return classify(err, "failed to update node")
	}
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, namespace, id string) error {
	_, err := s.client.DeleteItem(ctx, &awsdynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(namespace)},
			"SK": &types.AttributeValueMemberS{Value: nodeSortKey(id)},
		},
	})
	if err != nil {
		return classify(err, "failed to delete node")
	}
	return nil
}

func (s *Store) AddEdge(ctx context.Context, namespace string, edge domain.MemoryEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	source, err := s.GetNode(ctx, namespace, edge.SourceID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return appErrors.NewInvariant(fmt.Sprintf("edge source %s does not exist", edge.SourceID))
		}
		return err
	}
	target, err := s.GetNode(ctx, namespace, edge.TargetID)
	if err != nil {
		if appErrors.IsNotFound(err) {
			return appErrors.NewInvariant(fmt.Sprintf("edge target %s does not exist", edge.TargetID))
		}
		return err
	}
	if edge.RelationType == domain.RelationFollows {
		if err := domain.ValidateFollows(source, target); err != nil {
			return err
		}
	}

	item, err := attributevalue.MarshalMap(edgeItem{
		PK:           partitionKey(namespace),
		SK:           edgeSortKey(edge),
		SourceID:     edge.SourceID,
		TargetID:     edge.TargetID,
		RelationType: string(edge.RelationType),
		Confidence:   edge.Confidence,
	})
	if err != nil {
		return appErrors.NewInternal("failed to marshal edge", err)
	}

	_, err = s.client.PutItem(ctx, &awsdynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return classify(err, "failed to save edge")
	}
	return nil
}

func (s *Store) GetEdges(ctx context.Context, namespace, nodeID string) ([]domain.MemoryEdge, error) {
	items, err := s.queryBySortPrefix(ctx, namespace, "EDGE#"+nodeID+"#")
	if err != nil {
		return nil, err
	}

	edges := make([]domain.MemoryEdge, 0, len(items))
	for _, raw := range items {
		var item edgeItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			s.logger.Warn("failed to unmarshal edge", zap.Error(err))
			continue
		}
		edges = append(edges, domain.MemoryEdge{
			SourceID:     item.SourceID,
			TargetID:     item.TargetID,
			RelationType: domain.RelationType(item.RelationType),
			Confidence:   item.Confidence,
		})
	}
	return edges, nil
}

func (s *Store) VectorSearch(ctx context.Context, namespace string, scope domain.MemoryType, embedding []float32, k int) ([]repository.ScoredNode, error) {
	nodes, err := s.listNodes(ctx, namespace, scope)
	if err != nil {
		return nil, err
	}

	scored := make([]repository.ScoredNode, 0, len(nodes))
	for _, node := range nodes {
		scored = append(scored, repository.ScoredNode{
			Node:  node,
			Score: repository.CosineSimilarity(embedding, node.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *Store) KeywordSearch(ctx context.Context, namespace string, scope domain.MemoryType, terms []string) ([]*domain.MemoryNode, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	nodes, err := s.listNodes(ctx, namespace, scope)
	if err != nil {
		return nil, err
	}

	var matched []*domain.MemoryNode
	for _, node := range nodes {
		if matchesAnyTerm(node, terms) {
			matched = append(matched, node)
		}
	}
	return matched, nil
}

func matchesAnyTerm(node *domain.MemoryNode, terms []string) bool {
	text := strings.ToLower(node.Text)
	key := strings.ToLower(node.Key)
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if strings.Contains(text, t) || strings.Contains(key, t) {
			return true
		}
		for _, tag := range node.Tags {
			if strings.EqualFold(tag, t) {
				return true
			}
		}
	}
	return false
}

func (s *Store) Traverse(ctx context.Context, namespace, nodeID string, relationTypes []domain.RelationType, depth int) ([]*domain.MemoryNode, error) {
	wanted := make(map[domain.RelationType]struct{}, len(relationTypes))
	for _, rt := range relationTypes {
		wanted[rt] = struct{}{}
	}

	visited := map[string]struct{}{nodeID: {}}
	frontier := []string{nodeID}
	var result []*domain.MemoryNode

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.GetEdges(ctx, namespace, id)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if len(wanted) > 0 {
					if _, ok := wanted[edge.RelationType]; !ok {
						continue
					}
				}
				if _, seen := visited[edge.TargetID]; seen {
					continue
				}
				visited[edge.TargetID] = struct{}{}

				node, err := s.GetNode(ctx, namespace, edge.TargetID)
				if err != nil {
					if appErrors.IsNotFound(err) {
						continue
					}
					return nil, err
				}
				if node.Status != domain.StatusActivated {
					continue
				}
				result = append(result, node)
				next = append(next, edge.TargetID)
			}
		}
		frontier = next
	}
	return result, nil
}

// listNodes queries the namespace partition for all activated nodes in
// scope, following pagination.
func (s *Store) listNodes(ctx context.Context, namespace string, scope domain.MemoryType) ([]*domain.MemoryNode, error) {
	items, err := s.queryBySortPrefix(ctx, namespace, "NODE#")
	if err != nil {
		return nil, err
	}

	nodes := make([]*domain.MemoryNode, 0, len(items))
	for _, raw := range items {
		var item nodeItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			s.logger.Warn("failed to unmarshal node", zap.Error(err))
			continue
		}
		node := item.toNode()
		if node.Status != domain.StatusActivated {
			continue
		}
		if scope != "" && node.MemoryType != scope {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *Store) queryBySortPrefix(ctx context.Context, namespace, prefix string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue

	for {
		result, err := s.client.Query(ctx, &awsdynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: partitionKey(namespace)},
				":sk": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, classify(err, "failed to query namespace partition")
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return items, nil
}

// classify maps AWS SDK errors onto the service error taxonomy.
func classify(err error, message string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"ServiceUnavailable", "InternalServerError", "RequestLimitExceeded":
			return appErrors.NewUnavailable(message, err)
		}
	}
	return appErrors.NewInternal(message, err)
}
