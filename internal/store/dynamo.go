package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/chatbotadsmanager/adsmanager/internal/models"
)

const (
	pkPrefixConv      = "CONV#"
	pkPrefixProcessed = "PROC#"
	skPrefixMsg       = "MSG#"
	skMeta            = "META"
	skProcessed       = "PROCESSED"
)

var _ ConversationStore = (*DynamoStore)(nil)

// dynamodbAPI is the minimal DynamoDB surface used by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps conversation documents and processed-message markers in a
// single DynamoDB table keyed by PK/SK.
type DynamoStore struct {
	api   dynamodbAPI
	table string
}

// NewDynamoStore wraps a DynamoDB client. The table name comes from WithDynamoTable.
func NewDynamoStore(api dynamodbAPI, opts ...Option) (*DynamoStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if api == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("store: dynamodb table name must not be empty")
	}
	slog.Debug("NewDynamoStore invoked", "table", cfg.Table)
	return &DynamoStore{api: api, table: cfg.Table}, nil
}

func convPK(userID string) string { return pkPrefixConv + userID }

func msgSK(ts string) string {
	return skPrefixMsg + ts + "#" + uuid.NewString()[:8]
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// Register writes a processed-message marker guarded by attribute_not_exists.
func (s *DynamoStore) Register(ctx context.Context, messageID, senderID string) (bool, error) {
	item := keyOf(pkPrefixProcessed+messageID, skProcessed)
	item["sender"] = &types.AttributeValueMemberS{Value: senderID}
	item["receivedAt"] = &types.AttributeValueMemberS{Value: models.FormatTimestamp(time.Now())}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		slog.Debug("DynamoStore Register: duplicate", "message_id", messageID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: Register put item: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              keyOf(pkPrefixProcessed+messageID, skProcessed),
		UpdateExpression: aws.String("SET processedAt = :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberS{Value: models.FormatTimestamp(time.Now())},
		},
	})
	if err != nil {
		return fmt.Errorf("store: MarkProcessed: %w", err)
	}
	return nil
}

// Append writes the message and refreshes the conversation metadata in one transaction.
func (s *DynamoStore) Append(ctx context.Context, userID string, msg models.Message) error {
	pk := convPK(userID)
	msgItem := keyOf(pk, msgSK(msg.Timestamp))
	msgItem["role"] = &types.AttributeValueMemberS{Value: msg.Role}
	msgItem["content"] = &types.AttributeValueMemberS{Value: msg.Content}
	msgItem["timestamp"] = &types.AttributeValueMemberS{Value: msg.Timestamp}

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.table),
					Item:                msgItem,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:        aws.String(s.table),
					Key:              keyOf(pk, skMeta),
					UpdateExpression: aws.String("SET displayName = if_not_exists(displayName, :name), userId = :uid, updatedAt = :ts"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":name": &types.AttributeValueMemberS{Value: models.DefaultDisplayName},
						":uid":  &types.AttributeValueMemberS{Value: userID},
						":ts":   &types.AttributeValueMemberS{Value: msg.Timestamp},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("store: Append: %w", err)
	}
	return nil
}

func (s *DynamoStore) messageQuery(userID string, forward bool) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(forward),
	}
}

// Recent pages newest-first until both role quotas are filled.
func (s *DynamoStore) Recent(ctx context.Context, userID string, maxUser, maxAssistant int) ([]models.Message, error) {
	in := s.messageQuery(userID, false)
	var users, assistants []models.Message
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("store: Recent query: %w", err)
		}
		for _, item := range out.Items {
			m, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("store: Recent unmarshal: %w", err)
			}
			switch {
			case m.Role == models.RoleUser && len(users) < maxUser:
				users = append(users, m)
			case m.Role == models.RoleAssistant && len(assistants) < maxAssistant:
				assistants = append(assistants, m)
			}
		}
		if len(out.LastEvaluatedKey) == 0 || (len(users) >= maxUser && len(assistants) >= maxAssistant) {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	reverse(users)
	reverse(assistants)
	return models.MergeByTimestamp(users, assistants), nil
}

func (s *DynamoStore) HasHistory(ctx context.Context, userID string) (bool, error) {
	in := s.messageQuery(userID, true)
	in.Limit = aws.Int32(1)
	out, err := s.api.Query(ctx, in)
	if err != nil {
		return false, fmt.Errorf("store: HasHistory query: %w", err)
	}
	return len(out.Items) > 0, nil
}

func (s *DynamoStore) Conversation(ctx context.Context, userID string) (models.Conversation, error) {
	conv := models.Conversation{UserID: userID}
	meta, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(convPK(userID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return conv, fmt.Errorf("store: Conversation get meta: %w", err)
	}
	if meta == nil || len(meta.Item) == 0 {
		return conv, fmt.Errorf("conversation %s: %w", userID, models.ErrRecordNotFound)
	}
	conv.DisplayName, _ = strAttr(meta.Item, "displayName")
	conv.LastUpdate, _ = strAttr(meta.Item, "updatedAt")

	in := s.messageQuery(userID, true)
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return conv, fmt.Errorf("store: Conversation query: %w", err)
		}
		for _, item := range out.Items {
			m, err := itemToMessage(item)
			if err != nil {
				return conv, fmt.Errorf("store: Conversation unmarshal: %w", err)
			}
			conv.Messages = append(conv.Messages, m)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return conv, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) ListConversationIDs(ctx context.Context) ([]string, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("SK = :meta"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":meta": &types.AttributeValueMemberS{Value: skMeta},
		},
	}
	var ids []string
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("store: ListConversationIDs scan: %w", err)
		}
		for _, item := range out.Items {
			pk, err := strAttr(item, "PK")
			if err != nil {
				return nil, err
			}
			ids = append(ids, strings.TrimPrefix(pk, pkPrefixConv))
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func itemToMessage(item map[string]types.AttributeValue) (models.Message, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return models.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return models.Message{}, err
	}
	ts, _ := strAttr(item, "timestamp")
	return models.Message{Role: role, Content: content, Timestamp: ts}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("store: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("store: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
