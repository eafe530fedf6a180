package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDeduper.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDeduper keeps the dedup window in a DynamoDB table with a string
// partition key "PK" and TTL enabled on "expires_at".
//
// Table TTL deletion is lazy, so the conditional put also treats an item
// whose expires_at has passed as absent.
type DynamoDeduper struct {
	api       dynamodbAPI
	tableName string
	window    time.Duration
}

// NewDynamoDeduper creates a deduper on the given table.
func NewDynamoDeduper(api dynamodbAPI, tableName string, window time.Duration) (*DynamoDeduper, error) {
	if api == nil {
		return nil, errors.New("dynamo dedup: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo dedup: table name must not be empty")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &DynamoDeduper{api: api, tableName: tableName, window: window}, nil
}

func eventPK(key string) string {
	return "EVENT#" + key
}

// Claim implements Deduper.
func (d *DynamoDeduper) Claim(ctx context.Context, key string, at time.Time) (bool, error) {
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: eventPK(key)},
			"seen_at":    &types.AttributeValueMemberN{Value: strconv.FormatInt(at.UnixMilli(), 10)},
			"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(at.Add(d.window).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(at.Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("dynamo dedup: claim %s: %w", key, err)
	}
	return true, nil
}

// Release implements Deduper.
func (d *DynamoDeduper) Release(ctx context.Context, key string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: eventPK(key)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo dedup: release %s: %w", key, err)
	}
	return nil
}
