// Package dynamostore persists run-once records in DynamoDB. Insert relies
// on a conditional put (attribute_not_exists) for duplicate detection and
// Claim on a conditional update, so both are atomic per key without any
// table-level coordination.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-runonce/pkg/runonce"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error)
	GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error)
}

// Store implements runonce.Store against a DynamoDB table keyed by id.
type Store struct {
	client    DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store bound to tableName.
func NewStore(client DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// item is the persisted attribute layout. Timestamps are RFC3339 strings so
// the table stays readable in the console.
type item struct {
	ID         string  `dynamodbav:"id"`
	StartedAt  string  `dynamodbav:"started_at"`
	FinishedAt *string `dynamodbav:"finished_at,omitempty"`
	StatusID   int     `dynamodbav:"status_id"`
	Request    *string `dynamodbav:"request,omitempty"`
	Response   *string `dynamodbav:"response,omitempty"`
}

func (s *Store) Insert(ctx context.Context, rec *runonce.Record) error {
	it := item{
		ID:        rec.Key,
		StartedAt: s.nowFunc().UTC().Format(time.RFC3339Nano),
		StatusID:  int(runonce.StatusRunning),
		Request:   rec.Request,
	}

	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: awsString("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("insert %q: %w", rec.Key, runonce.ErrDuplicateKey)
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) (*runonce.Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyAttr(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return it.record()
}

func (s *Store) Finish(ctx context.Context, key string, response *string, status runonce.Status) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)

	values := map[string]types.AttributeValue{
		":fin":    &types.AttributeValueMemberS{Value: now},
		":status": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", int(status))},
	}
	update := "SET finished_at = :fin, status_id = :status"
	if response != nil {
		update += ", #resp = :resp"
		values[":resp"] = &types.AttributeValueMemberS{Value: *response}
	} else {
		update += " REMOVE #resp"
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       keyAttr(key),
		UpdateExpression:          &update,
		ExpressionAttributeNames:  map[string]string{"#resp": "response"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("update item (finish): %w", err)
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, key string, expected runonce.Status) (bool, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      keyAttr(key),
		UpdateExpression:    awsString("SET status_id = :running, started_at = :now"),
		ConditionExpression: awsString("status_id = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":running":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", int(runonce.StatusRunning))},
			":now":      &types.AttributeValueMemberS{Value: now},
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", int(expected))},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("update item (claim): %w", err)
	}
	return true, nil
}

func (it *item) record() (*runonce.Record, error) {
	started, err := time.Parse(time.RFC3339Nano, it.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}

	rec := &runonce.Record{
		Key:       it.ID,
		StartedAt: started,
		Status:    runonce.Status(it.StatusID),
		Request:   it.Request,
		Response:  it.Response,
	}
	if it.FinishedAt != nil {
		fin, err := time.Parse(time.RFC3339Nano, *it.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		rec.FinishedAt = &fin
	}
	return rec, nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: key},
	}
}

// isConditionalCheckFailed matches both the typed and the smithy-level shape
// of a failed condition, depending on which call produced it.
func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
