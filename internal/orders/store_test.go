package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a simple mock supporting PutItem, GetItem and UpdateItem on
// the orders table, keyed by order_id.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := params.Item["order_id"].(*types.AttributeValueMemberS).Value
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(order_id)" {
		if _, exists := m.items[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.items[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := params.Key["order_id"].(*types.AttributeValueMemberS).Value
	item, exists := m.items[pk]
	if !exists {
		return nil, errors.New("item not found")
	}

	if params.ConditionExpression != nil && *params.ConditionExpression == "#s = :expected" {
		curr, ok := item["status"].(*types.AttributeValueMemberS)
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
		expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
		if curr.Value != expected {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	if v, ok := params.ExpressionAttributeValues[":new"]; ok {
		item["status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = v
	}
	if _, ok := params.ExpressionAttributeValues[":inc"]; ok {
		attempts := 0
		if cur, ok := item["attempts"].(*types.AttributeValueMemberN); ok {
			_ = attributevalue.Unmarshal(cur, &attempts)
		}
		av, _ := attributevalue.Marshal(attempts + 1)
		item["attempts"] = av
	}
	m.items[pk] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func TestCreate_SuccessAndDuplicate(t *testing.T) {
	mock := newMockDynamo()
	store := NewStore(mock, "orders")
	now := time.Now()

	order := Order{
		OrderID:    "order-1",
		CustomerID: "cust-1",
		Status:     StatusPending,
		Amount:     123.45,
		Items:      []map[string]interface{}{{"sku": "sku-1", "qty": 1}},
		CreatedAt:  now,
	}

	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	item, ok := mock.items["order-1"]
	if !ok {
		t.Fatalf("order item not stored")
	}
	var got Order
	if err := attributevalue.UnmarshalMap(item, &got); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if got.OrderID != order.OrderID {
		t.Fatalf("order id mismatch")
	}

	// second create must trip the guard
	err := store.Create(context.Background(), order)
	if err == nil {
		t.Fatalf("expected duplicate create to fail, got nil")
	}
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	store := NewStore(newMockDynamo(), "orders")

	got, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing order, got %+v", got)
	}
}

func TestUpdateStatus_Condition_SuccessAndFail(t *testing.T) {
	mock := newMockDynamo()
	now := time.Now()
	item, _ := attributevalue.MarshalMap(Order{
		OrderID:    "order-10",
		CustomerID: "c10",
		Status:     StatusPending,
		Amount:     1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	mock.items["order-10"] = item

	store := NewStore(mock, "orders")

	// success: PENDING -> PROCESSING
	err := store.UpdateStatus(context.Background(), "order-10", StatusPending, StatusProcessing)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// failure: PENDING -> COMPLETED (but current is PROCESSING)
	err = store.UpdateStatus(context.Background(), "order-10", StatusPending, StatusCompleted)
	if err == nil {
		t.Fatalf("expected ErrStatusMismatch, got nil")
	}
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
}

func TestIncrementAttempts(t *testing.T) {
	mock := newMockDynamo()
	item, _ := attributevalue.MarshalMap(Order{
		OrderID: "order-20",
		Status:  StatusPending,
		Amount:  1.0,
	})
	mock.items["order-20"] = item

	store := NewStore(mock, "orders")

	for i := 0; i < 2; i++ {
		if err := store.IncrementAttempts(context.Background(), "order-20"); err != nil {
			t.Fatalf("increment attempts: %v", err)
		}
	}

	var got Order
	if err := attributevalue.UnmarshalMap(mock.items["order-20"], &got); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", got.Attempts)
	}
}
