package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-runonce/internal/aws"
	"github.com/imrishuroy/go-runonce/internal/orders"
	"github.com/imrishuroy/go-runonce/internal/validation"
	"github.com/imrishuroy/go-runonce/pkg/runonce"
)

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Coordinator *runonce.Coordinator
	DynamoDB    aws.DynamoDBAPI
	SQS         aws.SQSAPI
	OrdersTable string
	QueueURL    string
	LeaseTTL    time.Duration
}

// orderIntake is the persisted preprocessed input of one order creation.
// Persisting it pins the generated order id, so a retried request creates
// the same order instead of a new one.
type orderIntake struct {
	OrderID string                        `json:"order_id"`
	Request validation.CreateOrderRequest `json:"request"`
}

// OrderResponse is both the stored response blob and the HTTP payload.
type OrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	ordersStore := orders.NewStore(cfg.DynamoDB, cfg.OrdersTable)
	publisher := aws.NewPublisher(cfg.SQS, cfg.QueueURL)

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var payload validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &payload, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := validation.NormalizeKey(c.GetHeader("Idempotency-Key"))
		if err := validation.ValidateIdempotencyKey(idempKey); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_idempotency_key", "detail": err.Error()})
			return
		}

		correlationID := c.GetHeader("X-Request-Id")

		req := runonce.Request[orderIntake, OrderResponse, OrderResponse]{
			Persistent:       true,
			TTL:              cfg.LeaseTTL,
			AutomaticTimeout: true,
			Preprocess: func(ctx context.Context) (orderIntake, error) {
				return orderIntake{OrderID: uuid.NewString(), Request: payload}, nil
			},
			Handler: func(ctx context.Context, in orderIntake, retry bool) (OrderResponse, error) {
				return createOrder(ctx, ordersStore, publisher, in, correlationID, retry)
			},
			Postprocess: func(ctx context.Context, resp OrderResponse, replayed bool) (OrderResponse, error) {
				status := http.StatusCreated
				if replayed {
					status = http.StatusOK
				}
				c.Header("Location", fmt.Sprintf("/orders/%s", resp.OrderID))
				c.JSON(status, resp)
				return resp, nil
			},
		}

		if _, err := runonce.RunOnce(ctx, cfg.Coordinator, "order:"+idempKey, req); err != nil {
			writeRunOnceError(c, err)
		}
	})
}

// createOrder persists the order and enqueues it for the worker. An enqueue
// failure is retryable: the order row guard makes the re-run safe.
func createOrder(ctx context.Context, store *orders.Store, publisher *aws.Publisher, in orderIntake, correlationID string, retry bool) (OrderResponse, error) {
	order := orders.Order{
		OrderID:    in.OrderID,
		CustomerID: in.Request.CustomerID,
		Status:     orders.StatusPending,
		Amount:     in.Request.Amount,
		Currency:   in.Request.Currency,
		Metadata:   in.Request.Metadata,
	}
	items := make([]map[string]interface{}, 0, len(in.Request.Items))
	for _, it := range in.Request.Items {
		items = append(items, map[string]interface{}{
			"sku":      it.SKU,
			"quantity": it.Quantity,
			"price":    it.Price,
		})
	}
	order.Items = items

	if err := store.Create(ctx, order); err != nil {
		// On retry the row may exist from the earlier attempt; that is the
		// state we wanted, so continue to the enqueue.
		if !retry || !errors.Is(err, orders.ErrStatusMismatch) {
			return OrderResponse{}, runonce.Retryable(fmt.Errorf("create order: %w", err))
		}
	}

	msgPayload, _ := json.Marshal(map[string]string{
		"order_id":       in.OrderID,
		"correlation_id": correlationID,
	})
	attrs := map[string]string{
		"order_id":       in.OrderID,
		"correlation_id": correlationID,
	}
	if err := publisher.SendTaskMessage(ctx, string(msgPayload), attrs); err != nil {
		return OrderResponse{}, runonce.Retryable(fmt.Errorf("enqueue order: %w", err))
	}

	return OrderResponse{OrderID: in.OrderID, Status: orders.StatusPending}, nil
}

func writeRunOnceError(c *gin.Context, err error) {
	var te *runonce.TimeoutError
	switch {
	case errors.Is(err, runonce.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
	case errors.Is(err, runonce.ErrOperationFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "previous_attempt_failed"})
	case errors.As(err, &te):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "processing_timeout"})
	case runonce.IsRetryable(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transient_failure", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed", "detail": err.Error()})
	}
}
