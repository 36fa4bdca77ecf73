package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-runonce/internal/aws"
	"github.com/imrishuroy/go-runonce/internal/orders"
	"github.com/imrishuroy/go-runonce/pkg/runonce"
)

// Processor handles SQS messages and performs order lifecycle transitions.
// Each message runs through the coordinator keyed by its order id, so a
// redelivered or duplicated message never completes an order twice.
type Processor struct {
	coordinator *runonce.Coordinator
	orderStore  *orders.Store
	metrics     *aws.MetricsEmitter
	leaseTTL    time.Duration
	logger      *slog.Logger
}

// NewProcessor wires the worker's dependencies.
func NewProcessor(coordinator *runonce.Coordinator, orderStore *orders.Store, metrics *aws.MetricsEmitter, leaseTTL time.Duration, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		coordinator: coordinator,
		orderStore:  orderStore,
		metrics:     metrics,
		leaseTTL:    leaseTTL,
		logger:      logger,
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.logger.Error("worker error", "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg WorkerMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	p.logger.Info("received order message", "order_id", msg.OrderID, "correlation_id", msg.CorrelationID)

	req := runonce.Request[string, string, string]{
		TTL:              p.leaseTTL,
		AutomaticTimeout: true,
		Preprocess: func(ctx context.Context) (string, error) {
			return msg.OrderID, nil
		},
		Handler: func(ctx context.Context, orderID string, retry bool) (string, error) {
			return p.processOrder(ctx, orderID, retry)
		},
	}

	status, err := runonce.RunOnce(ctx, p.coordinator, "process:"+msg.OrderID, req)
	switch {
	case err == nil:
		p.metrics.Count(ctx, "OrdersProcessed", 1, map[string]string{"Status": status})
		p.logger.Info("order processed", "order_id", msg.OrderID, "status", status)
		return nil
	case errors.Is(err, runonce.ErrAlreadyRunning):
		// Another worker holds the lease; swallow the duplicate delivery.
		p.logger.Info("duplicate delivery while processing", "order_id", msg.OrderID)
		return nil
	default:
		return fmt.Errorf("process order %s: %w", msg.OrderID, err)
	}
}

// processOrder drives PENDING -> PROCESSING -> COMPLETED. It is the
// run-once handler body: transient failures are marked retryable so a later
// delivery re-enters here with retry=true.
func (p *Processor) processOrder(ctx context.Context, orderID string, retry bool) (string, error) {
	order, err := p.orderStore.Get(ctx, orderID)
	if err != nil {
		return "", runonce.Retryable(fmt.Errorf("fetch order: %w", err))
	}
	if order == nil {
		// Should never happen; non-retryable so the message goes to the DLQ.
		return "", fmt.Errorf("order not found: %s", orderID)
	}

	if retry {
		if err := p.orderStore.IncrementAttempts(ctx, orderID); err != nil {
			p.logger.Warn("attempts counter not updated", "order_id", orderID, "error", err)
		}
	}

	err = p.orderStore.UpdateStatus(ctx, orderID, orders.StatusPending, orders.StatusProcessing)
	if errors.Is(err, orders.ErrStatusMismatch) {
		o2, gerr := p.orderStore.Get(ctx, orderID)
		if gerr != nil || o2 == nil {
			return "", runonce.Retryable(fmt.Errorf("re-fetch order: %v", gerr))
		}
		switch o2.Status {
		case orders.StatusCompleted:
			p.logger.Info("order already completed", "order_id", orderID)
			return orders.StatusCompleted, nil
		case orders.StatusFailed:
			return "", fmt.Errorf("order %s is already FAILED", orderID)
		case orders.StatusProcessing:
			// A previous attempt died mid-flight; we hold the lease now,
			// so carry on from PROCESSING.
		default:
			return "", fmt.Errorf("unexpected status for order %s: %s", orderID, o2.Status)
		}
	} else if err != nil {
		return "", runonce.Retryable(fmt.Errorf("update status to PROCESSING: %w", err))
	}

	p.logger.Info("processing business logic", "order_id", orderID)
	time.Sleep(200 * time.Millisecond) // simulate processing work

	if err := p.orderStore.UpdateStatus(ctx, orderID, orders.StatusProcessing, orders.StatusCompleted); err != nil {
		return "", runonce.Retryable(fmt.Errorf("update status to COMPLETED: %w", err))
	}

	return orders.StatusCompleted, nil
}
