package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-runonce/internal/aws"
	"github.com/imrishuroy/go-runonce/internal/config"
	"github.com/imrishuroy/go-runonce/internal/orders"
	"github.com/imrishuroy/go-runonce/pkg/dynamostore"
	"github.com/imrishuroy/go-runonce/pkg/runonce"
)

func main() {
	ctx := context.Background()

	conf, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	coordinator := runonce.New(
		dynamostore.NewStore(clients.DynamoDB, conf.RunOnceTable),
		runonce.WithMonitor(runonce.NewSlogMonitor(slog.Default())),
	)

	processor := NewProcessor(
		coordinator,
		orders.NewStore(clients.DynamoDB, conf.OrdersTable),
		aws.NewMetricsEmitter(clients.CloudWatch, conf.MetricsNamespace, slog.Default()),
		conf.LeaseTTL.Std(),
		slog.Default(),
	)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"order_id":"local-order-1"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: testBody},
			},
		}
		if err := processor.Handle(ctx, event); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(processor.Handle)
}
