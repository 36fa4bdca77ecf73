package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-runonce/internal/aws"
	"github.com/imrishuroy/go-runonce/internal/config"
	"github.com/imrishuroy/go-runonce/internal/handlers"
	"github.com/imrishuroy/go-runonce/pkg/dynamostore"
	"github.com/imrishuroy/go-runonce/pkg/runonce"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

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
		runonce.WithMetrics(runonce.NewMetrics(nil)),
	)

	cfg := handlers.HandlerConfig{
		Coordinator: coordinator,
		DynamoDB:    clients.DynamoDB,
		SQS:         clients.SQS,
		OrdersTable: conf.OrdersTable,
		QueueURL:    conf.QueueURL,
		LeaseTTL:    conf.LeaseTTL.Std(),
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		log.Printf("running local server on %s", conf.ListenAddr)
		if err := r.Run(conf.ListenAddr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
