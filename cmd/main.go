/**
 * @description
 * This is the main entry point for the drop-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the chat transport, the wallet ledger client, message brokers,
 * repositories, the core application service, the mailbox worker pool, the
 * session sweeper, and the internal ops HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/chatclient, pkg/ledgerclient, pkg/geoclient, pkg/rabbitmq: Collaborator clients.
 */

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coindrop/drop-service/internal/api"
	"github.com/coindrop/drop-service/internal/app"
	"github.com/coindrop/drop-service/internal/config"
	"github.com/coindrop/drop-service/internal/store"
	"github.com/coindrop/drop-service/pkg/chatclient"
	"github.com/coindrop/drop-service/pkg/geoclient"
	"github.com/coindrop/drop-service/pkg/ledgerclient"
	"github.com/coindrop/drop-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting drop-service\" ops_port=%s workers=%d", cfg.OpsPort, cfg.WorkerCount)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for audit events. The broker being
	// down degrades to local logging rather than blocking the bot.
	var producer rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Connect the chat transport. Without it there is no bot, so failure is fatal.
	chatClient, err := chatclient.Dial(cfg.ChatSocketAddr, cfg.ChatAccount)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"chat transport connection failed\" err=%v", err)
	}
	defer chatClient.Close()
	log.Println("level=info component=bootstrap msg=\"chat transport connected\"")

	// Initialize the wallet ledger and geocoder clients.
	ledgerClient := ledgerclient.NewClient(cfg.LedgerRPCURL, cfg.LedgerAccountID)
	geoClient := geoclient.NewClient(cfg.GeocoderBaseURL, cfg.GeocoderAPIKey)

	var redisClient *redis.Client
	if cfg.MessagesPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; inbound rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; inbound rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; inbound rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	service := app.NewService(
		repository,
		chatClient,
		ledgerClient,
		geoClient,
		producer,
		app.Config{
			MinimumFee:        cfg.MinimumFeePmob,
			PaymentAddress:    cfg.BotPaymentAddress,
			MessagesPerMinute: cfg.MessagesPerMinute,
		},
	)
	if redisClient != nil {
		service.SetRateLimiter(app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the mailbox worker pool.
	pool := app.NewWorkerPool(service, repository, cfg.WorkerCount, 0)
	pool.Start(rootCtx)

	// Start the session sweeper.
	sweeper := app.NewSweeper(repository, app.SweeperConfig{
		StaleSessionSchedule: cfg.StaleSessionSchedule,
		ExpiredDropSchedule:  cfg.ExpiredDropSchedule,
		IdleAfter:            time.Duration(cfg.SessionIdleAfterMinutes) * time.Minute,
	})
	sweeper.Start()

	// Drain the chat transport into the durable mailbox.
	go func() {
		for {
			select {
			case <-rootCtx.Done():
				return
			case ev, ok := <-chatClient.Events():
				if !ok {
					log.Println("level=error component=bootstrap msg=\"chat event stream closed\"")
					stop()
					return
				}
				if err := service.EnqueueEvent(rootCtx, ev); err != nil {
					log.Printf("level=error component=bootstrap msg=\"enqueue failed\" sender=%s err=%v", ev.Sender, err)
				}
			}
		}
	}()

	// Start the internal ops HTTP server.
	opsHandlers := api.NewOpsHandlers(service)
	server := &http.Server{
		Addr:    ":" + cfg.OpsPort,
		Handler: api.OpsRoutes(opsHandlers, cfg.InternalAPIKey),
	}
	go func() {
		log.Printf("level=info component=bootstrap msg=\"ops server listening\" addr=%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("level=error component=bootstrap msg=\"ops server failed\" err=%v", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Println("level=info component=bootstrap msg=\"shutting down\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"ops server shutdown failed\" err=%v", err)
	}
	<-sweeper.Stop().Done()
	pool.Shutdown(15 * time.Second)
	log.Println("level=info component=bootstrap msg=\"drop-service stopped\"")
}
