package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/notifier"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v", err)
	}

	cfg := config.MustLoad()

	logger, err := config.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	if cfg.MySQL.Migrate {
		if err := storage.RunMigrations(db); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db, cfg.Checkout.TxTimeout)
	redisAdapter := storage.NewRedisAdapter(rdb, cfg.Redis.CartTTL)

	var publisher port.OrderNotifier
	var kafkaNotifier *notifier.KafkaNotifier
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier = notifier.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		publisher = kafkaNotifier
		logger.Info("publishing order events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	} else {
		publisher = notifier.NewLogNotifier(logger)
	}
	dispatcher := notifier.NewDispatcher(publisher, cfg.Kafka.Workers, cfg.Kafka.QueueSize, logger)
	logger.Info("started notification workers", zap.Int("workers", cfg.Kafka.Workers))

	// Initialize services
	checkoutService := service.NewCheckoutService(mysqlAdapter, mysqlAdapter, mysqlAdapter, redisAdapter, dispatcher, logger)
	cartService := service.NewCartService(redisAdapter, mysqlAdapter, logger)
	orderService := service.NewOrderService(mysqlAdapter, logger)
	catalogService := service.NewCatalogService(mysqlAdapter, logger)
	userService := service.NewUserService(mysqlAdapter, logger)

	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryInterceptor))
	handler.RegisterCheckoutServiceServer(grpcServer, handler.NewGRPCHandler(checkoutService, logger))

	lis, err := net.Listen("tcp", cfg.GRPC.Port)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPC.Port), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Port))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(checkoutService, cartService, orderService, catalogService, userService, redisAdapter, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Port,
		Handler:           httpHandler.Routes(auth, cfg.HTTP.Timeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Drain queued order events before closing the writer
	dispatcher.Close()
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			logger.Warn("kafka writer close", zap.Error(err))
		}
	}
	logger.Info("notification workers stopped")

	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
