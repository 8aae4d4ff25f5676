package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	defaultMySQLDSN = "root:root@tcp(localhost:3306)/storefront?parseTime=true&multiStatements=true"
	defaultRedis    = "localhost:6379"
	initialStock    = 20
	totalRequests   = 50
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := sql.Open("mysql", envOr("MYSQL_DSN", defaultMySQLDSN))
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(totalRequests * 2)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	if err := storage.RunMigrations(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: envOr("REDIS_ADDR", defaultRedis)})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	mysqlAdapter := storage.NewMySQLAdapter(db, 10*time.Second)
	redisAdapter := storage.NewRedisAdapter(rdb, time.Hour)

	// Seed one product and one user per request, each with a single unit in the cart
	product := &domain.Product{
		Name:  "stress-" + uuid.NewString()[:8],
		Price: decimal.RequireFromString("9.99"),
		Stock: initialStock,
	}
	if err := mysqlAdapter.SaveProduct(ctx, product); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	userIDs := make([]int64, totalRequests)
	for i := range userIDs {
		result, err := db.ExecContext(ctx, `
			INSERT INTO users (username, email, phone, bonus) VALUES (?, ?, ?, ?)`,
			fmt.Sprintf("stress-%s-%d", uuid.NewString()[:8], i), "stress@example.com", "+10000000", "1.00",
		)
		if err != nil {
			log.Fatalf("failed to seed user: %v", err)
		}
		userIDs[i], _ = result.LastInsertId()

		cart := domain.NewCart(userIDs[i])
		cart.Add(*product, 1, false)
		if err := redisAdapter.SaveCart(ctx, cart); err != nil {
			log.Fatalf("failed to seed cart: %v", err)
		}
	}

	checkoutService := service.NewCheckoutService(mysqlAdapter, mysqlAdapter, mysqlAdapter, redisAdapter, nil, logger)

	// Counters
	var successCount, stockFailCount, conflictCount, otherCount atomic.Int32

	// Spawn concurrent checkouts
	var wg sync.WaitGroup
	start := time.Now()

	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			_, err := checkoutService.CheckoutCart(ctx, userID, "1 Stress Ave", decimal.RequireFromString("1"))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrInsufficientStock):
				stockFailCount.Add(1)
			case errors.Is(err, service.ErrConcurrencyConflict):
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("user %d: unexpected error: %v", userID, err)
			}
		}(userID)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", stockFailCount.Load())
	fmt.Printf("Lock conflicts:   %d\n", conflictCount.Load())
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded\n", initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d successful orders, got %d\n", initialStock, success)
	}

	stored, err := mysqlAdapter.GetProduct(ctx, product.ID)
	if err != nil || stored == nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", stored.Stock)

	if stored.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", stored.Stock)
	}
}
