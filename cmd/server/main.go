/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the wallet ledger server. Handles configuration,
  explicit dependency construction, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags
  2. Open the store (Postgres when DATABASE_URL is set, SQLite otherwise)
  3. Attach the Kafka publisher when KAFKA_BROKERS is set
  4. Build engine, handler, router
  5. Start server with graceful shutdown

CONFIGURATION:
  -port          HTTP server port (default: 8080, env PORT)
  -db            SQLite database path (default: wallet.db, env SQLITE_PATH)
  DATABASE_URL   Postgres URL; takes precedence over SQLite
  KAFKA_BROKERS  Comma-separated broker list; events disabled when empty

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close publisher and store
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite, store/postgres: Store implementations
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/wallet-engine/api"
	"github.com/warp/wallet-engine/events/kafka"
	"github.com/warp/wallet-engine/store/postgres"
	"github.com/warp/wallet-engine/store/sqlite"
	"github.com/warp/wallet-engine/wallet"
)

func main() {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("SQLITE_PATH", "wallet.db"), "SQLite database path")
	flag.Parse()

	// Store: Postgres when configured, SQLite otherwise.
	var store wallet.TxStore
	var closeStore func() error
	if url := os.Getenv("DATABASE_URL"); url != "" {
		pg, err := postgres.New(url)
		if err != nil {
			log.Fatalf("Failed to initialize postgres: %v", err)
		}
		store, closeStore = pg, pg.Close
		log.Println("Using postgres store")
	} else {
		lite, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize sqlite: %v", err)
		}
		store, closeStore = lite, lite.Close
		log.Printf("Using sqlite store at %s", *dbPath)
	}
	defer closeStore()

	// Engine, with optional event publishing.
	var opts []wallet.Option
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		publisher := kafka.NewPublisher(strings.Split(brokers, ","))
		defer publisher.Close()
		opts = append(opts, wallet.WithPublisher(publisher))
		log.Printf("Publishing events to %s", brokers)
	}
	engine := wallet.NewEngine(store, opts...)

	handler := api.NewHandler(engine)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
