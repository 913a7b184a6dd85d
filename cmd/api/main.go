package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/campusgate/registrar/internal/adapters/crdb"
	mongoadapter "github.com/campusgate/registrar/internal/adapters/mongo"
	redisadapter "github.com/campusgate/registrar/internal/adapters/redis"
	"github.com/campusgate/registrar/internal/analytics"
	"github.com/campusgate/registrar/internal/config"
	"github.com/campusgate/registrar/internal/coordinator"
	"github.com/campusgate/registrar/internal/gateway"
	httphandler "github.com/campusgate/registrar/internal/http"
	"github.com/campusgate/registrar/internal/ledger"
	"github.com/campusgate/registrar/internal/observability"
	"github.com/campusgate/registrar/internal/ratelimit"
	"github.com/campusgate/registrar/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	store := crdb.NewStore(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("registrar")
	opsLog := mongoadapter.NewOpsLog(mongoDB, logger)
	rosters := mongoadapter.NewRosterStore(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	rl := ratelimit.NewRateLimiter(cache)

	psp := gateway.NewClient(cfg)

	lg := ledger.New(store)
	tr := tracker.New(store, psp, cfg.OrderTTL, cfg.PlatformFeeBps, logger)
	coord := coordinator.New(store, lg, tr, opsLog, logger)
	agg := analytics.New(lg, cache, rosters, logger)

	handlers := httphandler.NewHandlers(cfg, coord, lg, agg, store, psp, cache, opsLog, rosters, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
