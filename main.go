package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"clearchat/internal/api"
	"clearchat/internal/auth"
	"clearchat/internal/chat"
	"clearchat/internal/config"
	"clearchat/internal/emotion"
	"clearchat/internal/live"
	"clearchat/internal/redis"
	"clearchat/internal/session"
	"clearchat/internal/storage"
	"clearchat/internal/telemetry"
	"clearchat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfgPath := os.Getenv("CLEARCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("CLEARCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// users, user_tokens, private_chats, private_messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	telemetry.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := live.NewHub()
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
		if err := hub.AttachRelay(ctx, rdb); err != nil {
			log.Fatalf("attach live relay: %v", err)
		}
	}

	tokenTTL := time.Duration(cfg.BasicConfig.TokenTTL) * time.Minute
	authService := auth.NewService(db, rdb, cfg.Auth.JWTSecret, cfg.Auth.Issuer, tokenTTL)
	authService.StartTokenJanitor(ctx, time.Duration(cfg.BasicConfig.TokenCleanInterval)*time.Minute)

	store := chat.NewStore(db, dbType, hub, chat.WithDeterministicIDs(cfg.BasicConfig.UseDeterministicChatIDs()))
	directory := chat.NewDirectory(db)
	sessions := session.NewManager(authService, directory)

	detector, err := emotion.NewDetector(ctx, "", cfg)
	if err != nil {
		// the proxy answers 500 until a provider is configured
		log.Printf("init emotion detector: %v", err)
		detector = nil
	}

	handlers := api.NewHandler(authService, sessions, store, directory, detector)
	inference := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	defer inference.Close()
	handlers.UseInferencePool(inference)

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
