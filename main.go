package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"otakumori-rewards/config"
	"otakumori-rewards/handlers"
	"otakumori-rewards/middleware"
	"otakumori-rewards/models"
	"otakumori-rewards/services"
	"otakumori-rewards/utils"
	"otakumori-rewards/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		// day buckets are computed from UTC instants
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Quest{},
		&models.QuestAssignment{},
		&models.StreakShard{},
		&models.PetalLedgerEntry{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// --- Ledger events → Kafka (optional) ---
	var events services.LedgerEventPublisher = services.NoopLedgerPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		writer := utils.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaLedgerTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				log.Printf("⚠️ Kafka writer close: %v", err)
			}
		}()
		events = services.NewKafkaLedgerPublisher(writer)
		log.Printf("✅ Publishing ledger events to Kafka topic %s", cfg.KafkaLedgerTopic)
	} else {
		log.Println("⚠️  KAFKA_BROKERS not set, ledger events are not published")
	}

	// --- Click limiter counters → Redis (optional) ---
	var rdb redis.UniversalClient
	if cfg.RedisURL != "" {
		client, err := utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to redis:", err)
		}
		defer client.Close()
		rdb = client
	}

	clock := services.NewQuestClock(cfg.QuestLocation)
	pool := services.DefaultQuestPool()
	ledgerService := services.NewLedgerService(db, events)
	questService := services.NewQuestService(db, pool, clock, cfg.PicksPerDay, ledgerService)
	streakService := services.NewStreakService(db, clock, cfg.StreakPetals, ledgerService)

	if err := questService.SeedCatalog(ctx); err != nil {
		log.Fatal("failed to seed quest catalog:", err)
	}

	// --- Daily ledger export → R2 (optional) ---
	var exporter *services.LedgerExporter
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		exporter = services.NewLedgerExporter(db, clock, r2)
	} else {
		log.Println("⚠️  R2 not configured, daily ledger export disabled")
	}

	sched, err := services.StartRewardsScheduler(ctx, &services.RewardsJobs{
		Quests:   questService,
		Ledger:   ledgerService,
		Exporter: exporter,
	})
	if err != nil {
		log.Fatal("failed to start scheduler:", err)
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Printf("⚠️ Scheduler shutdown: %v", err)
		}
	}()

	if cfg.SyncServiceURL != "" {
		workers.NewAccountSyncWorker(db, cfg.SyncServiceURL, "/api/v1/public/profiles", cfg.ServiceToken).Start(ctx)
	} else {
		log.Println("⚠️  SYNC_SERVICE_URL not set, account profiles are not mirrored")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Idempotency-Key, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupRoutes(app, handlers.Services{
		Quests:      questService,
		Streaks:     streakService,
		Ledger:      ledgerService,
		ClickPetals: cfg.ClickPetals,
		ClickLimit:  middleware.NewClickLimiter(rdb, cfg.ClickRateLimit, cfg.ClickRateWindow).Handler(),
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Quest day buckets in %s, %d picks per day", cfg.QuestLocation, cfg.PicksPerDay)
	log.Println("✅ GatewayAuthMiddleware enforced globally, all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
