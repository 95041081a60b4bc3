package bootstrap

import (
	"context"
	"log"

	"legal-qa-be/internal/config"
	"legal-qa-be/internal/controller"
	"legal-qa-be/internal/pkg/logger"
	"legal-qa-be/internal/repository/memory"
	"legal-qa-be/internal/repository/unitofwork"
	"legal-qa-be/internal/service"
	"legal-qa-be/internal/websocket"
	"legal-qa-be/pkg/upstream"

	pktNats "legal-qa-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatController       controller.IChatController
	AttachmentController controller.IAttachmentController

	// WebSockets & Progress Fan-out
	WebSocketHub *websocket.Hub
	PubSub       *gochannel.GoChannel
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus (in-process, carries stage snapshots)
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 2.5 Infrastructure
	// NATS (audit trail)
	var audit service.AuditPublisher
	if natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL); err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	} else {
		audit = natsPub
	}

	// Redis (cross-instance snapshot relay)
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger("logs/progress.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 3. Upstream Clients
	queryClient := upstream.NewQueryClient(cfg.Upstream.QueryBaseURL, cfg.Upstream.Model)
	extractClient := upstream.NewExtractClient(cfg.Upstream.ExtractBaseURL)
	log.Printf("[INFO] Upstream query service: %s (model %s)", cfg.Upstream.QueryBaseURL, cfg.Upstream.Model)

	// Per-user live engines
	engines := memory.NewEngineRepository()

	// 4. Services
	chatService := service.NewChatService(
		cfg,
		service.NewChatStore(uowFactory),
		queryClient,
		pubSub,
		extractClient,
		engines,
		audit,
		sysLogger,
	)
	attachmentService := service.NewAttachmentService(cfg, chatService, extractClient, sysLogger)

	// 5. Controllers
	chatController := controller.NewChatController(chatService)
	attachmentController := controller.NewAttachmentController(attachmentService)

	return &Container{
		ChatController:       chatController,
		AttachmentController: attachmentController,
		WebSocketHub:         wsHub,
		PubSub:               pubSub,
	}
}
