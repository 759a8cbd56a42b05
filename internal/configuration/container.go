package configuration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"ifindlife/internal/auth"
	"ifindlife/internal/db"
	"ifindlife/internal/handler"
	"ifindlife/internal/hub"
	"ifindlife/internal/ledger"
	"ifindlife/internal/metrics"
	"ifindlife/internal/model"
	"ifindlife/internal/notify"
	"ifindlife/internal/realtime"
	"ifindlife/internal/repo"
	"ifindlife/internal/rtc"
	"ifindlife/internal/service"
	"ifindlife/internal/signaling"
)

type Container struct {
	CallHandler         handler.CallHandler
	MessageHandler      handler.MessageHandler
	NotificationHandler handler.NotificationHandler // nil without Redis
	MonitorHandler      handler.MonitorHandler
	CallService         service.CallService
	Verifier            *auth.Verifier
	Hub                 *hub.Hub
	Registry            *prometheus.Registry
	Config              Config
	Logger              *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	redisClient *redis.Client
	ledger      ledger.Recorder
	signaling   *signaling.Manager
	feed        *service.MessageFeed
	cancel      context.CancelFunc
}

func BuildContainer() (*Container, error) {
	config, err := LoadConfig(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(config.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to MongoDB database %s", config.ChatDatabase.Database)

	sessionStore := db.NewRepository[model.CallSession](con, config.ChatDatabase.SessionsCollection)
	incomingStore := db.NewRepository[model.IncomingCallRequest](con, config.ChatDatabase.IncomingCallCollection)
	messageStore := db.NewRepository[model.PersistedMessage](con, config.ChatDatabase.MessagesCollection)

	sessionRepo := repo.NewCallSessionRepository(sessionStore, logger)
	incomingRepo := repo.NewIncomingCallRepository(incomingStore, logger)
	messageRepo := repo.NewMessageRepository(messageStore, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(registry)

	identities := auth.NewIdentities()
	verifier := auth.NewVerifier(config.Auth.JwtSecret, config.Auth.Issuer, config.Auth.Audience)
	tokens := rtc.NewTokenIssuer(config.Auth.RtcTokenSecret, time.Duration(config.Auth.RtcTokenTTLSec)*time.Second)

	h := hub.NewHub(tokens, identities, config.Server.AllowedOrigins, logger)
	engine := hub.NewEngine(h)

	c := &Container{
		Verifier:    verifier,
		Hub:         h,
		Registry:    registry,
		Config:      *config,
		Logger:      logger,
		mongoClient: con,
	}

	notifiers := []notify.Notifier{notify.NewToast(h)}
	if config.Redis.Addr != "" {
		rdb, err := openRedis(config.Redis.Addr)
		if err != nil {
			c.Close()
			return nil, err
		}
		push := notify.NewPush(rdb, logger)
		notifiers = append(notifiers, push)
		c.redisClient = rdb
		c.NotificationHandler = handler.NewNotificationHandler(push)
	} else {
		logger.Warn("redis not configured, platform pushes are disabled")
	}
	notifier := notify.NewMulti(logger, notifiers...)

	c.ledger = ledger.Noop{}
	if config.Database.Dsn != "" {
		l, err := ledger.Open(config.Database.Dsn, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.ledger = l
	} else {
		logger.Warn("postgres not configured, call charges are not recorded")
	}

	c.signaling = signaling.NewManager(
		realtime.NewMongoSource(incomingStore, logger),
		signaling.NewHubPresenter(h),
		notifier,
		incomingRepo,
		signaling.Config{DialogCloseDelay: config.Call.DialogCloseDelay()},
		logger,
	)

	c.CallService = service.NewCallService(sessionRepo, incomingRepo, engine, tokens, h, c.signaling, c.ledger, service.CallConfig{
		AllotmentMinutes: config.Call.AllotmentMinutes,
		RatePerMinute:    config.Call.RatePerMinute,
		Currency:         config.Call.Currency,
		IncomingCallTTL:  config.Call.IncomingCallTTL(),
		TickInterval:     config.Call.TickInterval(),
	}, logger)

	c.feed = service.NewMessageFeed(realtime.NewMongoSource(messageStore, logger), h, logger)
	messageService := service.NewMessageService(messageRepo, h, h, notifier, logger)

	c.CallHandler = handler.NewCallHandler(c.CallService)
	c.MessageHandler = handler.NewMessageHandler(messageService)
	c.MonitorHandler = handler.NewMonitorHandler(hub.NewMonitorService(h, c.CallService))

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.signaling.Start(ctx, identities)
	c.feed.Start(ctx, identities)
	go c.CallService.RunIncomingCallExpiryMonitor(ctx, config.Call.ExpirySweepInterval())

	return c, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openRedis(addr string) (*redis.Client, error) {
	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	if c.cancel != nil {
		c.cancel()
	}

	// End live calls while their rooms still exist
	if c.CallService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c.CallService.Shutdown(ctx)
		cancel()
	}
	if c.signaling != nil {
		c.signaling.Stop()
	}
	if c.feed != nil {
		c.feed.Stop()
	}

	// Stop the hub (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	var errs []error
	if c.ledger != nil {
		if err := c.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close ledger: %w", err))
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis connection: %w", err))
		}
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MongoDB connection: %w", err))
		}
	}

	return errors.Join(errs...)
}
