// cmd/order-service/main.go
package main

import (
	"context"
	"time"

	"fulfillment/internal/pkg/bootstrap"
	"fulfillment/internal/pkg/clock"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/pkg/httpclient"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/pkg/mq"
	"fulfillment/internal/pkg/redis"
	authapp "fulfillment/internal/service/auth/application"
	authinfra "fulfillment/internal/service/auth/infrastructure"
	authif "fulfillment/internal/service/auth/interfaces"
	"fulfillment/internal/service/order/application"
	"fulfillment/internal/service/order/domain/port"
	"fulfillment/internal/service/order/infrastructure"
	"fulfillment/internal/service/order/infrastructure/adapter"
	"fulfillment/internal/service/order/interfaces"
	"fulfillment/internal/zookeeper"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := bootstrap.ApplyRemoteConfig(cfg); err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to apply remote config")
	}
	logger.Init(cfg.App.LogLevel, serviceName)
	log := logger.Logger

	// 1. 持久化存储
	db, err := database.OpenMySQL(cfg.Infra.Mysql.DSN(), database.PoolConfig{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mysql")
	}
	if err := migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis client")
	}

	// 2. 分布式锁
	locker, closeLocker := newLocker(cfg, redisClient)

	// 3. 消息
	brokers := cfg.Infra.Kafka.BrokerList()
	eventWriter := mq.NewKafkaWriter(brokers, cfg.Infra.Kafka.EventsTopic)
	publisher := adapter.NewEventKafkaAdapter(eventWriter)
	dltWriter := mq.NewKafkaWriter(brokers, "")
	trackingReader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.TrackingTopic, cfg.Infra.Kafka.TrackingGroup)
	dltReader := mq.NewKafkaReader(brokers, cfg.Infra.Kafka.TrackingTopic+mq.DLTSuffix, cfg.Infra.Kafka.TrackingGroup+mq.DLTSuffix)

	// 4. 应用服务
	tracer := otel.Tracer(serviceName)
	ids, err := application.NewSnowflakeIDs(cfg.Fulfillment.SnowflakeNode)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create snowflake node")
	}
	policy, err := adapter.NewCELEligibilityAdapter(cfg.Fulfillment.ClaimEligibility)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid claim eligibility rule")
	}
	naming, err := bootstrap.NewNamingClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize nacos client")
	}
	var carrier port.CarrierTracking
	switch {
	case cfg.Fulfillment.CarrierService != "":
		carrier = adapter.NewDiscoveredCarrierHTTPAdapter(httpclient.NewClient(tracer), naming, cfg.Fulfillment.CarrierService)
	case cfg.Fulfillment.CarrierBaseURL != "":
		carrier = adapter.NewCarrierHTTPAdapter(httpclient.NewClient(tracer), cfg.Fulfillment.CarrierBaseURL)
	}

	deps := application.Deps{
		Tx:        infrastructure.NewGormTxRunner(db),
		Locker:    locker,
		Clock:     clock.System(),
		Recorder:  application.NewEventRecorder(ids),
		Publisher: publisher,
		Tracer:    tracer,
		LockWait:  cfg.Fulfillment.LockWait,
		LockLease: cfg.Fulfillment.LockLease,
	}
	orders := infrastructure.NewGormOrderRepository(db)
	claims := infrastructure.NewGormClaimRepository(db)
	orderSvc := application.NewOrderService(deps, orders)
	shipmentSvc := application.NewShipmentService(deps, infrastructure.NewGormShipmentRepository(db), orderSvc, carrier)

	orderHandler := interfaces.NewOrderHandler(interfaces.Services{
		Orders:    orderSvc,
		Claims:    application.NewClaimService(deps, claims, policy),
		Shipments: shipmentSvc,
		Checkout:  application.NewCheckoutService(deps),
		Timeline:  application.NewTimelineAssembler(orders, claims, infrastructure.NewGormEventStore(db), tracer),
	})

	tokenCache, err := authinfra.NewRedisTokenCache(redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token cache")
	}
	tokens := authapp.NewTokenFacade(authinfra.NewGormTokenStore(db), tokenCache, locker, clock.System(), otel.Tracer("auth"),
		authapp.TokenFacadeConfig{LockWait: cfg.Fulfillment.LockWait, LockLease: cfg.Fulfillment.LockLease})
	tokenHandler := authif.NewTokenHandler(tokens, func() time.Duration {
		return bootstrap.GetCurrentConfig().Fulfillment.RefreshTokenTTL
	})

	// 5. 后台任务
	bgCtx, stopBackground := context.WithCancel(context.Background())
	trackingConsumer := interfaces.NewTrackingConsumerAdapter(trackingReader, cfg.Infra.Kafka.TrackingTopic, shipmentSvc, mq.NewFailureHandler(dltWriter))
	dltConsumer := interfaces.NewDltConsumerAdapter(dltReader, cfg.Infra.Kafka.TrackingTopic+mq.DLTSuffix)
	_ = trackingConsumer.Start(bgCtx)
	_ = dltConsumer.Start(bgCtx)
	if cfg.Fulfillment.TokenPurgeInterval > 0 {
		go tokens.RunPurgeLoop(bgCtx, cfg.Fulfillment.TokenPurgeInterval)
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		Naming:      naming,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			orderHandler.RegisterRoutes(appCtx.Mux)
			tokenHandler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			stopBackground()
			trackingConsumer.Stop(ctx)
			dltConsumer.Stop(ctx)
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing event writer")
			}
			if err := dltWriter.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing DLT writer")
			}
			closeLocker()
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing redis client")
			}
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	})
}

func migrate(db *gorm.DB) error {
	if err := infrastructure.Migrate(db); err != nil {
		return err
	}
	return authinfra.Migrate(db)
}

// newLocker 按配置选择锁后端，返回的 close 在关停时调用
func newLocker(cfg *bootstrap.Config, redisClient *redis.Client) (lock.Locker, func()) {
	log := logger.Logger
	switch cfg.Fulfillment.LockBackend {
	case "zookeeper":
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		l, err := zookeeper.NewLocker(conn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize zookeeper locker")
		}
		return l, conn.Close
	case "memory":
		log.Warn().Msg("⚠️ using in-process lock backend, do not run more than one instance")
		return lock.NewMemoryBackend(clock.System()).NewLocker(), func() {}
	default:
		l, err := lock.NewRedisLocker(redisClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize redis locker")
		}
		return l, func() {}
	}
}
