package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"realtime-core/internal/database"
	"realtime-core/internal/events"
	callHandler "realtime-core/internal/handler/http/call"
	messageHandler "realtime-core/internal/handler/http/message"
	statusHandler "realtime-core/internal/handler/http/status"
	wsHandler "realtime-core/internal/handler/ws"
	"realtime-core/internal/media"
	"realtime-core/internal/middleware"
	"realtime-core/internal/repository/cockroach"
	"realtime-core/internal/repository/memory"
	"realtime-core/internal/scheduler"
	callService "realtime-core/internal/service/call"
	messageService "realtime-core/internal/service/message"
	statusService "realtime-core/internal/service/status"
	"realtime-core/migrations"
	"realtime-core/pkg/clock"
	"realtime-core/pkg/config"
	"realtime-core/pkg/jwt"
	"realtime-core/pkg/logger"
	"realtime-core/pkg/metrics"
	"realtime-core/pkg/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Realtime service exited with error", zap.Error(err))
	}
	logger.Info("Realtime service stopped")
}

// stores groups the collaborators each service needs
type stores struct {
	calls         callService.CallRepository
	messages      messageService.MessageRepository
	statuses      statusService.StatusRepository
	blocks        callService.BlockChecker
	resolver      callService.ConversationResolver
	conversations messageService.ConversationDirectory
	audience      statusService.Audience
	close         func()
}

func run(ctx context.Context, cfg *config.Config) error {
	clk := clock.Real{}
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	g, ctx := errgroup.WithContext(ctx)

	// 1. Storage backend
	st, err := openStores(ctx, cfg, g, appMetrics)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. Event transport
	var (
		publisher  events.Publisher
		subscriber events.Subscriber
		redisDB    *database.RedisClient
	)
	if cfg.Redis.Enabled {
		redisDB = database.NewRedisDB(ctx, &database.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		})
		defer redisDB.Close()

		redisDB.OnStateChange(appMetrics.SetRedisDegraded)
		appMetrics.SetRedisDegraded(redisDB.IsDegraded())
		g.Go(func() error {
			redisDB.StartHealthCheck(ctx, cfg.Redis.HealthCheckInterval)
			return nil
		})

		redisPublisher := &events.RedisPublisher{Client: redisDB}
		publisher, subscriber = redisPublisher, redisPublisher
		logger.Info("Event fanout via Redis", zap.String("addr", cfg.Redis.Addr()))
	} else {
		hub := events.NewLocalHub(cfg.Realtime.EventQueueSize)
		publisher, subscriber = hub, hub
		logger.Info("Event fanout in-process")
	}

	var emitter events.Emitter
	if cfg.Realtime.AsyncEvents {
		async := events.NewAsyncEmitter(publisher, clk, cfg.Realtime.EventQueueSize, cfg.Realtime.PublishTimeout)
		async.Start()
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Realtime.PublishTimeout)
			defer cancel()
			if err := async.Close(closeCtx); err != nil {
				logger.Warn("Event queue not fully drained", zap.Error(err))
			}
		}()
		emitter = async
	} else {
		emitter = events.NewSyncEmitter(publisher, clk, cfg.Realtime.PublishTimeout)
	}

	// 3. Media storage
	mediaStore, err := openMediaStore(ctx, cfg, clk)
	if err != nil {
		return err
	}

	// 4. Services
	callSvc := callService.NewService(st.calls, st.blocks, st.resolver, emitter, clk)
	messageSvc := messageService.NewService(st.messages, st.conversations, mediaStore, emitter, clk)
	statusSvc := statusService.NewService(st.statuses, st.audience, mediaStore, emitter, clk).
		WithTTL(cfg.Realtime.StatusTTL).
		WithPurgeBatch(cfg.Realtime.PurgeBatchSize)

	// 5. Background jobs
	jobs, err := scheduler.New(
		scheduler.Job{
			Name:     "call-sweep",
			Interval: cfg.Realtime.SweepInterval,
			Run: func(ctx context.Context) (int, error) {
				return callSvc.SweepStale(ctx, cfg.Realtime.RingTimeout)
			},
		},
		scheduler.Job{
			Name:     "status-purge",
			Interval: cfg.Realtime.PurgeInterval,
			Run: func(ctx context.Context) (int, error) {
				return statusSvc.Purge(ctx, clk.Now())
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	g.Go(func() error { return jobs.Start(ctx) })

	// 6. HTTP server
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	gateway := wsHandler.NewEventGateway(subscriber, st.conversations, appMetrics, cfg.Server.AllowedOrigins)

	router := newRouter(cfg, appMetrics, jwtManager, redisDB,
		callHandler.NewHandler(callSvc),
		messageHandler.NewHandler(messageSvc),
		statusHandler.NewHandler(statusSvc),
		gateway,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Realtime service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("backend", cfg.Server.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func newRouter(
	cfg *config.Config,
	appMetrics *metrics.Metrics,
	validator middleware.TokenValidator,
	redisDB *database.RedisClient,
	calls *callHandler.Handler,
	messages *messageHandler.Handler,
	statuses *statusHandler.Handler,
	gateway *wsHandler.EventGateway,
) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	if len(cfg.Server.AllowedOrigins) > 0 {
		router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	}
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	limiter := middleware.NewRateLimiter(redisDB, "realtime", cfg.Server.RateLimit, cfg.Server.RateLimitWindow)

	v1 := router.Group("/v1")
	api := v1.Group("")
	api.Use(middleware.AuthMiddleware(validator, false))
	api.Use(limiter.Middleware())
	api.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	{
		calls.RegisterRoutes(api)
		messages.RegisterRoutes(api)
		statuses.RegisterRoutes(api)
	}

	// The upgrade request may carry its token as a query parameter
	ws := v1.Group("/ws")
	ws.Use(middleware.AuthMiddleware(validator, true))
	ws.GET("/events", gateway.ServeWS)

	return router
}

func openStores(ctx context.Context, cfg *config.Config, g *errgroup.Group, appMetrics *metrics.Metrics) (*stores, error) {
	if cfg.Server.Backend == config.BackendMemory {
		dir := memory.NewDirectory()
		logger.Warn("Using in-memory storage; data is lost on restart")
		return &stores{
			calls:         memory.NewCallRepository(),
			messages:      memory.NewMessageRepository(dir),
			statuses:      memory.NewStatusRepository(dir),
			blocks:        dir,
			resolver:      dir,
			conversations: dir,
			audience:      dir,
			close:         func() {},
		}, nil
	}

	dbConfig := database.DefaultDBConfig()
	dbConfig.MaxOpenConns = cfg.Database.MaxConns
	dbConfig.ConnectMaxWait = cfg.Database.ConnectMaxWait

	db, err := database.NewDB(ctx, cfg.Database.DatabaseURL(), dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CockroachDB: %w", err)
	}
	logger.Info("Connected to CockroachDB",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, db.Pool); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	g.Go(func() error {
		db.ReportStats(ctx, appMetrics, 15*time.Second)
		return nil
	})

	conversations := cockroach.NewConversationRepository(db.Pool)
	return &stores{
		calls:         cockroach.NewCallRepository(db.Pool),
		messages:      cockroach.NewMessageRepository(db.Pool),
		statuses:      cockroach.NewStatusRepository(db.Pool),
		blocks:        cockroach.NewBlockedUserRepository(db.Pool),
		resolver:      conversations,
		conversations: conversations,
		audience:      cockroach.NewContactRepository(db.Pool),
		close:         db.Close,
	}, nil
}

// mediaDeleter is satisfied by both the MinIO store and the no-op store
type mediaDeleter interface {
	Delete(ctx context.Context, key string) error
}

func openMediaStore(ctx context.Context, cfg *config.Config, clk clock.Clock) (mediaDeleter, error) {
	if !cfg.MinIO.Enabled {
		logger.Info("Media storage disabled; attachment cleanup is skipped")
		return media.NopStore{}, nil
	}

	client, err := media.NewMinioClient(media.Config{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := media.NewMinioStore(client, cfg.MinIO.Bucket, resilience.NewBreaker("minio", resilience.DefaultConfig(), clk))
	if err := store.EnsureBucket(ctx); err != nil {
		// Media cleanup is best-effort; deletes retry through the breaker
		logger.Warn("MinIO bucket check failed", zap.String("bucket", cfg.MinIO.Bucket), zap.Error(err))
	}
	return store, nil
}
