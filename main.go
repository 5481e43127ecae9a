package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"barter-service/internal/auth"
	"barter-service/internal/changefeed"
	"barter-service/internal/config"
	"barter-service/internal/conversations"
	"barter-service/internal/db"
	"barter-service/internal/fanout"
	"barter-service/internal/grpcserver"
	"barter-service/internal/handlers"
	"barter-service/internal/idempotency"
	"barter-service/internal/logger"
	"barter-service/internal/middleware"
	"barter-service/internal/observability"
	"barter-service/internal/proposals"
	"barter-service/internal/rabbitmq"
	"barter-service/internal/repositories"
	"barter-service/internal/session"
	"barter-service/internal/telemetry"
	"barter-service/internal/ws"
)

func main() {
	if err := run(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// stores is the persistence side chosen by STORE_DRIVER.
type stores struct {
	items     repositories.ItemRepository
	proposals repositories.ProposalRepository
	messages  repositories.MessageRepository
	users     repositories.UserRepository
	feed      changefeed.Feed
	database  *sqlx.DB
	pgFeed    *changefeed.PGFeed
	close     func()
}

func openStores(cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		broker := changefeed.NewBroker(cfg.FeedBuffer)
		mem := repositories.NewMemoryStore(broker)
		logger.Warn("using in-memory store; data is lost on restart")
		return &stores{
			items: mem, proposals: mem, messages: mem, users: mem,
			feed:  broker,
			close: broker.Close,
		}, nil
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	proposalRepo := repositories.NewProposalRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	feed, err := changefeed.NewPGFeed(cfg.DatabaseDSN, db.NotifyChannel, proposalRepo, messageRepo, cfg.FeedBuffer)
	if err != nil {
		database.Close()
		return nil, err
	}
	return &stores{
		items:     repositories.NewItemRepo(database),
		proposals: proposalRepo,
		messages:  messageRepo,
		users:     repositories.NewUserRepo(database),
		feed:      feed,
		database:  database,
		pgFeed:    feed,
		close: func() {
			_ = feed.Close()
			_ = database.Close()
		},
	}, nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher mode=%s %s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, "audit.barter", cfg.ServiceName, cfg.Environment)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	engine := proposals.NewEngine(st.items, st.proposals, proposals.WithCascadeAttempts(cfg.CascadeAttempts))
	convs := conversations.NewService(st.messages, st.users)
	services := session.Services{
		Proposals:     engine,
		Items:         engine,
		Conversations: convs,
		Feed:          fanout.New(st.feed, fanout.WithMaxResyncFailures(cfg.MaxResyncFailures)),
		PollInterval:  cfg.PollInterval,
	}
	sessions := func(userID int) handlers.SessionAPI { return session.New(userID, services) }

	var idemStore idempotency.Store = idempotency.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := idempotency.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		idemStore = redisStore
	}

	jwt := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)
	limiter := middleware.NewRateLimiter(cfg.SendPerMinute, cfg.SendPerMinute/6+1)
	hub := ws.NewHub()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if st.database != nil {
			if err := st.database.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handlers.RegisterDebugRoutes(router, audit, engine, cfg.DebugRoutes)
	registerRoutes(router, sessions, audit, jwt, st.users, limiter, idemStore, cfg.IdempotencyTTL)

	viewHandler := ws.NewViewHandler(hub, jwt, st.users, services)
	router.GET("/ws/conversations/:peer_id", viewHandler.HandleConversation)
	router.GET("/ws/items/:item_id/proposals", viewHandler.HandleProposals)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := grpcserver.New()
	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening on :%s", cfg.GRPCPort)
		return grpcSrv.Serve(grpcLis)
	})
	if st.pgFeed != nil {
		g.Go(func() error { return st.pgFeed.Run(gctx) })
	}
	g.Go(func() error {
		runPeriodic(gctx, cfg.ReconcileInterval, func(ctx context.Context) {
			if n, err := engine.Reconcile(ctx); err != nil {
				logger.Warn("reconcile failed: %v", err)
			} else if n > 0 {
				logger.Info("reconciled %d proposals", n)
			}
			limiter.Cleanup()
			var pinger grpcserver.Pinger
			if st.database != nil {
				pinger = st.database
			}
			grpcSrv.Check(ctx, pinger)
		})
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.CloseAll()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
		grpcSrv.Stop()
		return nil
	})
	return g.Wait()
}

func registerRoutes(
	router *gin.Engine,
	sessions handlers.SessionFactory,
	audit *telemetry.AuditEmitter,
	validator middleware.TokenValidator,
	users middleware.UserRecorder,
	limiter *middleware.RateLimiter,
	idem idempotency.Store,
	idemTTL time.Duration,
) {
	items := handlers.NewItemHandler(sessions, audit)
	props := handlers.NewProposalHandler(sessions, audit)
	convs := handlers.NewConversationHandler(sessions, audit)

	api := router.Group("/", middleware.AuthMiddleware(validator, users))
	creates := idempotency.Middleware(idem, idemTTL, http.StatusCreated)
	writes := idempotency.Middleware(idem, idemTTL, http.StatusOK)

	api.POST("/items", creates, items.CreateItem)
	api.GET("/items/:item_id", items.GetItem)
	api.DELETE("/items/:item_id", items.RemoveItem)

	api.POST("/items/:item_id/proposals", creates, props.CreateProposal)
	api.GET("/items/:item_id/proposals", props.ListItemProposals)
	api.GET("/proposals", props.ListMyProposals)
	api.GET("/proposals/:proposal_id", props.GetProposal)
	api.POST("/proposals/:proposal_id/accept", writes, props.Accept)
	api.POST("/proposals/:proposal_id/reject", writes, props.Reject)
	api.POST("/proposals/:proposal_id/withdraw", writes, props.Withdraw)
	api.POST("/proposals/:proposal_id/complete", writes, props.Complete)

	api.GET("/conversations", convs.ListConversations)
	api.GET("/conversations/:peer_id/messages", convs.GetMessages)
	api.POST("/conversations/:peer_id/messages", limiter.Middleware(), creates, convs.PostMessage)
	api.POST("/conversations/:peer_id/read", convs.MarkRead)
	api.DELETE("/messages/:message_id", convs.DeleteMessage)
	api.GET("/messages/unread_count", convs.UnreadCount)
}

// runPeriodic calls fn every interval until ctx is done.
func runPeriodic(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
