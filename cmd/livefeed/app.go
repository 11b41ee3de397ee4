package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/goevery/livefeed/internal/auth"
	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/handler"
	"github.com/goevery/livefeed/internal/journal"
	"github.com/goevery/livefeed/internal/journal/mongodb"
	"github.com/goevery/livefeed/internal/metrics"
	"github.com/goevery/livefeed/internal/publisher"
	"github.com/goevery/livefeed/internal/server"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

type App struct {
	logger          *zap.Logger
	settings        Settings
	registry        *broadcaster.InMemoryRegistry
	journal         journal.Journal
	mongoClient     *mongo.Client
	streamServer    *server.StreamServer
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings) (*App, error) {
	clock := clockwork.NewRealClock()

	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: true,
	}

	streamSettings := server.StreamSettings{
		HeartbeatInterval: settings.HeartbeatInterval,
		BufferSize:        settings.ClientBuffer,
	}

	trustedProxies, err := server.ParseTrustedProxies(settings.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	limiter := server.NewConnectionLimiter(server.LimiterSettings{
		MaxConnections:      settings.MaxConnections,
		MaxConnectionsPerIP: settings.MaxConnectionsPerIP,
		ConnectRate:         settings.ConnectRate,
		ConnectBurst:        settings.ConnectBurst,
		TrustedProxies:      trustedProxies,
	}, clock)

	authenticator := auth.NewAuthenticator(settings.JWTSecret, settings.APIKeyList())

	registry := broadcaster.NewInMemoryRegistry(logger)
	appMetrics := metrics.New(registry)

	var mongoClient *mongo.Client
	var announcementJournal journal.Journal = journal.NopJournal{}

	if settings.MongoDBURI != "" {
		client, err := mongo.Connect(options.Client().
			ApplyURI(settings.MongoDBURI).
			SetServerSelectionTimeout(5 * time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}

		mongoClient = client
		announcementJournal = journal.NewBreakerJournal(
			logger,
			mongodb.NewJournalEngine(client, settings.MongoDBDatabase),
		)
	}

	announcePublisher := publisher.NewPublisher(logger, registry, announcementJournal, appMetrics, clock)

	eventTypeValidator := handler.NewEventTypeValidator()
	announceHandler := handler.NewAnnounceHandler(eventTypeValidator, announcePublisher)
	statsHandler := handler.NewStatsHandler(registry)
	heartbeatHandler := handler.NewHeartbeatHandler(clock)

	streamServer := server.NewStreamServer(
		logger,
		registry,
		limiter,
		appMetrics,
		clock,
		streamSettings,
	)
	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		registry,
		limiter,
		appMetrics,
		clock,
		streamSettings,
	)
	restServer := server.NewRESTServer(
		logger,
		authenticator,
		announceHandler,
		statsHandler,
		heartbeatHandler,
		appMetrics,
	)

	return &App{
		logger,
		settings,
		registry,
		announcementJournal,
		mongoClient,
		streamServer,
		websocketServer,
		restServer,
	}, nil
}

func (a *App) setup(ctx context.Context) error {
	if a.mongoClient != nil {
		defer a.disconnectMongo()

		pingCtx, pingCtxCancel := context.WithTimeout(ctx, 10*time.Second)
		defer pingCtxCancel()

		err := a.mongoClient.Ping(pingCtx, readpref.Primary())
		if err != nil {
			a.logger.Warn("mongodb is not reachable, announcements will not be journaled until it is",
				zap.Error(err))
		} else if err := a.journal.Setup(pingCtx); err != nil {
			a.logger.Warn("failed to create journal indexes", zap.Error(err))
		}
	}

	a.startHttpServer(ctx)

	return nil
}

func (a *App) disconnectMongo() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.mongoClient.Disconnect(ctx)
	if err != nil {
		a.logger.Error("failed to disconnect from mongodb", zap.Error(err))
	}
}

func (a *App) startHttpServer(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.streamServer.Register(router)
	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	// Streams never go idle on their own; closing the registry ends them.
	httpServer.RegisterOnShutdown(a.registry.Close)

	a.logger.Info("starting http server",
		zap.String("address", address),
		zap.String("basePath", a.settings.BasePath))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}
