package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/moodlens/moodlens/internal/analyzer"
	"github.com/moodlens/moodlens/internal/config"
	"github.com/moodlens/moodlens/internal/db"
	"github.com/moodlens/moodlens/internal/event"
	"github.com/moodlens/moodlens/internal/handlers"
	"github.com/moodlens/moodlens/internal/logger"
	"github.com/moodlens/moodlens/internal/panel"
	"github.com/moodlens/moodlens/internal/panels"
	"github.com/moodlens/moodlens/internal/records"
	"github.com/moodlens/moodlens/internal/server"
	"github.com/moodlens/moodlens/internal/version"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRecordsStore,
			provideHub,
			provideAnalyzer,
			providePanelsService,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(providePanelHandler),
			provideServerHandler(provideStreamHandler),
			provideServer,
		),
		fx.Invoke(
			startHub,
			startPanelsService,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideRecordsStore(log *slog.Logger, conn *pgxpool.Pool) *records.Store {
	return records.NewStore(log, conn)
}

func provideHub(log *slog.Logger) *event.Hub {
	return event.NewHub(log)
}

func provideAnalyzer(log *slog.Logger, cfg config.Config, store *records.Store) panel.Analyzer {
	return analyzer.NewPersistingClient(log, analyzer.NewOpenAIClient(log, cfg.Analyzer), store)
}

func providePanelsService(log *slog.Logger, hub *event.Hub, client panel.Analyzer, store *records.Store, cfg config.Config) *panels.Service {
	return panels.NewService(log, hub, client, store, panels.Options{
		Defaults: panel.Config{
			CalculateEveryMessage: cfg.Panel.CalculateEveryMessage,
			CalculateOnSessionEnd: cfg.Panel.CalculateOnSessionEnd,
			ShowCalculateButton:   cfg.Panel.ShowCalculateButton,
		},
		HistoryBaseDelay:       cfg.History.BaseDelay(),
		HistoryMaxAttempts:     cfg.History.Attempts(),
		SubscribeRetryInterval: cfg.Panel.SubscribeRetryInterval(),
		SubscribeRetryAttempts: cfg.Panel.SubscribeRetryAttempts,
	})
}

func providePanelHandler(log *slog.Logger, service *panels.Service) *handlers.PanelHandler {
	return handlers.NewPanelHandler(log, service)
}

func provideStreamHandler(log *slog.Logger, hub *event.Hub, service *panels.Service) *handlers.StreamHandler {
	return handlers.NewStreamHandler(log, hub, service)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers)
}

func startHub(lc fx.Lifecycle, hub *event.Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { hub.Start(ctx); return nil },
		OnStop:  func(context.Context) error { cancel(); return nil },
	})
}

func startPanelsService(lc fx.Lifecycle, service *panels.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { service.Start(ctx); return nil },
		OnStop:  func(context.Context) error { cancel(); service.Close(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting moodlens %s\n", version.GetInfo())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
