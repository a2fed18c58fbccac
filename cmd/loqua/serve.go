package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/loquahq/loqua/internal/channel"
	"github.com/loquahq/loqua/internal/channel/adapters/sms"
	"github.com/loquahq/loqua/internal/channel/adapters/wasender"
	"github.com/loquahq/loqua/internal/chat"
	"github.com/loquahq/loqua/internal/config"
	"github.com/loquahq/loqua/internal/conversation"
	"github.com/loquahq/loqua/internal/db"
	"github.com/loquahq/loqua/internal/email"
	"github.com/loquahq/loqua/internal/extraction"
	"github.com/loquahq/loqua/internal/flow"
	"github.com/loquahq/loqua/internal/handlers"
	"github.com/loquahq/loqua/internal/logger"
	"github.com/loquahq/loqua/internal/memory"
	"github.com/loquahq/loqua/internal/onboarding"
	"github.com/loquahq/loqua/internal/provider"
	"github.com/loquahq/loqua/internal/prune"
	"github.com/loquahq/loqua/internal/server"
	"github.com/loquahq/loqua/internal/triage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			return db.Migrate(cfg.Postgres, provideLogger(cfg))
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideFallbackStore,
			provideRepository,
			provideChatClient,
			provideCompleter,
			provideEmbedder,
			provideSchema,
			provideExtractor,
			provideOnboarding,
			provideTriageRouter,
			provideProviderClient,
			provideChannelRegistry,
			provideDispatcher,
			provideMemoryService,
			provideEmailService,
			provideRunner,
			provideSweeper,
			handlers.NewPingHandler,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.New(cfg.Log)
}

func provideFallbackStore(cfg config.Config) *conversation.MemoryRepository {
	return conversation.NewMemoryRepository(cfg.Conversation.ContextWindow)
}

// provideRepository picks the store per config: pure in-memory in dev mode,
// otherwise postgres fronted by the in-memory failover.
func provideRepository(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, fallback *conversation.MemoryRepository) (conversation.Repository, error) {
	if cfg.Conversation.UseInMemory {
		log.Warn("using in-memory conversation store, nothing will survive a restart")
		return fallback, nil
	}

	if err := db.Migrate(cfg.Postgres, log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	durable := conversation.NewPostgresRepository(pool, cfg.Conversation.ContextWindow, log)
	repo := conversation.NewFailover(durable, fallback, log)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { repo.Close(); return nil }})
	return repo, nil
}

func provideChatClient(cfg config.Config) (*chat.OpenAIClient, error) {
	return chat.NewOpenAIClient(cfg.OpenAI)
}

func provideCompleter(client *chat.OpenAIClient) chat.Completer { return client }
func provideEmbedder(client *chat.OpenAIClient) chat.Embedder   { return client }

func provideSchema(cfg config.Config) extraction.Schema {
	return extraction.SchemaFromConfig(cfg.Onboarding)
}

func provideExtractor(completer chat.Completer, log *slog.Logger) *extraction.Extractor {
	return extraction.NewExtractor(completer, log)
}

func provideOnboarding(repo conversation.Repository, extractor *extraction.Extractor, completer chat.Completer, schema extraction.Schema, cfg config.Config, log *slog.Logger) *onboarding.Service {
	return onboarding.NewService(repo, extractor, completer, schema, cfg.Onboarding.FinalMessage, log)
}

func provideTriageRouter(completer chat.Completer, log *slog.Logger) *triage.Router {
	return triage.NewRouter(completer, nil, log)
}

func provideProviderClient(cfg config.Config, log *slog.Logger) (*provider.Client, error) {
	return provider.NewClient(cfg.Provider, log)
}

func provideChannelRegistry(client *provider.Client, cfg config.Config, log *slog.Logger) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(wasender.New(client, wasender.Options{
		SplitMessages: cfg.Provider.SplitMessages,
		MessageDelay:  time.Duration(cfg.Provider.MessageDelayMs) * time.Millisecond,
	}, log))
	registry.MustRegister(sms.New(client, cfg.Provider.SMSMaxLength, log))
	return registry
}

func provideDispatcher(registry *channel.Registry, log *slog.Logger) *channel.Dispatcher {
	return channel.NewDispatcher(registry, log)
}

// provideMemoryService returns nil when qdrant is disabled; the runner
// treats a nil service as "skip the memory task".
func provideMemoryService(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, completer chat.Completer, embedder chat.Embedder) (*memory.Service, error) {
	if !cfg.Qdrant.Enabled {
		return nil, nil
	}
	store, err := memory.NewQdrantStore(log, cfg.Qdrant)
	if err != nil {
		return nil, fmt.Errorf("qdrant init: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return store.EnsureCollection(ctx, cfg.Qdrant.Dimensions)
		},
		OnStop: func(context.Context) error { return store.Close() },
	})
	return memory.NewService(log, completer, embedder, store), nil
}

// provideEmailService returns nil when no SMTP host is configured; the
// runner then answers email requests with a normal reply.
func provideEmailService(log *slog.Logger, cfg config.Config, completer chat.Completer) (*email.Service, error) {
	if cfg.Email.Host == "" {
		return nil, nil
	}
	sender, err := email.NewSMTPSender(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("email init: %w", err)
	}
	return email.NewService(log, completer, sender), nil
}

func provideRunner(log *slog.Logger, repo conversation.Repository, router *triage.Router, onboardingSvc *onboarding.Service, completer chat.Completer, dispatcher *channel.Dispatcher, cfg config.Config, emailSvc *email.Service, memorySvc *memory.Service) *flow.Runner {
	return flow.NewRunner(log, repo, router, onboardingSvc, completer, dispatcher,
		cfg.Provider.AgentNumber, cfg.Provider.AgentName,
		flow.Options{Email: emailSvc, Memory: memorySvc})
}

func provideSweeper(log *slog.Logger, cfg config.Config, fallback *conversation.MemoryRepository) (*prune.Sweeper, error) {
	return prune.NewSweeper(log, cfg.Prune, fallback)
}

func provideWebhookHandler(log *slog.Logger, runner *flow.Runner) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, runner)
}

func provideServer(cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, cfg.Server.WebhookSecret, pingHandler, webhookHandler)
}

func startSweeper(lc fx.Lifecycle, sweeper *prune.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { sweeper.Start(); return nil },
		OnStop:  func(context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting server", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
