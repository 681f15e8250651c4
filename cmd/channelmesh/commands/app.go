package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/hupe1980/channelmesh"
	"github.com/hupe1980/channelmesh/config"
	"github.com/hupe1980/channelmesh/core"
	"github.com/hupe1980/channelmesh/live"
	"github.com/hupe1980/channelmesh/logging"
	"github.com/hupe1980/channelmesh/model"
	"github.com/hupe1980/channelmesh/model/anthropic"
	"github.com/hupe1980/channelmesh/model/gemini"
	"github.com/hupe1980/channelmesh/model/openai"
	"github.com/hupe1980/channelmesh/server"
	"github.com/hupe1980/channelmesh/store/memory"
	"github.com/hupe1980/channelmesh/store/postgres"
	"github.com/hupe1980/channelmesh/store/redis"
	"github.com/hupe1980/channelmesh/store/sqlite"
)

// app is the wired process: stores, logger and mesh.
type app struct {
	cfg       *config.Config
	logger    logging.Logger
	accessLog zerolog.Logger
	store     channelmesh.Store
	ledger    core.IdempotencyLedger
	checks    map[string]server.Pinger
	closers   []io.Closer
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp opens the configured stores. The caller must Close the app.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, checks: map[string]server.Pinger{}}
	a.logger, a.accessLog = newLoggers(cfg)

	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		a.store, a.ledger = s, s
		a.checks["postgres"] = s
		a.closers = append(a.closers, s)
	case config.StoreSQLite:
		s, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		a.store, a.ledger = s, s
		a.checks["sqlite"] = s
		a.closers = append(a.closers, s)
	default:
		s := memory.NewInMemoryStore()
		a.store, a.ledger = s, s
	}
	a.logger.Info("store.ready", "backend", cfg.Store)

	if cfg.RedisURL != "" {
		l, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		a.ledger = l
		a.checks["redis"] = l
		a.closers = append(a.closers, l)
		a.logger.Info("ledger.ready", "backend", "redis")
	}

	return a, nil
}

func newLoggers(cfg *config.Config) (logging.Logger, zerolog.Logger) {
	logger := logging.New(&logging.LoggerConfig{
		Backend: logging.Backend(cfg.LogBackend),
		Level:   logging.ParseLevel(cfg.LogLevel),
		Format:  cfg.LogFormat,
		Output:  os.Stdout,
	})

	if zl, ok := logger.(*logging.ZerologAdapter); ok {
		return logger, zl.Zerolog()
	}
	if cfg.IsDevelopment() {
		return logger, zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return logger, zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// mesh builds a Mesh over the app's stores.
func (a *app) mesh(ctx context.Context, hub *live.Hub) *channelmesh.Mesh {
	return channelmesh.New(a.store, func(o *channelmesh.Options) {
		o.Ledger = a.ledger
		o.Hub = hub
		o.Models = channelmesh.NewModelResolver(a.cfg.AIProvider, a.modelFactories(ctx))
		o.MaxConcurrentInvocations = int64(a.cfg.MaxConcurrentInvocations)
		o.MaxChainInvocations = a.cfg.MaxChainInvocations
		o.InvocationTimeout = a.cfg.InvocationTimeout
		o.MaxSteps = a.cfg.MaxSteps
		o.Logger = a.logger
	})
}

func (a *app) modelFactories(ctx context.Context) map[string]channelmesh.ModelFactory {
	cfg := a.cfg
	// withDefault applies AI_MODEL to agents of the default provider that name no model.
	withDefault := func(provider string, f channelmesh.ModelFactory) channelmesh.ModelFactory {
		return func(name string) (model.Model, error) {
			if name == "" && provider == cfg.AIProvider {
				name = cfg.AIModel
			}
			return f(name)
		}
	}

	return map[string]channelmesh.ModelFactory{
		config.ProviderOpenAI: withDefault(config.ProviderOpenAI, func(name string) (model.Model, error) {
			return openai.NewModel(func(o *openai.Options) {
				if name != "" {
					o.Model = name
				}
			}), nil
		}),
		config.ProviderAnthropic: withDefault(config.ProviderAnthropic, func(name string) (model.Model, error) {
			if cfg.AnthropicAPIKey == "" {
				return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
			}
			return anthropic.NewModel(func(o *anthropic.Options) {
				o.APIKey = cfg.AnthropicAPIKey
				if name != "" {
					o.Model = anthropicsdk.Model(name)
				}
			}), nil
		}),
		config.ProviderGemini: withDefault(config.ProviderGemini, func(name string) (model.Model, error) {
			if cfg.GeminiAPIKey == "" {
				return nil, fmt.Errorf("GEMINI_API_KEY is not set")
			}
			return gemini.NewModel(ctx, cfg.GeminiAPIKey, func(o *gemini.Options) {
				if name != "" {
					o.Model = name
				}
			})
		}),
		config.ProviderScripted: withDefault(config.ProviderScripted, func(name string) (model.Model, error) {
			if name == "" {
				name = "scripted"
			}
			return model.NewScriptedModel(name, nil), nil
		}),
	}
}

// seed loads the roster file into the store when one is configured.
func (a *app) seed(ctx context.Context, path string) (config.SeedResult, error) {
	roster, err := config.LoadRoster(path)
	if err != nil {
		return config.SeedResult{}, err
	}
	return roster.Seed(ctx, a.store, a.store)
}

// Close releases every opened store and flushes the logger.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	if z, ok := a.logger.(*logging.ZapAdapter); ok {
		// Sync returns EINVAL for stdout on terminals.
		_ = z.Sync()
	}
	return err
}
