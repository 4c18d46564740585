package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/davidbz/kiln/internal/circuitbreaker"
	"github.com/davidbz/kiln/internal/config"
	"github.com/davidbz/kiln/internal/domain"
	enhance "github.com/davidbz/kiln/internal/enhance/openai"
	"github.com/davidbz/kiln/internal/httpserver"
	"github.com/davidbz/kiln/internal/httpserver/middleware"
	ledger "github.com/davidbz/kiln/internal/ledger/redis"
	"github.com/davidbz/kiln/internal/observability"
	"github.com/davidbz/kiln/internal/provider/dezgo"
	"github.com/davidbz/kiln/internal/provider/echo"
	"github.com/davidbz/kiln/internal/provider/google"
	"github.com/davidbz/kiln/internal/provider/openai"
	"github.com/davidbz/kiln/internal/provider/registry"
	"github.com/davidbz/kiln/internal/queue"
	"github.com/davidbz/kiln/internal/routing"
	"github.com/davidbz/kiln/internal/store"
)

func main() {
	container := buildContainer()

	err := container.Invoke(func(
		server *httpserver.Server,
		q *queue.Queue,
		detacher *domain.Detacher,
		cfg *config.ServerConfig,
	) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		q.Start()
		defer q.Stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		detacher.Wait()
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to run application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	provide := func(name string, constructor any) {
		if err := container.Provide(constructor); err != nil {
			log.Fatalf("Failed to provide %s: %v", name, err)
		}
	}

	// Configuration
	provide("config", config.Load)
	provide("config dependencies", config.ParseDependenciesConfig)

	// Observability
	provide("logger", observability.InitLogger)
	provide("prometheus registry", func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		return reg
	})
	provide("prometheus gatherer", func(reg *prometheus.Registry) prometheus.Gatherer { return reg })
	provide("metrics", func(reg *prometheus.Registry) *observability.Metrics {
		return observability.NewMetrics(reg)
	})
	provide("event bus", observability.NewEventBus)

	// Resilience
	provide("breakers", func(cfg *config.BreakerConfig, metrics *observability.Metrics) *circuitbreaker.Registry {
		opts := append(cfg.Options(), circuitbreaker.WithRecorder(metrics))
		return circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), opts...)
	})
	provide("queue", func(qc *config.QueueConfig, rc *config.RateLimitConfig, metrics *observability.Metrics) *queue.Queue {
		return queue.New(qc.Queue(), queue.NewRateLimiter(rc.RateLimit(), nil), metrics)
	})

	// Providers
	provide("model catalog", domain.NewInMemoryModelCatalog)
	provide("provider registry", func(
		catalog *domain.InMemoryModelCatalog,
		openaiCfg *openai.Config,
		dezgoCfg *config.DezgoConfig,
		googleCfg *config.GoogleConfig,
		echoCfg *config.EchoConfig,
	) (*registry.Registry, error) {
		reg := registry.NewRegistry()
		providers := []domain.ImageProvider{
			openai.NewProvider(*openaiCfg),
			dezgo.NewProvider(*dezgoCfg),
			google.NewProvider(*googleCfg),
		}
		if echoCfg.Enabled {
			providers = append(providers, echo.NewProvider(*echoCfg))
		}
		if err := reg.Bootstrap(context.Background(), catalog, providers...); err != nil {
			return nil, err
		}
		return reg, nil
	})
	provide("router", func(reg *registry.Registry, catalog *domain.InMemoryModelCatalog) *routing.SimpleRouter {
		return routing.NewRouter(reg, catalog)
	})

	// Collaborators
	provide("redis client", func(cfg *config.RedisConfig, logger *zap.Logger) redis.UniversalClient {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, credit checks will fail until it recovers", zap.Error(err))
		}
		return client
	})
	provide("credit ledger", func(client redis.UniversalClient, cfg *config.LedgerConfig) *ledger.Ledger {
		return ledger.NewLedger(client, *cfg)
	})
	provide("database", func(cfg *config.DatabaseConfig) (*gorm.DB, error) {
		return store.Open(*cfg)
	})
	provide("result store", func(db *gorm.DB, cfg *config.DatabaseConfig) *store.Store {
		return store.NewStore(db, *cfg)
	})
	provide("tagger", func(db *gorm.DB, cfg *config.DatabaseConfig) *store.KeywordTagger {
		return store.NewKeywordTagger(db, *cfg)
	})
	provide("prompt pipeline", func(
		cfg *config.EnhanceConfig,
		gen *config.GenerationConfig,
		source *store.Store,
		breakers *circuitbreaker.Registry,
		logger *zap.Logger,
	) *domain.PromptPipeline {
		var enhancer domain.PromptEnhancer
		e, err := enhance.NewEnhancer(*cfg)
		if err == nil {
			enhancer = e
		} else {
			logger.Warn("prompt enhancement disabled", zap.Error(err))
		}
		return domain.NewPromptPipeline(enhancer, source, breakers, gen.Variables())
	})

	// Domain Services
	provide("detacher", func(cfg *config.GenerationConfig) *domain.Detacher {
		return domain.NewDetacher(cfg.DetachedTimeout)
	})
	provide("generation service", func(
		reg *registry.Registry,
		catalog *domain.InMemoryModelCatalog,
		router *routing.SimpleRouter,
		credits *ledger.Ledger,
		prompts *domain.PromptPipeline,
		results *store.Store,
		tagger *store.KeywordTagger,
		events *observability.EventBus,
		metrics *observability.Metrics,
		breakers *circuitbreaker.Registry,
		q *queue.Queue,
		detacher *domain.Detacher,
		gen *config.GenerationConfig,
		breakerCfg *config.BreakerConfig,
		retryCfg *config.RetryConfig,
	) *domain.GenerationService {
		return domain.NewGenerationService(domain.GenerationDeps{
			Registry: reg,
			Catalog:  catalog,
			Resolver: router,
			Costs:    domain.NewCostCalculator(catalog, gen.DefaultCost),
			Credits:  domain.NewCreditCoordinator(credits, metrics),
			Prompts:  prompts,
			Store:    results,
			Tagger:   tagger,
			Events:   events,
			Metrics:  metrics,
			Breakers: breakers,
			Queue:    q,
			Detacher: detacher,
		}, domain.Settings{
			FanOut:          gen.FanOut,
			MaxFanOut:       gen.MaxFanOut,
			MaxProviders:    gen.MaxProviders,
			ProviderTimeout: gen.ProviderTimeout,
			JobTimeout:      gen.JobTimeout,
			Retry:           retryCfg.Policy(),
			ImageBreaker:    breakerCfg.Image(),
		})
	})

	// HTTP Layer
	provide("http handler", func(
		service *domain.GenerationService,
		router *routing.SimpleRouter,
		images *store.Store,
		cfg *config.ServerConfig,
	) *httpserver.Handler {
		return httpserver.NewHandler(service, router, images, cfg.MaxBodyBytes)
	})
	provide("middleware", middleware.BuildMiddlewareChain)
	provide("http server", httpserver.NewServer)

	return container
}
