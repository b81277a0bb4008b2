package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	appservice "github.com/turtacn/obo/internal/application/service"
	"github.com/turtacn/obo/internal/config"
	"github.com/turtacn/obo/internal/domain/flow"
	"github.com/turtacn/obo/internal/domain/models"
	domainservice "github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/internal/infrastructure/audit"
	"github.com/turtacn/obo/internal/infrastructure/crypto"
	"github.com/turtacn/obo/internal/infrastructure/kms"
	"github.com/turtacn/obo/internal/infrastructure/monitoring"
	"github.com/turtacn/obo/internal/infrastructure/persistence/memory"
	pgstore "github.com/turtacn/obo/internal/infrastructure/persistence/postgres"
	redisstore "github.com/turtacn/obo/internal/infrastructure/persistence/redis"
	filepolicy "github.com/turtacn/obo/internal/infrastructure/policy"
	httpiface "github.com/turtacn/obo/internal/interfaces/http"
	"github.com/turtacn/obo/internal/interfaces/http/handlers"
	"github.com/turtacn/obo/internal/providers"
	"github.com/turtacn/obo/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize tracing", err)
	}
	defer tracing.Shutdown(context.Background())

	metrics := monitoring.NewMetrics()

	vault, err := crypto.NewVault(&cfg.Crypto)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize credential vault", err)
	}

	// Durable stores: PostgreSQL when configured, in-memory otherwise.
	var (
		slipStore      domainservice.SlipStore
		tokenStore     domainservice.TokenStore
		directoryStore domainservice.DirectoryStore
		readyProbes    []handlers.ReadinessProbe
	)
	if cfg.Database.Host != "" {
		pool, perr := pgstore.NewPool(ctx, &cfg.Database)
		if perr != nil {
			appLogger.Fatal(ctx, "failed to connect to postgres", perr)
		}
		defer pool.Close()
		if merr := pgstore.Migrate(ctx, pool); merr != nil {
			appLogger.Fatal(ctx, "failed to migrate schema", merr)
		}
		slipStore = pgstore.NewSlipStore(pool)
		tokenStore = pgstore.NewTokenStore(pool)
		directoryStore = pgstore.NewDirectoryStore(pool)
		readyProbes = append(readyProbes, handlers.ReadinessProbe{
			Name:  "postgres",
			Check: pool.Ping,
		})
	} else {
		appLogger.Warn(ctx, "no database configured, using in-memory stores")
		slipStore = memory.NewSlipStore()
		tokenStore = memory.NewTokenStore()
		directoryStore = memory.NewDirectoryStore()
	}

	// Transient stores: Redis when reachable, in-memory otherwise.
	var (
		flowStore       domainservice.FlowStore
		revocationStore domainservice.RevocationStore
	)
	if client, rerr := redisstore.NewClient(ctx, &cfg.Redis); rerr == nil {
		defer client.Close()
		flowStore = redisstore.NewFlowStore(client)
		revocationStore = redisstore.NewRevocationStore(client)
		readyProbes = append(readyProbes, handlers.ReadinessProbe{
			Name:  "redis",
			Check: func(c context.Context) error { return client.Ping(c).Err() },
		})
	} else {
		appLogger.Warn(ctx, "redis unavailable, using in-memory flow and revocation stores", logger.Fields{"error": rerr.Error()})
		flowStore = memory.NewFlowStore()
		revocationStore = memory.NewRevocationStore()
	}

	auditSink := buildAuditSink(ctx, cfg, appLogger)

	// Signing keys: Vault when enabled, configuration otherwise.
	var keySource domainservice.KeySource
	if cfg.Vault.Enabled {
		keySource, err = kms.NewVaultKeySource(&cfg.Vault, appLogger)
		if err != nil {
			appLogger.Fatal(ctx, "failed to initialize vault key source", err)
		}
	} else {
		keySource = crypto.NewConfigKeySource(&cfg.Issuer)
	}

	issuer, err := crypto.NewIssuer(ctx, keySource, revocationStore, auditSink, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize token issuer", err)
	}
	issuer.StartRevocationPurge(ctx)

	policySource := buildPolicySource(ctx, cfg, appLogger)

	machine := flow.NewMachine(flowStore, appLogger)
	registry := providers.NewRegistry()
	registry.Register(providers.NewOBOProvider(issuer, appLogger))
	seedTargets(ctx, directoryStore, cfg, appLogger)
	for name, pcfg := range cfg.Providers {
		switch name {
		case "github":
			registry.Register(providers.NewGitHubProvider(pcfg, machine, appLogger))
		case "google":
			registry.Register(providers.NewGoogleProvider(pcfg, machine, appLogger))
		case "openai":
			registry.Register(providers.NewOpenAIProvider(pcfg, appLogger))
		default:
			appLogger.Warn(ctx, "no provider implementation for configured target", logger.Fields{"target": name})
		}
	}

	ledger := appservice.NewSlipLedger(appservice.Deps{
		Slips:     slipStore,
		Tokens:    tokenStore,
		Directory: directoryStore,
		Policies:  policySource,
		Providers: registry,
		Vault:     vault,
		Audit:     auditSink,
		Logger:    appLogger,
	})
	ledger.StartExpiryLoop(ctx, time.Minute)

	router := httpiface.NewRouter(
		cfg,
		appLogger,
		handlers.NewSlipHandler(ledger, metrics),
		handlers.NewCallbackHandler(ledger, metrics),
		handlers.NewHealthHandler(readyProbes...),
		handlers.NewKeysHandler(issuer),
		issuer,
		metrics,
	)
	router.SetupRoutes()

	if err := router.Start(ctx); err != nil {
		appLogger.Fatal(ctx, "http server failed", err)
	}
	appLogger.Info(context.Background(), "shutdown complete")
}

// buildAuditSink composes the configured audit sinks; the structured log is
// always one of them.
func buildAuditSink(ctx context.Context, cfg *config.Config, log logger.Logger) domainservice.AuditService {
	sinks := []domainservice.AuditService{audit.NewLogSink(log)}

	if cfg.Database.Host != "" {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			log.Error(ctx, "audit database unavailable, continuing without it", err)
		} else if store, serr := audit.NewGormStore(db, log); serr != nil {
			log.Error(ctx, "audit table migration failed, continuing without it", serr)
		} else {
			sinks = append(sinks, store)
		}
	}
	if cfg.Kafka.Enabled {
		sinks = append(sinks, audit.NewKafkaProducer(&cfg.Kafka, log))
	}
	return audit.NewMultiSink(sinks...)
}

func buildPolicySource(ctx context.Context, cfg *config.Config, log logger.Logger) domainservice.PolicySource {
	if cfg.Policy.FilePath == "" {
		log.Warn(ctx, "no policy file configured, starting with an empty (deny-all) policy set")
		return memory.NewStaticPolicySource(nil)
	}
	source, err := filepolicy.NewFileSource(cfg.Policy.FilePath, log)
	if err != nil {
		log.Fatal(ctx, "failed to load policy file", err, logger.Fields{"path": cfg.Policy.FilePath})
	}
	if cfg.Policy.Watch {
		if werr := source.Watch(ctx); werr != nil {
			log.Error(ctx, "policy hot reload unavailable", werr)
		}
	}
	return source
}

// seedTargets registers the directory entries for the built-in providers so a
// fresh deployment can serve requests without manual target setup.
func seedTargets(ctx context.Context, directory domainservice.DirectoryStore, cfg *config.Config, log logger.Logger) {
	targets := []models.Target{
		{Name: "obo", Supports: models.Capabilities{Genesis: true}, Tags: []string{"builtin"}},
	}
	if _, ok := cfg.Providers["github"]; ok {
		targets = append(targets, models.Target{Name: "github", Supports: models.Capabilities{OAuth: true, BYOC: true}})
	}
	if _, ok := cfg.Providers["google"]; ok {
		targets = append(targets, models.Target{Name: "google", Supports: models.Capabilities{OAuth: true}})
	}
	if _, ok := cfg.Providers["openai"]; ok {
		targets = append(targets, models.Target{Name: "openai", Supports: models.Capabilities{BYOC: true}})
	}
	for _, t := range targets {
		if err := directory.PutTarget(ctx, &t); err != nil {
			log.Error(ctx, "failed to seed target", err, logger.Fields{"target": t.Name})
		}
	}
}
