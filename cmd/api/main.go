package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/campus-helpdesk/internal/api/http"
	"github.com/spec-kit/campus-helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/campus-helpdesk/internal/auth"
	"github.com/spec-kit/campus-helpdesk/internal/clock"
	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/embedding"
	"github.com/spec-kit/campus-helpdesk/internal/events"
	"github.com/spec-kit/campus-helpdesk/internal/observability"
	"github.com/spec-kit/campus-helpdesk/internal/persistence"
	"github.com/spec-kit/campus-helpdesk/internal/repository"
	"github.com/spec-kit/campus-helpdesk/internal/service"
	"github.com/spec-kit/campus-helpdesk/internal/worker"
)

const schedulerLeaseKey = "helpdesk:escalation-scheduler"

type repositories struct {
	tickets     repository.TicketRepository
	escalations repository.EscalationRepository
	messages    repository.TicketMessageRepository
	outbox      repository.OutboxRepository
	org         repository.OrgRepository
}

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file to load before reading the environment")
	rolesFile := flag.String("roles-file", "", "role catalog YAML (overrides AUTH_ROLES_FILE)")
	orgFile := flag.String("org-file", "", "org unit YAML to seed on startup")
	migrationsDir := flag.String("migrations-dir", persistence.DefaultMigrationsDir, "directory holding SQL migrations")
	scheduler := flag.Bool("scheduler", true, "run the SLA escalation scheduler in this process")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *rolesFile != "" {
		cfg.Auth.RolesFile = *rolesFile
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readiness := map[string]handlers.Pinger{}
	var repos repositories
	if cfg.Postgres.DSN != "" {
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), *migrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}

		pool := pg.PoolHandle()
		repos = repositories{
			tickets:     repository.NewTicketRepository(pool),
			escalations: repository.NewEscalationRepository(pool),
			messages:    repository.NewTicketMessageRepository(pool),
			outbox:      repository.NewOutboxRepository(pool),
			org:         repository.NewOrgRepository(pool),
		}
		readiness["postgres"] = pg
	} else {
		logger.Warn("POSTGRES_DSN not set; using in-memory storage")
		store := repository.NewMemoryStore()
		repos = repositories{
			tickets:     store.Tickets(),
			escalations: store.Escalations(),
			messages:    store.Messages(),
			outbox:      store.Outbox(),
			org:         store.Org(),
		}
		readiness["postgres"] = nil
	}

	if *orgFile != "" {
		n, err := repository.SeedOrgFile(ctx, repos.org, *orgFile)
		if err != nil {
			logger.Fatal("failed to seed org units", zap.Error(err), zap.String("file", *orgFile))
		}
		logger.Info("org units seeded", zap.Int("count", n))
	}
	directory := service.NewOrgDirectory(repos.org)
	if err := directory.Refresh(ctx); err != nil {
		logger.Fatal("failed to load org tree", zap.Error(err))
	}

	catalog, err := loadRoleCatalog(cfg.Auth.RolesFile)
	if err != nil {
		logger.Fatal("failed to load role catalog", zap.Error(err))
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	readiness["redis"] = redis

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	relay := worker.NewOutboxRelay(worker.OutboxRelayDependencies{
		Outbox:    repos.outbox,
		Sink:      events.NewRedisStreamSink(redis.Client, cfg.Events.RedisStream, cfg.Events.MaxLen),
		Interval:  cfg.Events.RelayInterval(),
		Batch:     cfg.Events.RelayBatchSize,
		Retention: cfg.Events.Retention(),
		Logger:    logger,
		Metrics:   metrics,
	})
	relay.Start(ctx)

	permissions := auth.NewPermissionModel()
	systemClock := clock.Real()

	machine := service.NewTicketStateMachine(service.StateMachineDependencies{
		TicketRepo:   repos.tickets,
		Outbox:       repos.outbox,
		Permissions:  permissions,
		SLA:          service.NewSlaPolicy(),
		Clock:        systemClock,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      metrics,
		ReopenWindow: cfg.Escalation.ReopenWindow(),
	})

	intakeService := service.NewTicketIntakeService(service.IntakeDependencies{
		StateMachine:     machine,
		TicketRepo:       repos.tickets,
		Detector:         service.NewDuplicateDetector(cfg.Intake.SimilarityThreshold),
		Embedder:         embedding.NewClient(cfg.Embedding),
		Departments:      directory,
		EmbeddingTimeout: cfg.Intake.EmbeddingTimeout(),
		Logger:           logger,
		Metrics:          metrics,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     repos.tickets,
		EscalationRepo: repos.escalations,
		Permissions:    permissions,
	})
	messageService := service.NewMessageService(service.MessageDependencies{
		TicketRepo:   repos.tickets,
		MessageRepo:  repos.messages,
		StateMachine: machine,
		Permissions:  permissions,
		Clock:        systemClock,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})

	var escalationWorker *worker.EscalationWorker
	if *scheduler && cfg.Escalation.SchedulerEnabled {
		escalationScheduler := service.NewEscalationScheduler(service.SchedulerDependencies{
			TicketRepo:   repos.tickets,
			StateMachine: machine,
			Clock:        systemClock,
			Interval:     cfg.Escalation.ScanInterval(),
			Lease:        persistence.NewRedisLease(redis.Client, schedulerLeaseKey, uuid.NewString()),
			LeaseTTL:     cfg.Escalation.Lease(),
			Logger:       logger,
			Metrics:      metrics,
		})
		escalationWorker = worker.StartEscalationWorker(ctx, escalationScheduler, logger)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Tickets:        handlers.NewTicketsHandler(intakeService, ticketService, messageService),
		StaffTickets:   handlers.NewStaffTicketsHandler(ticketService, machine),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, catalog),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	escalationWorker.Stop()
	_ = app.Shutdown()
	relay.Stop()
}

func loadRoleCatalog(path string) (*auth.RoleCatalog, error) {
	if path == "" {
		return auth.DefaultRoleCatalog()
	}
	return auth.LoadRoleCatalog(path)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
