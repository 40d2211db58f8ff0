package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/amirk1998/login-gatekeeper/internal/audit"
	"github.com/amirk1998/login-gatekeeper/internal/auth"
	"github.com/amirk1998/login-gatekeeper/internal/backup"
	"github.com/amirk1998/login-gatekeeper/internal/captcha"
	"github.com/amirk1998/login-gatekeeper/internal/config"
	"github.com/amirk1998/login-gatekeeper/internal/database"
	"github.com/amirk1998/login-gatekeeper/internal/gatekeeper"
	"github.com/amirk1998/login-gatekeeper/internal/logging"
	"github.com/amirk1998/login-gatekeeper/internal/metrics"
	"github.com/amirk1998/login-gatekeeper/internal/ratelimit"
	"github.com/amirk1998/login-gatekeeper/internal/repository"
	"github.com/amirk1998/login-gatekeeper/internal/security"
	"github.com/amirk1998/login-gatekeeper/internal/service"
)

type Application struct {
	config       *config.Config
	log          logging.Logger
	db           *sql.DB
	redis        *redis.Client
	authService  *service.AuthService
	auditLogger  *audit.Logger
	auditMonitor *audit.Monitor
	backupMgr    *backup.Manager
	memLimiter   *ratelimit.RateLimiter
	limiter      ratelimit.Limiter
	challenges   *captcha.MemoryStore
	metrics      *metrics.Metrics
}

// initializeApplication sets up all application components
func initializeApplication(ctx context.Context, cfg *config.Config, log logging.Logger) (_ *Application, err error) {
	app := &Application{config: cfg, log: log}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	keyManager, err := security.NewKeyManager(cfg.DBEncryptionKey, cfg.AppSecret, cfg.BackupEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	var accounts service.AccountStore
	var snapshotter backup.Snapshotter = backup.Unsupported{}

	switch cfg.DBDriver {
	case config.DriverMemory:
		accounts = repository.NewMemoryAccountRepository()
		log.Warn(ctx, "using in-memory account store, data is lost on exit")
	default:
		app.db, err = database.Connect(database.Config{
			Driver:        cfg.DBDriver,
			Path:          cfg.DBPath,
			EncryptionKey: keyManager.GetDBKey(),
			DSN:           cfg.DatabaseDSN,
			MaxOpenConns:  25,
			MaxIdleConns:  5,
			MaxLifetime:   1 * time.Hour,
			MaxIdleTime:   10 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}

		if err = database.Migrate(ctx, app.db, cfg.DBDriver, log); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}

		accounts = repository.NewAccountRepository(app.db)
		if cfg.DBDriver == config.DriverSQLCipher {
			snapshotter = backup.SQLiteSnapshotter{DB: app.db}
		}
	}

	app.auditLogger, err = audit.NewLogger(app.db, cfg.AuditLogPath, cfg.AuditAsyncMode, log.With("component", "audit"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	if app.db != nil {
		app.auditMonitor = audit.NewMonitor(app.auditLogger, 5*time.Minute, cfg.LockoutThreshold, log.With("component", "monitor"))
	}

	app.metrics = metrics.New(prometheus.DefaultRegisterer)

	var store captcha.Store
	if cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = app.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		store = captcha.NewRedisStore(app.redis, cfg.ChallengeTTL)
		app.limiter = ratelimit.NewRedisLimiter(app.redis, cfg.RateLimitBurst, time.Second, log.With("component", "ratelimit"))
	} else {
		app.challenges = captcha.NewMemoryStore(cfg.ChallengeTTL)
		store = app.challenges
		app.memLimiter = ratelimit.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		app.limiter = app.memLimiter
	}

	hasher := security.NewPasswordHasher()
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	gk := gatekeeper.New(accounts, hasher, store, gatekeeper.Config{
		Threshold:          cfg.LockoutThreshold,
		LockoutDuration:    cfg.LockoutDuration,
		MaxConflictRetries: gatekeeper.DefaultMaxConflictRetries,
		DummyHash:          dummyHash,
	},
		gatekeeper.WithAuditor(app.auditLogger),
		gatekeeper.WithRecorder(app.metrics),
		gatekeeper.WithLogger(log.With("component", "gatekeeper")),
	)

	app.authService = service.NewAuthService(service.Deps{
		Accounts:    accounts,
		Gatekeeper:  gk,
		Challenges:  captcha.NewManager(captcha.NewGenerator(cfg.ChallengeLength), store),
		Hasher:      hasher,
		Tokens:      auth.NewTokenIssuer(keyManager.GetTokenKey(), cfg.SessionDuration),
		RateLimiter: app.limiter,
		Auditor:     app.auditLogger,
		Recorder:    app.metrics,
		Logger:      log.With("component", "service"),
	})

	if key := keyManager.GetBackupKey(); key != nil {
		app.backupMgr, err = backup.NewManager(snapshotter, cfg.BackupDir, key, cfg.BackupRetentionDays, log.With("component", "backup"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backup manager: %w", err)
		}
	}

	return app, nil
}

// startWorkers launches the background jobs; they stop when ctx is done.
func (app *Application) startWorkers(ctx context.Context) {
	if app.challenges != nil {
		app.challenges.StartSweeper(ctx, time.Minute)
	}
	if app.memLimiter != nil {
		go app.memLimiter.StartCleanupWorker(ctx, 10*time.Minute)
	}
	if app.auditMonitor != nil {
		go app.auditMonitor.Start(ctx, 5*time.Minute)
	}
	if app.backupMgr != nil && app.config.BackupInterval > 0 {
		go app.backupMgr.StartAutomatedBackups(ctx, app.config.BackupInterval)
	}
}

// cleanup performs cleanup operations
func (app *Application) cleanup() {
	if app.auditLogger != nil {
		if err := app.auditLogger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close audit log: %v\n", err)
		}
	}
	if app.redis != nil {
		app.redis.Close()
	}
	if app.db != nil {
		stats := database.GetStats(app.db)
		app.log.Debug(context.Background(), "closing database",
			"open_connections", stats.OpenConnections, "wait_count", stats.WaitCount)
		app.db.Close()
	}
}
