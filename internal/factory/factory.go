package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"authcore/internal/bucketing"
	"authcore/internal/client"
	"authcore/internal/clock"
	"authcore/internal/config"
	"authcore/internal/hashing"
	"authcore/internal/mailer"
	chrepo "authcore/internal/repository/clickhouse"
	redisrepo "authcore/internal/repository/redis"
	"authcore/internal/repository/scylla"
	"authcore/internal/secrets"
	"authcore/internal/service"
	"authcore/internal/tls"
	"authcore/internal/token"
	"authcore/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	clock      clock.Clock
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.Manager
	tokenIssuer      *token.Issuer

	// Repositories
	codeRepository *scylla.CodeRepository
	userRepository *scylla.UserRepository
	loginLogRepo   *chrepo.LoginLogRepository
	sessionCache   *redisrepo.SessionCache

	// Services
	authService *service.AuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := util.NewLogger(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	factory := &Factory{
		config: cfg,
		logger: logger,
		clock:  clock.System(),
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}, logger)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	logger.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, f.logger); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.logger.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, f.logger); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			f.logger.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is optional; logins proceed without the event stream
	if producer, err := client.NewKafkaProducer(f.config, f.logger); err != nil {
		f.logger.Warn("Kafka producer initialization failed, proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		f.logger.Info("Kafka producer initialized")
	}

	// Elasticsearch is optional for the same reason
	if esClient, err := client.NewElasticsearchClient(f.config, f.logger); err != nil {
		f.logger.Warn("Elasticsearch initialization failed, proceeding without search indexing", util.ErrorField(err))
	} else {
		f.esClient = esClient
		f.logger.Info("Elasticsearch client initialized")
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, f.logger); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.logger.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			f.logger.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, bucketing, and the token issuer.
// The signing key goes through KMS decryption when enabled.
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewManager(0)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var decrypter secrets.KMSDecrypter
	if f.config.KMS.Enabled {
		kmsClient, err := secrets.NewKMSClient(ctx, f.config)
		if err != nil {
			return fmt.Errorf("kms client: %w", err)
		}
		decrypter = kmsClient
	}

	resolver := secrets.NewResolver(f.config, decrypter, f.logger)
	signingKey, err := resolver.SigningKey(ctx)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}

	issuer, err := token.NewIssuer(signingKey, f.config.Auth.TokenIssuer, f.config.Auth.SessionTTL, f.clock)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	f.tokenIssuer = issuer

	f.logger.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
		util.Bool("issuer_initialized", f.tokenIssuer != nil),
	)
	return nil
}

// ==============================
// Repositories
// ==============================

func (f *Factory) CodeRepository() *scylla.CodeRepository {
	if f.codeRepository == nil {
		f.codeRepository = scylla.NewCodeRepository(f.scyllaClient, f.logger)
	}
	return f.codeRepository
}

func (f *Factory) UserRepository() *scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, f.logger)
	}
	return f.userRepository
}

func (f *Factory) LoginLogRepository() *chrepo.LoginLogRepository {
	if f.loginLogRepo == nil {
		f.loginLogRepo = chrepo.NewLoginLogRepository(f.clickhouseClient, f.logger)
	}
	return f.loginLogRepo
}

func (f *Factory) SessionCache() *redisrepo.SessionCache {
	if f.sessionCache == nil {
		f.sessionCache = redisrepo.NewSessionCache(f.redisClient, f.logger)
	}
	return f.sessionCache
}

// ==============================
// Services
// ==============================

// AuthService wires the full service graph. Kafka and Elasticsearch hand
// nil sinks to the audit recorder when unavailable.
func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		cfg := f.config.Auth

		dispatcher := mailer.NewSMTPDispatcher(f.config, f.logger)
		verification := service.NewVerificationCodeService(
			f.CodeRepository(), dispatcher, f.clock, f.logger,
			cfg.CodeTTL, cfg.CodeMaxAttempts,
		)
		limiter := service.NewRateLimiter(
			f.CodeRepository(), f.LoginLogRepository(), f.clock, f.logger,
			cfg.SendRateWindow, cfg.LockoutWindow, cfg.LockoutThreshold,
		)
		provisioner := service.NewUserProvisioner(f.UserRepository(), f.clock, f.logger)

		var publisher service.EventPublisher
		if f.kafkaProducer != nil {
			publisher = f.kafkaProducer
		}
		var indexer service.EventIndexer
		if f.esClient != nil {
			indexer = f.esClient
		}
		audit := service.NewAuditRecorder(
			f.LoginLogRepository(), publisher, indexer, f.clock, f.logger,
			f.config.Kafka.LoginTopic, f.config.Elastic.LoginIndex,
		)

		f.authService = service.NewAuthService(
			verification, limiter, provisioner, audit,
			f.UserRepository(), f.SessionCache(), f.hasher,
			f.tokenIssuer, f.clock, f.logger,
		)
	}
	return f.authService
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// The audit sinks are best effort and never gate readiness
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

// ==============================
// Lifecycle
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		f.logger.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				f.logger.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			f.logger.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				f.logger.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			f.logger.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				f.logger.Info("Redis client closed")
			}
		}

		f.logger.Info("Factory shutdown completed")
		f.logger.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Logger() *zap.Logger {
	return f.logger
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
