package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unisocial-auth/internal/audit"
	"unisocial-auth/internal/bucketing"
	"unisocial-auth/internal/client"
	"unisocial-auth/internal/config"
	"unisocial-auth/internal/hashing"
	"unisocial-auth/internal/mailer"
	redisrepo "unisocial-auth/internal/repository/redis"
	"unisocial-auth/internal/repository/scylla"
	"unisocial-auth/internal/service"
	"unisocial-auth/internal/tls"
	"unisocial-auth/internal/token"
	"unisocial-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager
	tokenCodec       *token.Codec

	// Repositories and services
	userRepository      scylla.UserRepository
	blacklistRepository scylla.BlacklistRepository
	blacklistCache      *redisrepo.BlacklistCache
	auditRecorder       *audit.Recorder
	authService         *service.AuthService
	mailerPool          *mailer.WorkerPool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka: the OTP-mail outbox is best-effort, registration works without it
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without outbox", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	if consumer, err := client.NewKafkaConsumer(f.config, util.Get()); err != nil {
		util.Warn("Kafka consumer initialization failed - proceeding without mailer", util.ErrorField(err))
	} else {
		f.kafkaConsumer = consumer
		util.Info("Kafka consumer initialized")
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, bucketing and the token codec
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	codec, err := token.NewCodec(f.config.SigningKey(), f.config.JWT.TTL)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	f.tokenCodec = codec

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
		util.Duration("token_ttl", f.config.JWT.TTL),
	)
	return nil
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) UserRepository() scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(
			f.ScyllaClient(),
			f.BucketingManager(),
			util.Get(),
		)
	}
	return f.userRepository
}

func (f *Factory) BlacklistRepository() scylla.BlacklistRepository {
	if f.blacklistRepository == nil {
		f.blacklistRepository = scylla.NewBlacklistRepository(
			f.ScyllaClient(),
			f.BucketingManager(),
			util.Get(),
		)
	}
	return f.blacklistRepository
}

func (f *Factory) BlacklistCache() *redisrepo.BlacklistCache {
	if f.blacklistCache == nil {
		f.blacklistCache = redisrepo.NewBlacklistCache(f.redisClient, util.Get())
	}
	return f.blacklistCache
}

func (f *Factory) AuditRecorder() *audit.Recorder {
	if f.auditRecorder == nil && f.clickhouseClient != nil {
		f.auditRecorder = audit.NewRecorder(f.clickhouseClient, util.Get())
	}
	return f.auditRecorder
}

// ==============================
// Services
// ==============================

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		if f.kafkaProducer != nil {
			f.authService = service.NewAuthService(
				f.UserRepository(),
				f.BlacklistRepository(),
				f.BlacklistCache(),
				f.kafkaProducer,
				f.Hasher(),
				f.TokenCodec(),
				util.Get(),
			)
		} else {
			f.authService = service.NewAuthService(
				f.UserRepository(),
				f.BlacklistRepository(),
				f.BlacklistCache(),
				service.NopOutbox{},
				f.Hasher(),
				f.TokenCodec(),
				util.Get(),
			)
		}
	}
	return f.authService
}

// MailerPool returns the OTP mail consumer pool, or nil when Kafka is not
// available.
func (f *Factory) MailerPool() *mailer.WorkerPool {
	if f.mailerPool == nil && f.kafkaConsumer != nil {
		sender := mailer.NewSMTPSender(f.config)
		f.mailerPool = mailer.NewWorkerPool(f.kafkaConsumer, sender, f.config.Kafka.Workers, util.Get())
	}
	return f.mailerPool
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

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}
	if f.tokenCodec == nil {
		healthErrors["token_codec"] = fmt.Errorf("token codec not initialized")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// The outbox being down degrades mail delivery, not the auth plane.
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.auditRecorder != nil {
			if err := f.auditRecorder.Close(); err != nil {
				util.Error("Failed to close audit recorder", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}

func (f *Factory) TokenCodec() *token.Codec {
	return f.tokenCodec
}
