package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "SUBTALLY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SUBTALLY_DB_DSN"
	EnvDBHost = "SUBTALLY_DB_HOST"
	EnvDBUser = "SUBTALLY_DB_USER"
	EnvDBName = "SUBTALLY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Eventing     EventingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBTALLY_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBTALLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUBTALLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBTALLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SUBTALLY_DB_DSN"`
	Driver string `envconfig:"SUBTALLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBTALLY_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBTALLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBTALLY_DB_USER"`
	LegacyPassword string `envconfig:"SUBTALLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBTALLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBTALLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBTALLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBTALLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBTALLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBTALLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBTALLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUBTALLY_REDIS_ADDR"`
	Password     string        `envconfig:"SUBTALLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBTALLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBTALLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBTALLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBTALLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBTALLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBTALLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SUBTALLY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SUBTALLY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SUBTALLY_JWT_EXPIRATION_MINUTES" required:"true"`
	SessionTTLMinutes int    `envconfig:"SUBTALLY_SESSION_TTL_MINUTES" default:"43200"`
}

// SessionTTL returns the server-side session TTL configured in minutes.
func (j JWTConfig) SessionTTL() time.Duration {
	if j.SessionTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.SessionTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"SUBTALLY_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SUBTALLY_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SUBTALLY_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SUBTALLY_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SUBTALLY_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SUBTALLY_AUTO_MIGRATE" default:"false"`
	// CascadeRPC toggles the server-side cascade procedure; when off the
	// delete coordinator goes straight to the manual fallback.
	CascadeRPC bool `envconfig:"SUBTALLY_FEATURE_CASCADE_RPC" default:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SUBTALLY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SUBTALLY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SUBTALLY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"SUBTALLY_PUBSUB_DOMAIN_TOPIC" default:"st-domain-events"`
	DomainSubscription string `envconfig:"SUBTALLY_PUBSUB_DOMAIN_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SUBTALLY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SUBTALLY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SUBTALLY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"SUBTALLY_CRON_INTERVAL" default:"1h"`
	NotificationRetention int           `envconfig:"SUBTALLY_CRON_NOTIFICATION_RETENTION_DAYS" default:"30"`
	OutboxRetention       int           `envconfig:"SUBTALLY_CRON_OUTBOX_RETENTION_DAYS" default:"7"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SUBTALLY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
