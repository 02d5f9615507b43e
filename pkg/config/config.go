package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Ledger       LedgerConfig
	Audit        AuditConfig
	GCP          GCPConfig
	Reconcile    ReconcileConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"LEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LEDGER_DB_DSN"`
	Driver string `envconfig:"LEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"LEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEDGER_DB_USER"`
	LegacyPassword string `envconfig:"LEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite dialector is configured.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGER_REDIS_URL"`
	Address      string        `envconfig:"LEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret string `envconfig:"LEDGER_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"LEDGER_JWT_ISSUER" required:"true"`
}

// LedgerConfig tunes the per-account unit of work.
type LedgerConfig struct {
	LockBackend      string        `envconfig:"LEDGER_LOCK_BACKEND" default:"memory"`
	LockTTL          time.Duration `envconfig:"LEDGER_LOCK_TTL" default:"30s"`
	LockWait         time.Duration `envconfig:"LEDGER_LOCK_WAIT" default:"5s"`
	MaxRetries       int           `envconfig:"LEDGER_TX_MAX_RETRIES" default:"3"`
	RetryBaseBackoff time.Duration `envconfig:"LEDGER_TX_RETRY_BASE_BACKOFF" default:"20ms"`
	RetryMaxBackoff  time.Duration `envconfig:"LEDGER_TX_RETRY_MAX_BACKOFF" default:"250ms"`
	SystemAdminIDs   []string      `envconfig:"LEDGER_SYSTEM_ADMIN_IDS"`
}

func (l LedgerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.LockBackend)) {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvLockBackend, LockBackendMemory, LockBackendRedis, l.LockBackend)
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("%s must not be negative", EnvTxMaxRetries)
	}
	return nil
}

// UsesRedisLocks reports whether account locks are distributed through redis.
func (l LedgerConfig) UsesRedisLocks() bool {
	return strings.EqualFold(strings.TrimSpace(l.LockBackend), LockBackendRedis)
}

type AuditConfig struct {
	Topic          string `envconfig:"LEDGER_AUDIT_TOPIC" default:"ledger-audit-events"`
	BatchSize      int    `envconfig:"LEDGER_AUDIT_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"LEDGER_AUDIT_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"LEDGER_AUDIT_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type ReconcileConfig struct {
	Interval  time.Duration `envconfig:"LEDGER_RECONCILE_INTERVAL" default:"1h"`
	BatchSize int           `envconfig:"LEDGER_RECONCILE_BATCH_SIZE" default:"200"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEDGER_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = defaultSQLiteDSN
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
