package config

// EnvPrefix is empty because every field carries its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"

	defaultSQLiteDSN = "file:ledger.db?_busy_timeout=5000&_foreign_keys=on"
)

const (
	EnvAppEnv    = "LEDGER_APP_ENV"
	EnvPort      = "LEDGER_APP_PORT"
	EnvLogLevel  = "LEDGER_LOG_LEVEL"
	EnvDBDSN     = "LEDGER_DB_DSN"
	EnvDBDriver  = "LEDGER_DB_DRIVER"
	EnvDBHost    = "LEDGER_DB_HOST"
	EnvDBUser    = "LEDGER_DB_USER"
	EnvDBName    = "LEDGER_DB_NAME"
	EnvRedisURL  = "LEDGER_REDIS_URL"
	EnvJWTSecret = "LEDGER_JWT_SECRET"
	EnvJWTIssuer = "LEDGER_JWT_ISSUER"

	EnvLockBackend    = "LEDGER_LOCK_BACKEND"
	EnvTxMaxRetries   = "LEDGER_TX_MAX_RETRIES"
	EnvSystemAdminIDs = "LEDGER_SYSTEM_ADMIN_IDS"
	EnvGCPProjectID   = "LEDGER_GCP_PROJECT_ID"
	EnvAuditTopic     = "LEDGER_AUDIT_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
