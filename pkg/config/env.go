package config

const (
	EnvPrefix = "METROLOG"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "METROLOG_APP_ENV"
	EnvPort     = "METROLOG_APP_PORT"
	EnvLogLevel = "METROLOG_LOG_LEVEL"

	EnvDBDSN  = "METROLOG_DB_DSN"
	EnvDBHost = "METROLOG_DB_HOST"
	EnvDBUser = "METROLOG_DB_USER"
	EnvDBName = "METROLOG_DB_NAME"

	EnvRedisURL  = "METROLOG_REDIS_URL"
	EnvRedisAddr = "METROLOG_REDIS_ADDR"

	EnvJWTSecret = "METROLOG_JWT_SECRET"
	EnvJWTIssuer = "METROLOG_JWT_ISSUER"

	EnvQuotaDefaultDailyLimit = "METROLOG_QUOTA_DEFAULT_DAILY_LIMIT"
	EnvCacheVerificationsTTL  = "METROLOG_CACHE_VERIFICATIONS_TTL"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
