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
	Quota        QuotaConfig
	Cache        CacheConfig
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
	if err := cfg.Quota.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"METROLOG_APP_ENV" required:"true"`
	Port         string `envconfig:"METROLOG_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"METROLOG_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"METROLOG_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"METROLOG_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"METROLOG_DB_DSN"`

	Host     string `envconfig:"METROLOG_DB_HOST"`
	Port     int    `envconfig:"METROLOG_DB_PORT" default:"5432"`
	User     string `envconfig:"METROLOG_DB_USER"`
	Password string `envconfig:"METROLOG_DB_PASSWORD"`
	Name     string `envconfig:"METROLOG_DB_NAME"`
	SSLMode  string `envconfig:"METROLOG_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"METROLOG_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"METROLOG_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"METROLOG_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"METROLOG_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// LockTimeout bounds how long a request waits on a ledger or act number row lock.
	LockTimeout time.Duration `envconfig:"METROLOG_DB_LOCK_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"METROLOG_REDIS_URL"`
	Address      string        `envconfig:"METROLOG_REDIS_ADDR"`
	Password     string        `envconfig:"METROLOG_REDIS_PASSWORD"`
	DB           int           `envconfig:"METROLOG_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"METROLOG_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"METROLOG_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"METROLOG_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"METROLOG_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"METROLOG_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"METROLOG_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"METROLOG_JWT_ISSUER" required:"true"`
}

// QuotaConfig holds the fallbacks used when a company has no daily limit of its own.
type QuotaConfig struct {
	DefaultDailyLimit int `envconfig:"METROLOG_QUOTA_DEFAULT_DAILY_LIMIT" default:"0"`
}

func (q QuotaConfig) validate() error {
	if q.DefaultDailyLimit < 0 {
		return fmt.Errorf("%s must not be negative", EnvQuotaDefaultDailyLimit)
	}
	return nil
}

type CacheConfig struct {
	VerificationsTTL time.Duration `envconfig:"METROLOG_CACHE_VERIFICATIONS_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"METROLOG_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
