package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBSchema      string
	DBAutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, MES_JWT_SECRET must be at least 32 bytes.
	RequireStrongSecret bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Per-IP limit for the REST API. Zero disables it.
	HTTPRateLimit  int
	HTTPRateWindow time.Duration

	RevocationSweepInterval time.Duration

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
	BootstrapAdminOrg      string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MES_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MES_LOG_LEVEL", "info"),
		LogFormat: EnvString("MES_LOG_FORMAT", "json"),
		LogColor:  EnvBool("MES_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("MES_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MES_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MES_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MES_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("MES_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("MES_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("MES_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("MES_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("MES_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("MES_DB_SCHEMA", "mes"),
		DBAutoMigrate: EnvBool("MES_DB_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("MES_READINESS_REQUIRE_DB", false),

		RequireStrongSecret: EnvBool("MES_REQUIRE_STRONG_SECRET", false),

		CORSAllowedOrigins:   EnvCSV("MES_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("MES_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("MES_CORS_MAX_AGE_SECONDS", 300),

		HTTPRateLimit:  EnvIntAllowZero("MES_HTTP_RATE_LIMIT", 300),
		HTTPRateWindow: EnvDuration("MES_HTTP_RATE_WINDOW", time.Minute),

		RevocationSweepInterval: EnvDuration("MES_REVOCATION_SWEEP_INTERVAL", time.Hour),

		BootstrapAdminEmail:    EnvString("MES_BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: EnvString("MES_BOOTSTRAP_ADMIN_PASSWORD", ""),
		BootstrapAdminOrg:      EnvString("MES_BOOTSTRAP_ADMIN_ORG", ""),
	}
}
