package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort     string
	ServiceName string
	LogLevel    string

	DBDriver    string
	MySQLHost   string
	MySQLPort   string
	MySQLDB     string
	MySQLUser   string
	MySQLPass   string
	PostgresDSN string
	SQLitePath  string
	AutoMigrate bool

	RedisAddr string
	RedisDB   int

	IdempTTLSecs int

	CreditMonthlyRate  float64
	PlatformFeeShare   float64
	DefaultAfterDays   int
	AllocationStrategy string

	OutboxMaxAttempts    int
	OutboxBaseBackoff    time.Duration
	OutboxMaxBackoff     time.Duration
	OutboxWorkers        int
	OutboxPollInterval   time.Duration
	ReconToleranceLender float64
	ReconToleranceEscrow float64
	ReconInterval        time.Duration
	SweepInterval        time.Duration

	EscrowBaseURL     string
	LoanLedgerBaseURL string
	CrbBaseURL        string
	GatewayTimeout    time.Duration
	GatewayAPIKey     string

	EventBus        string
	EventStream     string
	PubSubProjectID string
	PubSubTopic     string

	AuthTokenSecret string
	AuthTokenTTL    time.Duration
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getfloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}

func getbool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func seconds(k string, d int) time.Duration { return time.Duration(getint(k, d)) * time.Second }

// Load reads the environment. A .env file, when present, only fills keys
// that are not already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		AppPort:     getenv("APP_PORT", "8080"),
		ServiceName: getenv("SERVICE_NAME", "payroll-bnpl"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "mysql")),
		MySQLHost:   getenv("MYSQL_HOST", "mysql"),
		MySQLPort:   getenv("MYSQL_PORT", "3306"),
		MySQLDB:     getenv("MYSQL_DB", "bnpl"),
		MySQLUser:   getenv("MYSQL_USER", "bnpl"),
		MySQLPass:   getenv("MYSQL_PASS", "bnpl"),
		PostgresDSN: getenv("POSTGRES_DSN", ""),
		SQLitePath:  getenv("SQLITE_PATH", "bnpl.db"),
		AutoMigrate: getbool("AUTO_MIGRATE", true),

		RedisAddr: getenv("REDIS_ADDR", "redis:6379"),
		RedisDB:   getint("REDIS_DB", 0),

		IdempTTLSecs: getint("IDEMPOTENCY_TTL_SECONDS", 86400),

		CreditMonthlyRate:  getfloat("CREDIT_MONTHLY_RATE", 0.04),
		PlatformFeeShare:   getfloat("PLATFORM_FEE_SHARE", 0.3),
		DefaultAfterDays:   getint("DEFAULT_AFTER_DAYS", 90),
		AllocationStrategy: getenv("ALLOCATION_STRATEGY", "ROUND_ROBIN"),

		OutboxMaxAttempts:    getint("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxBaseBackoff:    seconds("OUTBOX_BASE_BACKOFF_SECONDS", 2),
		OutboxMaxBackoff:     seconds("OUTBOX_MAX_BACKOFF_SECONDS", 600),
		OutboxWorkers:        getint("OUTBOX_WORKERS", 4),
		OutboxPollInterval:   seconds("OUTBOX_POLL_SECONDS", 5),
		ReconToleranceLender: getfloat("RECON_TOLERANCE_LENDER", 0.001),
		ReconToleranceEscrow: getfloat("RECON_TOLERANCE_ESCROW", 0.001),
		ReconInterval:        seconds("RECON_INTERVAL_SECONDS", 86400),
		SweepInterval:        seconds("SWEEP_INTERVAL_SECONDS", 3600),

		EscrowBaseURL:     getenv("ESCROW_BASE_URL", "http://escrow:8080"),
		LoanLedgerBaseURL: getenv("LOAN_LEDGER_BASE_URL", "http://loan-ledger:8080"),
		CrbBaseURL:        getenv("CRB_BASE_URL", "http://crb:8080"),
		GatewayTimeout:    seconds("GATEWAY_TIMEOUT_SECONDS", 10),
		GatewayAPIKey:     getenv("GATEWAY_API_KEY", ""),

		EventBus:        strings.ToLower(getenv("EVENT_BUS", "redis")),
		EventStream:     getenv("EVENT_STREAM", "bnpl-events"),
		PubSubProjectID: getenv("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:     getenv("PUBSUB_TOPIC", "bnpl-events"),

		AuthTokenSecret: getenv("AUTH_TOKEN_SECRET", "change-me"),
		AuthTokenTTL:    seconds("AUTH_TOKEN_TTL_SECONDS", 900),
	}
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql":
		if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
			return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
		}
		// ensure port is valid
		if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("missing POSTGRES_DSN")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("missing SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if _, err := net.LookupPort("tcp", c.AppPort); err != nil {
		return fmt.Errorf("invalid APP_PORT %q: %w", c.AppPort, err)
	}
	if c.IdempotencyTTL() < 24*time.Hour {
		return fmt.Errorf("IDEMPOTENCY_TTL_SECONDS must be at least 86400, got %d", c.IdempTTLSecs)
	}
	if c.PlatformFeeShare < 0 || c.PlatformFeeShare > 1 {
		return fmt.Errorf("PLATFORM_FEE_SHARE must be within [0,1], got %v", c.PlatformFeeShare)
	}
	if c.CreditMonthlyRate < 0 {
		return fmt.Errorf("CREDIT_MONTHLY_RATE must not be negative, got %v", c.CreditMonthlyRate)
	}
	if c.OutboxMaxAttempts < 1 {
		return errors.New("OUTBOX_MAX_ATTEMPTS must be positive")
	}
	switch c.EventBus {
	case "redis":
	case "pubsub":
		if c.PubSubProjectID == "" {
			return errors.New("missing PUBSUB_PROJECT_ID for EVENT_BUS=pubsub")
		}
	default:
		return fmt.Errorf("unsupported EVENT_BUS %q", c.EventBus)
	}
	return nil
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempTTLSecs) * time.Second
}

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// multiStatements=true is handy for migrations; parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?multiStatements=true&parseTime=true&charset=utf8mb4,utf8",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	switch c.DBDriver {
	case "postgres":
		return c.PostgresDSN
	case "sqlite":
		return c.SQLitePath
	}
	return c.MySQLDSN()
}
