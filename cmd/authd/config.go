package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authd/internal/logger"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultRedisAddr        = "localhost:6379"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 30 * 24 * time.Hour
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
	defaultRateCapacity     = 10.0
	defaultRateRefill       = 1.0
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the authd service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Redis address backing the rate limiter
	RedisAddr string

	// Secret key for signing JWT access tokens (symmetric)
	SecretKey string

	// Environment
	Environment string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Bcrypt work factor. Zero keeps the library default
	BcryptCost int

	LockoutThreshold int
	LockoutDuration  time.Duration

	// Skip the floor bump + revoke-all response to refresh token reuse
	DisableReuseDefense bool

	// Token bucket parameters for auth-sensitive endpoints
	RateLimitCapacity float64
	RateLimitRefill   float64

	// Reject requests when the rate limit store is down instead of
	// admitting them. Off by default: availability wins
	RateLimitFailClosed bool
}

func NewConfig() *Config {
	return &Config{
		LogLevel:          defaultLoggingLevel,
		ListenAddr:        defaultListenAddr,
		RedisAddr:         defaultRedisAddr,
		Environment:       defaultEnvironment,
		AccessTokenTTL:    defaultAccessTTL,
		RefreshTokenTTL:   defaultRefreshTTL,
		LockoutThreshold:  defaultLockoutThreshold,
		LockoutDuration:   defaultLockoutDuration,
		RateLimitCapacity: defaultRateCapacity,
		RateLimitRefill:   defaultRateRefill,
	}
}

// Load variables from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setDuration := func(o *time.Duration) func(value string) {
		return func(value string) {
			if d, err := time.ParseDuration(value); err == nil {
				*o = d
			}
		}
	}
	setInt := func(o *int) func(value string) {
		return func(value string) {
			if v, err := strconv.Atoi(value); err == nil {
				*o = v
			}
		}
	}
	setFloat := func(o *float64) func(value string) {
		return func(value string) {
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				*o = v
			}
		}
	}
	setBool := func(o *bool) func(value string) {
		return func(value string) {
			if v, err := strconv.ParseBool(value); err == nil {
				*o = v
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":            setString(&c.ListenAddr),
		"DATABASE_URI":           setString(&c.DatabaseDSN),
		"REDIS_ADDRESS":          setString(&c.RedisAddr),
		"SECRET_KEY":             setString(&c.SecretKey),
		"LOG_LEVEL":              setString(&c.LogLevel),
		"ENVIRONMENT":            setString(&c.Environment),
		"ACCESS_TOKEN_TTL":       setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL":      setDuration(&c.RefreshTokenTTL),
		"BCRYPT_COST":            setInt(&c.BcryptCost),
		"LOCKOUT_THRESHOLD":      setInt(&c.LockoutThreshold),
		"LOCKOUT_DURATION":       setDuration(&c.LockoutDuration),
		"DISABLE_REUSE_DEFENSE":  setBool(&c.DisableReuseDefense),
		"RATE_LIMIT_CAPACITY":    setFloat(&c.RateLimitCapacity),
		"RATE_LIMIT_REFILL":      setFloat(&c.RateLimitRefill),
		"RATE_LIMIT_FAIL_CLOSED": setBool(&c.RateLimitFailClosed),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authd", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.RedisAddr, "redis", "r", c.RedisAddr, "Redis address for the rate limiter")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.BoolVar(&c.RateLimitFailClosed, "rate-limit-fail-closed", c.RateLimitFailClosed, "Reject requests when the rate limit store is unavailable")

	return fs.Parse(args)
}
