package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Directory DirectoryConfig
	Session   SessionConfig
	App       AppConfig
}

type ServerConfig struct {
	Port string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the session cache keys so several
	// deployments can share one Redis instance.
	KeyPrefix string
}

// DirectoryConfig selects and configures the remote identity directory.
// Backend is "firebase" (production) or "postgres" (self-hosted pilots).
type DirectoryConfig struct {
	Backend string

	// Firebase backend
	CredentialsPath string
	WebAPIKey       string
	ProjectID       string

	// Postgres backend
	DSN string
}

type SessionConfig struct {
	// AllowDegradedVolunteer lets a cache-backed volunteer session
	// proceed with gated actions when the confirming remote check
	// cannot complete.
	AllowDegradedVolunteer bool
	// PromoteInPlace applies a server-side role upgrade to volunteer
	// on the next remote confirmation instead of requiring a fresh
	// registration.
	PromoteInPlace bool
}

type AppConfig struct {
	Environment string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "kr:session:"),
		},
		Directory: DirectoryConfig{
			Backend:         getEnv("DIRECTORY_BACKEND", "firebase"),
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			WebAPIKey:       getEnv("FIREBASE_WEB_API_KEY", ""),
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			DSN:             getEnv("DIRECTORY_DB_DSN", ""),
		},
		Session: SessionConfig{
			AllowDegradedVolunteer: getEnvAsBool("SESSION_ALLOW_DEGRADED_VOLUNTEER", true),
			PromoteInPlace:         getEnvAsBool("SESSION_PROMOTE_IN_PLACE", true),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}

	switch c.Directory.Backend {
	case "firebase":
		if c.Directory.CredentialsPath == "" {
			return fmt.Errorf("FIREBASE_CREDENTIALS_PATH is required for the firebase backend")
		}
		if c.Directory.WebAPIKey == "" {
			return fmt.Errorf("FIREBASE_WEB_API_KEY is required for the firebase backend")
		}
	case "postgres":
		if c.Directory.DSN == "" {
			return fmt.Errorf("DIRECTORY_DB_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown DIRECTORY_BACKEND %q", c.Directory.Backend)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return value
}
