package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment         string
	Addr                string
	DatabaseURL         string
	MigrationsDir       string
	JWTSecret           string
	CredentialKey       string
	AccessTokenTTL      time.Duration
	GitHostURL          string
	GitRequestTimeout   time.Duration
	BuildHostURL        string
	BuildHostUser       string
	BuildHostToken      string
	BuildRequestTimeout time.Duration
	BuildCallbackToken  string
	LockTTL             time.Duration
	LockRedisAddr       string
	LockRedisPass       string
	LockRedisDB         int
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4000"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://nest:nest@db:5432/nest?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "./migrations"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		CredentialKey:       GetString("CREDENTIAL_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:      GetDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		GitHostURL:          GetString("GIT_HOST_URL", "http://gitlab:80"),
		GitRequestTimeout:   GetDuration("GIT_REQUEST_TIMEOUT", 15*time.Second),
		BuildHostURL:        GetString("BUILD_HOST_URL", "http://jenkins:8080"),
		BuildHostUser:       GetString("BUILD_HOST_USER", ""),
		BuildHostToken:      GetString("BUILD_HOST_TOKEN", ""),
		BuildRequestTimeout: GetDuration("BUILD_REQUEST_TIMEOUT", 15*time.Second),
		BuildCallbackToken:  GetString("BUILD_CALLBACK_TOKEN", ""),
		LockTTL:             GetDuration("PROVISION_LOCK_TTL", 30*time.Second),
		LockRedisAddr:       GetString("PROVISION_LOCK_REDIS_ADDR", ""),
		LockRedisPass:       GetString("PROVISION_LOCK_REDIS_PASSWORD", ""),
		LockRedisDB:         GetInt("PROVISION_LOCK_REDIS_DB", 0),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
