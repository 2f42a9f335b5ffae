package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	CORSOrigins []string
	DBURL       string

	ProvidersFile string

	PollInterval time.Duration
	// PollTimeout < 0 means unbounded; zero times out immediately.
	PollTimeout       time.Duration
	InlineInputsLimit int
	InputsDir         string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GeoserverBaseURL   string
	GeoserverWorkspace string
	GeoserverUser      string
	GeoserverPassword  string

	IDPIssuer string
	JWTSecret string

	OTLPEndpoint string
}

func Load() Config {
	// best effort; real deployments set the environment directly
	_ = godotenv.Load()

	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		Port:        getEnvInt("PORT", 8080),
		APIPrefix:   getEnv("API_PREFIX", "/"),
		CORSOrigins: getEnvList("CORS_ORIGINS"),
		DBURL:       buildDBURL(),

		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.yaml"),

		PollInterval:      getEnvDuration("POLL_INTERVAL", 5*time.Second),
		PollTimeout:       getEnvDuration("POLL_TIMEOUT", -1),
		InlineInputsLimit: getEnvInt("INLINE_INPUTS_LIMIT", 64*1024),
		InputsDir:         getEnv("INPUTS_DIR", "data/inputs"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeoserverBaseURL:   getEnv("GEOSERVER_BASE_URL", "http://geoserver:8080/geoserver"),
		GeoserverWorkspace: getEnv("GEOSERVER_WORKSPACE", "procgate"),
		GeoserverUser:      getEnv("GEOSERVER_USER", "admin"),
		GeoserverPassword:  getEnv("GEOSERVER_PASSWORD", "geoserver"),

		IDPIssuer: getEnv("IDP_ISSUER", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "procgate")
	pass := getEnv("DB_PASSWORD", "procgate")
	name := getEnv("DB_NAME", "procgate")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)

	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)

		if err != nil {
			// allow plain seconds, e.g. POLL_TIMEOUT=300
			if secs, convErr := strconv.ParseFloat(v, 64); convErr == nil {
				return time.Duration(secs * float64(time.Second))
			}
			fmt.Println(err)
			return fallback
		}

		return d
	}
	return fallback
}
