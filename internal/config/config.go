package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Upstream UpstreamConfig
	Limits   LimitsConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection string
}

type UpstreamConfig struct {
	QueryBaseURL   string // streaming QA service
	ExtractBaseURL string // file/photo/audio content extraction
	Model          string // default completion model
	APIKey         string // bearer token for both upstream services
}

type LimitsConfig struct {
	MaxSessions    int // persisted chats per user
	MaxAttachments int // concurrent attachments per pending submission
	MaxUploadBytes int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Upstream: UpstreamConfig{
			QueryBaseURL:   getEnv("QUERY_BASE_URL", "http://localhost:8000"),
			ExtractBaseURL: getEnv("EXTRACT_BASE_URL", "http://localhost:8000"),
			Model:          getEnv("QUERY_MODEL", "deepseek/deepseek-chat"),
			APIKey:         getEnv("QUERY_API_KEY", ""),
		},
		Limits: LimitsConfig{
			MaxSessions:    getEnvAsInt("MAX_CHAT_SESSIONS", 20),
			MaxAttachments: getEnvAsInt("MAX_ATTACHMENTS", 5),
			MaxUploadBytes: getEnvAsInt("MAX_UPLOAD_BYTES", 25*1024*1024),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
