package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config healthmon（HTTP API + 监测会话）配置
type Config struct {
	HTTP struct {
		Addr   string
		APIKey string
	}
	Database DatabaseConfig
	Redis    struct {
		Addr     string
		Password string
		DB       int
	}
	Analysis AnalysisConfig
	SMTP     SMTPConfig
	Reminder struct {
		// Cron spec for the monthly check reminder (default: 09:00 on day 1)
		Spec string
	}
	Log struct {
		Level  string
		Format string
	}
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// AnalysisConfig 外部分析（LLM）服务配置
type AnalysisConfig struct {
	BaseURL string // OpenAI-compatible endpoint base URL
	APIKey  string
	Model   string
}

// SMTPConfig 邮件发送配置
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.APIKey = getEnv("API_KEY", "")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "healthmon")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	// Analysis 配置（OpenAI 兼容接口，如 DeepSeek）
	cfg.Analysis.BaseURL = getEnv("ANALYSIS_BASE_URL", "https://openrouter.ai/api/v1")
	cfg.Analysis.APIKey = getEnv("ANALYSIS_API_KEY", "")
	cfg.Analysis.Model = getEnv("ANALYSIS_MODEL", "deepseek/deepseek-prover-v2:free")

	cfg.SMTP.Host = getEnv("SMTP_HOST", "smtp.gmail.com")
	cfg.SMTP.Port = parseInt(getEnv("SMTP_PORT", "465"), 465)
	cfg.SMTP.Username = getEnv("SMTP_USERNAME", "")
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", "")
	cfg.SMTP.From = getEnv("SMTP_FROM", "Health Monitoring <no-reply@localhost>")

	cfg.Reminder.Spec = getEnv("REMINDER_CRON", "0 9 1 * *")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
