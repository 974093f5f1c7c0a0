package config

import (
	"errors"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"kinlink"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"kinlink"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"kin"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// JWT 配置
	JWTSecret        string `env:"JWT_SECRET"` // 必填，用于签名 JWT
	JWTExpireMinutes int    `env:"JWT_EXPIRE_MINUTES" envDefault:"30"`
	JWTRefreshDays   int    `env:"JWT_REFRESH_DAYS" envDefault:"7"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪配置
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4317"`
	TracingSampler  float64 `env:"TRACING_SAMPLER" envDefault:"0.1"`

	// 速率限制配置, 配置在中间件内
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS     int  `env:"RATE_LIMIT_RPS" envDefault:"100"` // 每秒请求数

	// 允许跨域的来源，为空时放行所有来源
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// 引导完成度策略，权重之和应为 100
	OnboardingEssentialWeight    int           `env:"ONBOARDING_ESSENTIAL_WEIGHT" envDefault:"50"`
	OnboardingCoreWeight         int           `env:"ONBOARDING_CORE_WEIGHT" envDefault:"30"`
	OnboardingRichWeight         int           `env:"ONBOARDING_RICH_WEIGHT" envDefault:"20"`
	OnboardingCompleteThreshold  int           `env:"ONBOARDING_COMPLETE_THRESHOLD" envDefault:"90"`
	OnboardingCoreCompleteRatio  float64       `env:"ONBOARDING_CORE_COMPLETE_RATIO" envDefault:"0.7"`
	OnboardingRichCompleteRatio  float64       `env:"ONBOARDING_RICH_COMPLETE_RATIO" envDefault:"0.5"`
	OnboardingRemoteTimeout      time.Duration `env:"ONBOARDING_REMOTE_TIMEOUT" envDefault:"10s"`
	OnboardingBreakerMaxFailures int           `env:"ONBOARDING_BREAKER_MAX_FAILURES" envDefault:"3"`
	OnboardingBreakerReset       time.Duration `env:"ONBOARDING_BREAKER_RESET" envDefault:"30s"`

	// worker 补发未投递的完成事件
	RepublishInterval time.Duration `env:"WORKER_REPUBLISH_INTERVAL" envDefault:"1m"`
	RepublishAfter    time.Duration `env:"WORKER_REPUBLISH_AFTER" envDefault:"2m"`
	RepublishBatch    int           `env:"WORKER_REPUBLISH_BATCH" envDefault:"100"`

	// 客户端（onboardctl）配置
	APIBaseURL     string `env:"KINLINK_API_BASE_URL" envDefault:"http://localhost:8888"`
	APIToken       string `env:"KINLINK_API_TOKEN"`
	LocalStorePath string `env:"KINLINK_LOCAL_STORE" envDefault:"kinlink.db"`
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}
}

// Validate 校验服务端必填配置，由 cmd/server 和 cmd/worker 在启动时调用
func Validate() error {
	if Cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	total := Cfg.OnboardingEssentialWeight + Cfg.OnboardingCoreWeight + Cfg.OnboardingRichWeight
	if total != 100 {
		log.Printf("WARN: onboarding phase weights sum to %d, percentages will be clamped to 100", total)
	}

	if Cfg.OnboardingRemoteTimeout <= 0 {
		return errors.New("ONBOARDING_REMOTE_TIMEOUT must be positive")
	}

	return nil
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
