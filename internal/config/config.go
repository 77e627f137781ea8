package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/utils"
)

const DefaultPath = "config.json"

type DatabaseConfig struct {
	Host               string `json:"host" env:"GATEWAY_MONGO_HOST"`
	Port               uint64 `json:"port" env:"GATEWAY_MONGO_PORT"`
	Username           string `json:"username" env:"GATEWAY_MONGO_USERNAME"`
	Password           string `json:"password" env:"GATEWAY_MONGO_PASSWORD"`
	Database           string `json:"database" env:"GATEWAY_MONGO_DATABASE"`
	UseTLS             bool   `json:"use_tls" env:"GATEWAY_MONGO_USE_TLS"`
	ConnectTimeout     string `json:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
}

type RedisConfig struct {
	Addr     string `json:"addr" env:"GATEWAY_REDIS_ADDR"`
	Password string `json:"password" env:"GATEWAY_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"GATEWAY_REDIS_DB"`
	// KeyPrefix 令牌键前缀
	KeyPrefix string `json:"key_prefix"`
}

// TokenStoreConfig 登录令牌的存储后端
type TokenStoreConfig struct {
	Backend   string `json:"backend" env:"GATEWAY_TOKEN_BACKEND"` // memory | mongo | redis
	CacheSize int    `json:"cache_size"`                          // 0 表示不启用缓存
	CacheTTL  string `json:"cache_ttl"`
	TokenTTL  string `json:"token_ttl"` // 仅 redis 后端使用，0 表示永不过期
}

// TracingConfig endpoint 为空或 enabled 为 false 时不安装 tracer provider
type TracingConfig struct {
	Enabled  bool   `json:"enabled" env:"GATEWAY_OTEL_ENABLED"`
	Endpoint string `json:"endpoint" env:"GATEWAY_OTEL_ENDPOINT"` // OTLP/HTTP，例如 http://localhost:4318
}

type GatewayConfig struct {
	HeartbeatInterval     string `json:"heartbeat_interval"`
	HeartbeatTimeout      string `json:"heartbeat_timeout" env:"GATEWAY_HEARTBEAT_TIMEOUT"` // 0 表示不检测
	RequireIdentify       bool   `json:"require_identify" env:"GATEWAY_REQUIRE_IDENTIFY"`
	OutboundQueueCapacity int    `json:"outbound_queue_capacity" env:"GATEWAY_QUEUE_CAPACITY"` // 0 表示不限
	OverflowPolicy        string `json:"overflow_policy" env:"GATEWAY_OVERFLOW_POLICY"`        // block | drop_oldest | disconnect
	MaxConnections        int    `json:"max_connections" env:"GATEWAY_MAX_CONNECTIONS"`
	WriteTimeout          string `json:"write_timeout"`
	MaxMessageSize        int64  `json:"max_message_size"`
	ReadBufferSize        int    `json:"read_buffer_size"`
	WriteBufferSize       int    `json:"write_buffer_size"`
}

type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	TokenStore TokenStoreConfig `json:"token_store"`
	Gateway    GatewayConfig    `json:"gateway"`
	Tracing    TracingConfig    `json:"tracing"`
	DebugMode  bool             `json:"debug_mode" env:"GATEWAY_DEBUG"`
	AppName    string           `json:"app_name"`
	AppPort    int              `json:"app_port" env:"GATEWAY_APP_PORT"`
	LogDir     string           `json:"log_dir" env:"GATEWAY_LOG_DIR"`
}

var (
	config      = Default()
	initialized = false

	ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
)

func Default() Config {
	c := Config{
		AppName: "life-stream-chat-gateway",
		AppPort: 8080,
		LogDir:  "logs",
	}
	c.Database.Host = "localhost"
	c.Database.Port = 27017
	c.Database.Database = "chat_gateway"
	c.Database.ConnectTimeout = "10s"
	c.Database.SocketTimeout = "30s"
	c.Database.ConnectIdleTimeout = "5m"
	c.Database.OperationTimeout = "5s"
	c.Database.Heartbeat = "10s"
	c.Database.MinPoolSize = 1
	c.Database.MaxPoolSize = 20
	c.Redis.Addr = "localhost:6379"
	c.Redis.KeyPrefix = "chat-gateway:token:"
	c.TokenStore.Backend = "memory"
	c.TokenStore.CacheTTL = "10m"
	c.Gateway.HeartbeatInterval = "25000ms"
	c.Gateway.HeartbeatTimeout = "0"
	c.Gateway.OverflowPolicy = "block"
	c.Gateway.MaxConnections = 10000
	c.Gateway.WriteTimeout = "10s"
	c.Gateway.MaxMessageSize = 64 * 1024
	c.Gateway.ReadBufferSize = 1024
	c.Gateway.WriteBufferSize = 1024
	return c
}

// ReadConfig 读取配置文件并应用环境变量覆盖
// 文件不存在时写出默认配置并返回 ErrConfigCreated
func ReadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	bytes, err := os.ReadFile(path)

	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("read config %s: %w", path, err)
		}
		data, _ := json.MarshalIndent(Default(), "", "\t")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return config, fmt.Errorf("create config %s: %w", path, err)
		}
		return config, ErrConfigCreated
	}

	parsed := Default()
	if err = json.Unmarshal(bytes, &parsed); err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	if err = env.Parse(&parsed); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}

	if err = parsed.Validate(); err != nil {
		return config, err
	}

	config = parsed
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig(DefaultPath)
}

func (c Config) Validate() error {
	switch c.TokenStore.Backend {
	case "memory", "mongo", "redis":
	default:
		return fmt.Errorf("unknown token store backend %q", c.TokenStore.Backend)
	}
	switch c.Gateway.OverflowPolicy {
	case "block", "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("unknown overflow policy %q", c.Gateway.OverflowPolicy)
	}
	if c.Gateway.OutboundQueueCapacity < 0 {
		return errors.New("outbound_queue_capacity must not be negative")
	}
	if c.Gateway.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}
	for name, value := range map[string]string{
		"gateway.heartbeat_interval": c.Gateway.HeartbeatInterval,
		"gateway.heartbeat_timeout":  c.Gateway.HeartbeatTimeout,
		"gateway.write_timeout":      c.Gateway.WriteTimeout,
		"token_store.cache_ttl":      c.TokenStore.CacheTTL,
		"token_store.token_ttl":      c.TokenStore.TokenTTL,
	} {
		if _, err := utils.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.HeartbeatInterval() <= 0 {
		return errors.New("gateway.heartbeat_interval must be positive")
	}
	return nil
}

func (c Config) HeartbeatInterval() time.Duration {
	return utils.MustParseDuration(c.Gateway.HeartbeatInterval, 25*time.Second)
}

func (c Config) HeartbeatTimeout() time.Duration {
	return utils.MustParseDuration(c.Gateway.HeartbeatTimeout, 0)
}

func (c Config) WriteTimeout() time.Duration {
	return utils.MustParseDuration(c.Gateway.WriteTimeout, 10*time.Second)
}

func (c Config) TokenTTL() time.Duration {
	return utils.MustParseDuration(c.TokenStore.TokenTTL, 0)
}

// TokenCacheTTL 缓存不能比令牌本身活得更久
func (c Config) TokenCacheTTL() time.Duration {
	cacheTTL := utils.MustParseDuration(c.TokenStore.CacheTTL, 0)
	tokenTTL := c.TokenTTL()
	if tokenTTL > 0 && (cacheTTL <= 0 || tokenTTL < cacheTTL) {
		return tokenTTL
	}
	return cacheTTL
}
