package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	env "sudooom.market.chat/pkg/config"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Socket   SocketConfig   `mapstructure:"socket"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   int64  `mapstructure:"node_id"`
}

type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	Issuer       string        `mapstructure:"issuer"`
	AccessExpire time.Duration `mapstructure:"access_expire"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN PostgreSQL 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr Redis 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// ChannelConfig 实时消息频道服务配置
type ChannelConfig struct {
	Backend     string        `mapstructure:"backend"` // redis | memory
	Timeout     time.Duration `mapstructure:"timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	TokenSecret string        `mapstructure:"token_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// ChatConfig 聊天室业务配置
type ChatConfig struct {
	PairLockTTL     time.Duration `mapstructure:"pair_lock_ttl"`
	MinGroupMembers int           `mapstructure:"min_group_members"`
	MaxGroupMembers int           `mapstructure:"max_group_members"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CleanupBatch    int           `mapstructure:"cleanup_batch"`
}

// SocketConfig WebSocket 会话配置
type SocketConfig struct {
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 从环境变量覆盖配置
	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Port = env.GetEnvInt("CHAT_PORT", c.App.Port)
	c.App.Mode = env.GetEnv("CHAT_MODE", c.App.Mode)
	c.App.LogLevel = env.GetEnv("CHAT_LOG_LEVEL", c.App.LogLevel)
	c.App.NodeID = int64(env.GetEnvInt("CHAT_NODE_ID", int(c.App.NodeID)))

	// JWT
	c.JWT.SecretKey = env.GetEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.AccessExpire = env.GetEnvDuration("JWT_ACCESS_EXPIRE", c.JWT.AccessExpire)

	// Database
	c.Database.Host = env.GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = env.GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = env.GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = env.GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = env.GetEnv("POSTGRES_DB", c.Database.Name)
	c.Database.MaxOpenConns = env.GetEnvInt("POSTGRES_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = env.GetEnvInt("POSTGRES_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	// Redis
	c.Redis.Host = env.GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = env.GetEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = env.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = env.GetEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = env.GetEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)

	// NATS
	c.NATS.URL = env.GetEnv("NATS_URL", c.NATS.URL)

	// Channel
	c.Channel.TokenSecret = env.GetEnv("CHANNEL_TOKEN_SECRET", c.Channel.TokenSecret)
	c.Channel.Timeout = env.GetEnvDuration("CHANNEL_TIMEOUT", c.Channel.Timeout)
	c.Channel.Backend = env.GetEnv("CHANNEL_BACKEND", c.Channel.Backend)

	// CORS
	c.CORS.AllowCredentials = env.GetEnvBool("CORS_ALLOW_CREDENTIALS", c.CORS.AllowCredentials)
}

func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "market-chat"
	}
	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.App.Mode == "" {
		c.App.Mode = "release"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "market-auth"
	}
	if c.JWT.AccessExpire == 0 {
		c.JWT.AccessExpire = 2 * time.Hour
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.ConnectTimeout == 0 {
		c.NATS.ConnectTimeout = 5 * time.Second
	}
	if c.NATS.PingInterval == 0 {
		c.NATS.PingInterval = 20 * time.Second
	}
	if c.NATS.Workers == 0 {
		c.NATS.Workers = 16
	}
	if c.NATS.QueueSize == 0 {
		c.NATS.QueueSize = 4096
	}
	if c.Channel.Backend == "" {
		c.Channel.Backend = "redis"
	}
	if c.Channel.Timeout == 0 {
		c.Channel.Timeout = 8 * time.Second
	}
	if c.Channel.KeyPrefix == "" {
		c.Channel.KeyPrefix = "chat:channel:"
	}
	if c.Channel.TokenTTL == 0 {
		c.Channel.TokenTTL = 24 * time.Hour
	}
	if c.Chat.PairLockTTL == 0 {
		c.Chat.PairLockTTL = 10 * time.Second
	}
	if c.Chat.MinGroupMembers == 0 {
		c.Chat.MinGroupMembers = 1
	}
	if c.Chat.MaxGroupMembers == 0 {
		c.Chat.MaxGroupMembers = 500
	}
	if c.Chat.CleanupInterval == 0 {
		c.Chat.CleanupInterval = 10 * time.Minute
	}
	if c.Chat.CleanupBatch == 0 {
		c.Chat.CleanupBatch = 200
	}
	if c.Socket.AuthTimeout == 0 {
		c.Socket.AuthTimeout = 10 * time.Second
	}
	if c.Socket.WriteWait == 0 {
		c.Socket.WriteWait = 10 * time.Second
	}
	if c.Socket.PongWait == 0 {
		c.Socket.PongWait = 60 * time.Second
	}
	if c.Socket.MaxMessageSize == 0 {
		c.Socket.MaxMessageSize = 8 * 1024
	}
	if c.Socket.SendBuffer == 0 {
		c.Socket.SendBuffer = 64
	}
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("config: jwt.secret_key is required")
	}
	if c.Channel.TokenSecret == "" {
		return errors.New("config: channel.token_secret is required")
	}
	if c.Channel.Backend != "redis" && c.Channel.Backend != "memory" {
		return fmt.Errorf("config: unknown channel.backend %q", c.Channel.Backend)
	}
	if c.Channel.Timeout > 30*time.Second {
		return fmt.Errorf("config: channel.timeout %s exceeds 30s", c.Channel.Timeout)
	}
	if c.Chat.MinGroupMembers < 1 {
		return errors.New("config: chat.min_group_members must be at least 1")
	}
	if c.Chat.MaxGroupMembers < c.Chat.MinGroupMembers {
		return errors.New("config: chat.max_group_members must not be below min_group_members")
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("config: app.node_id %d out of range [0, 1023]", c.App.NodeID)
	}
	return nil
}
