package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type MongoConfig struct {
	Host               string   `json:"host"`
	Port               uint64   `json:"port"`
	Username           string   `json:"username"`
	Password           string   `json:"password"`
	Database           string   `json:"database"`
	Collection         string   `json:"collection"`
	UseTLS             bool     `json:"use_tls"`
	ConnectTimeout     Duration `json:"connect_timeout"`
	SocketTimeout      Duration `json:"socket_timeout"`
	ConnectIdleTimeout Duration `json:"connect_idle_timeout"`
	OperationTimeout   Duration `json:"operation_timeout"`
	Heartbeat          Duration `json:"heartbeat"`
	MinPoolSize        uint64   `json:"min_pool_size"`
	MaxPoolSize        uint64   `json:"max_pool_size"`
}

type RedisConfig struct {
	Addr      string   `json:"addr"`
	Password  string   `json:"password"`
	DB        int      `json:"db"`
	KeyPrefix string   `json:"key_prefix"`
	TTL       Duration `json:"ttl"`
}

type SQLConfig struct {
	// Driver 为 "pgx" 或 "sqlite"
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

type BoltConfig struct {
	Path string `json:"path"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	ReadLimit      int64    `json:"read_limit"`
	WriteTimeout   Duration `json:"write_timeout"`
	PongWait       Duration `json:"pong_wait"`
	PingInterval   Duration `json:"ping_interval"`
	OutboundQueue  int      `json:"outbound_queue"`
	ShutdownGrace  Duration `json:"shutdown_grace"`
}

type LogConfig struct {
	Dir           string `json:"dir"`
	Level         string `json:"level"`
	RetentionDays int    `json:"retention_days"`
}

type RoomConfig struct {
	CursorTTL    Duration `json:"cursor_ttl"`
	CursorRate   float64  `json:"cursor_rate"`
	CursorBurst  int      `json:"cursor_burst"`
	IdleTTL      Duration `json:"idle_ttl"`
	HistoryLimit int      `json:"history_limit"`
	DedupeSize   int      `json:"dedupe_size"`
	MailboxSize  int      `json:"mailbox_size"`
	MaxPoints    int      `json:"max_points"`
	ClearRoles   []string `json:"clear_roles"`
}

type PersistenceConfig struct {
	Driver             string      `json:"driver"`
	Mongo              MongoConfig `json:"mongo"`
	Redis              RedisConfig `json:"redis"`
	SQL                SQLConfig   `json:"sql"`
	Bolt               BoltConfig  `json:"bolt"`
	RetryInitial       Duration    `json:"retry_initial"`
	RetryMax           Duration    `json:"retry_max"`
	RetryMaxElapsed    Duration    `json:"retry_max_elapsed"`
	SaveTimeout        Duration    `json:"save_timeout"`
	MaxConcurrentSaves int         `json:"max_concurrent_saves"`
}

type StaticMembershipConfig struct {
	AllowAll bool `json:"allow_all"`
	// Rooms room -> user ids
	Rooms map[string][]string `json:"rooms"`
	// Roles room -> user -> role names
	Roles map[string]map[string][]string `json:"roles"`
}

type MembershipConfig struct {
	Driver    string                 `json:"driver"`
	SQL       SQLConfig              `json:"sql"`
	Static    StaticMembershipConfig `json:"static"`
	CacheSize int                    `json:"cache_size"`
	CacheTTL  Duration               `json:"cache_ttl"`
}

type MaintenanceConfig struct {
	CursorSweep string `json:"cursor_sweep"`
	IdleSweep   string `json:"idle_sweep"`
}

type Config struct {
	AppName     string            `json:"app_name"`
	DebugMode   bool              `json:"debug_mode"`
	Server      ServerConfig      `json:"server"`
	Log         LogConfig         `json:"log"`
	Room        RoomConfig        `json:"room"`
	Persistence PersistenceConfig `json:"persistence"`
	Membership  MembershipConfig  `json:"membership"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

const (
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverMemory   = "memory"
	DriverSQL      = "sql"
	DriverStatic   = "static"
)

var (
	ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	ErrInvalidJSON   = errors.New("the configuration file does not contain valid JSON")
)

var FileName = "config.json"

var config Config
var initialized = false

// Default 返回一份可以直接运行的开发配置
func Default() Config {
	return Config{
		AppName:   "whiteboard-sync",
		DebugMode: false,
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			ReadLimit:     1 << 20,
			WriteTimeout:  Duration(10 * time.Second),
			PongWait:      Duration(60 * time.Second),
			PingInterval:  Duration(30 * time.Second),
			OutboundQueue: 256,
			ShutdownGrace: Duration(5 * time.Second),
		},
		Log: LogConfig{
			Dir:           "logs",
			Level:         "info",
			RetentionDays: 30,
		},
		Room: RoomConfig{
			CursorTTL:   Duration(2 * time.Second),
			CursorRate:  20,
			CursorBurst: 5,
			IdleTTL:     Duration(time.Minute),
			DedupeSize:  4096,
			MailboxSize: 256,
			MaxPoints:   10000,
		},
		Persistence: PersistenceConfig{
			Driver: DriverMemory,
			Mongo: MongoConfig{
				Host:               "localhost",
				Port:               27017,
				Database:           "whiteboard",
				Collection:         "whiteboard_snapshots",
				ConnectTimeout:     Duration(10 * time.Second),
				SocketTimeout:      Duration(30 * time.Second),
				ConnectIdleTimeout: Duration(5 * time.Minute),
				OperationTimeout:   Duration(5 * time.Second),
				Heartbeat:          Duration(10 * time.Second),
				MinPoolSize:        1,
				MaxPoolSize:        50,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "whiteboard:snapshot:",
			},
			SQL:                SQLConfig{Driver: "pgx"},
			Bolt:               BoltConfig{Path: "data/whiteboard.db"},
			RetryInitial:       Duration(200 * time.Millisecond),
			RetryMax:           Duration(10 * time.Second),
			RetryMaxElapsed:    Duration(2 * time.Minute),
			SaveTimeout:        Duration(5 * time.Second),
			MaxConcurrentSaves: 16,
		},
		Membership: MembershipConfig{
			Driver:    DriverStatic,
			Static:    StaticMembershipConfig{AllowAll: true},
			SQL:       SQLConfig{Driver: "pgx"},
			CacheSize: 4096,
			CacheTTL:  Duration(30 * time.Second),
		},
		Maintenance: MaintenanceConfig{
			CursorSweep: "@every 5s",
			IdleSweep:   "@every 30s",
		},
	}
}

func ReadConfig() (Config, error) {
	cfg, err := ReadConfigFrom(FileName)
	if err != nil {
		return cfg, err
	}
	config = cfg
	initialized = true
	return config, nil
}

// ReadConfigFrom 读取配置文件, 文件不存在时写出默认模板
func ReadConfigFrom(path string) (Config, error) {
	cfg := Default()
	bytes, err := os.ReadFile(path)

	if err != nil {
		writer, openErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if openErr == nil {
			data, _ := json.MarshalIndent(cfg, "", "\t")
			_, _ = writer.Write(data)
			_ = writer.Close()
		}
		return cfg, ErrConfigCreated
	}

	if err = json.Unmarshal(bytes, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	// .env 文件不存在时只使用进程环境变量
	_ = godotenv.Load()
	cfg.applyEnv()

	if err = cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}

// SetConfig 替换进程内配置, 供测试和嵌入使用
func SetConfig(cfg Config) {
	config = cfg
	initialized = true
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("WHITEBOARD_PORT", c.Server.Port)
	c.DebugMode = getEnvAsBool("WHITEBOARD_DEBUG", c.DebugMode)
	c.Log.Level = getEnv("WHITEBOARD_LOG_LEVEL", c.Log.Level)
	c.Persistence.Driver = getEnv("WHITEBOARD_STORE_DRIVER", c.Persistence.Driver)
	c.Persistence.Mongo.Host = getEnv("WHITEBOARD_MONGO_HOST", c.Persistence.Mongo.Host)
	c.Persistence.Mongo.Username = getEnv("WHITEBOARD_MONGO_USERNAME", c.Persistence.Mongo.Username)
	c.Persistence.Mongo.Password = getEnv("WHITEBOARD_MONGO_PASSWORD", c.Persistence.Mongo.Password)
	c.Persistence.Redis.Addr = getEnv("WHITEBOARD_REDIS_ADDR", c.Persistence.Redis.Addr)
	c.Persistence.Redis.Password = getEnv("WHITEBOARD_REDIS_PASSWORD", c.Persistence.Redis.Password)
	c.Persistence.SQL.DSN = getEnv("WHITEBOARD_STORE_DSN", c.Persistence.SQL.DSN)
	c.Persistence.Bolt.Path = getEnv("WHITEBOARD_BOLT_PATH", c.Persistence.Bolt.Path)
	c.Membership.Driver = getEnv("WHITEBOARD_MEMBERSHIP_DRIVER", c.Membership.Driver)
	c.Membership.SQL.DSN = getEnv("WHITEBOARD_MEMBERSHIP_DSN", c.Membership.SQL.DSN)
	if origins := getEnv("WHITEBOARD_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Persistence.Driver {
	case DriverMongo:
		if c.Persistence.Mongo.Host == "" {
			return errors.New("persistence.mongo.host is required")
		}
	case DriverRedis:
		if c.Persistence.Redis.Addr == "" {
			return errors.New("persistence.redis.addr is required")
		}
	case DriverPostgres, DriverSQLite:
		if c.Persistence.SQL.DSN == "" {
			return errors.New("persistence.sql.dsn is required")
		}
	case DriverBolt:
		if c.Persistence.Bolt.Path == "" {
			return errors.New("persistence.bolt.path is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown persistence.driver %q", c.Persistence.Driver)
	}
	switch c.Membership.Driver {
	case DriverSQL:
		if c.Membership.SQL.DSN == "" {
			return errors.New("membership.sql.dsn is required")
		}
		if !slices.Contains([]string{"pgx", "sqlite"}, c.Membership.SQL.Driver) {
			return fmt.Errorf("unknown membership.sql.driver %q", c.Membership.SQL.Driver)
		}
	case DriverStatic:
	default:
		return fmt.Errorf("unknown membership.driver %q", c.Membership.Driver)
	}
	if c.Room.CursorTTL <= 0 {
		return errors.New("room.cursor_ttl must be positive")
	}
	if c.Room.IdleTTL < 0 {
		return errors.New("room.idle_ttl must not be negative")
	}
	if c.Room.HistoryLimit < 0 {
		return errors.New("room.history_limit must not be negative")
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
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
