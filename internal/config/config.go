package config

import (
	"time"

	pkgconfig "github.com/graham924/blog-feng-yu/pkg/config"
	"github.com/graham924/blog-feng-yu/pkg/pubsub"
	"github.com/graham924/blog-feng-yu/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Database  DatabaseConfig
	Redis     pubsub.RedisConfig
	Kafka     pubsub.KafkaConfig
	Storage   StorageConfig
	JWT       JWTConfig
	Access    AccessConfig
	Admin     AdminConfig
	Sanitize  SanitizeConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	IPHeader       string        `mapstructure:"ip_header"`
	HistoryWindow  time.Duration `mapstructure:"history_window"`
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	TimeZone        string `mapstructure:"timezone"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type StorageConfig struct {
	storage.Config `mapstructure:",squash"`
	VoicePath      string        `mapstructure:"voice_path"`
	URLExpiry      time.Duration `mapstructure:"url_expiry"`
	MaxVoiceSize   int64         `mapstructure:"max_voice_size"`
}

type JWTConfig struct {
	KeyPath         string        `mapstructure:"key_path"`
	AccessDuration  time.Duration `mapstructure:"access_duration"`
	RefreshDuration time.Duration `mapstructure:"refresh_duration"`
	Issuer          string
}

// SeedRule is inserted into an empty resource table at startup.
type SeedRule struct {
	Path   string
	Method string
	Roles  []string
}

type AccessConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	SeedRules       []SeedRule    `mapstructure:"seed_rules"`
}

// AdminConfig creates the first administrator when Username is set and no
// user with that name exists.
type AdminConfig struct {
	Username string
	Password string
	Nickname string
}

type SanitizeConfig struct {
	SensitiveWords []string `mapstructure:"sensitive_words"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.ip_header", "X-Real-IP")
	v.SetDefault("websocket.history_window", "12h")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./data/blog.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "./data/upload")
	v.SetDefault("storage.local.public_url", "/static")
	v.SetDefault("storage.voice_path", "voice/")
	v.SetDefault("storage.url_expiry", "168h")
	v.SetDefault("storage.max_voice_size", 10<<20)
	v.SetDefault("jwt.access_duration", "2h")
	v.SetDefault("jwt.refresh_duration", "168h")
	v.SetDefault("jwt.issuer", "blog-feng-yu")
	v.SetDefault("access.refresh_interval", "5m")
	v.SetDefault("access.seed_rules", []map[string]interface{}{
		{"path": "/admin/**", "method": "", "roles": []string{"admin"}},
	})
	v.SetDefault("admin.nickname", "admin")
	v.SetDefault("log.level", "info")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("jwt.key_path", "JWT_KEY_PATH")
	v.BindEnv("admin.username", "ADMIN_USERNAME")
	v.BindEnv("admin.password", "ADMIN_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.HistoryWindow = pkgconfig.Duration(v, "websocket.history_window", 12*time.Hour)
	cfg.Storage.URLExpiry = pkgconfig.Duration(v, "storage.url_expiry", 168*time.Hour)
	cfg.JWT.AccessDuration = pkgconfig.Duration(v, "jwt.access_duration", 2*time.Hour)
	cfg.JWT.RefreshDuration = pkgconfig.Duration(v, "jwt.refresh_duration", 168*time.Hour)
	cfg.Access.RefreshInterval = pkgconfig.Duration(v, "access.refresh_interval", 5*time.Minute)

	return &cfg, nil
}
