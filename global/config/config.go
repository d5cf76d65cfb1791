package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"CragProject/tools/decode"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CRAG_"

type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Nats     NatsConfig     `mapstructure:"nats" yaml:"nats"`
	Kafka    KafkaConfig    `mapstructure:"kafka" yaml:"kafka"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	// 0 关闭 health 服务
	GrpcPort       int      `mapstructure:"grpc_port" yaml:"grpc_port"`
	NodeID         string   `mapstructure:"node_id" yaml:"node_id"`
	SnowflakeNode  int64    `mapstructure:"snowflake_node" yaml:"snowflake_node"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type AuthConfig struct {
	Secret string        `mapstructure:"secret" yaml:"secret"`
	Alg    string        `mapstructure:"alg" yaml:"alg"`
	TTL    time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Issuer string        `mapstructure:"issuer" yaml:"issuer"`
}

// RedisConfig: empty Addr keeps the offline queue in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// DatabaseConfig: empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	Migrate      bool   `mapstructure:"migrate" yaml:"migrate"`
}

type NatsConfig struct {
	Servers       []string `mapstructure:"servers" yaml:"servers"`
	JetStream     bool     `mapstructure:"jetstream" yaml:"jetstream"`
	SubjectPrefix string   `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers" yaml:"brokers"`
	TopicPattern string   `mapstructure:"topic_pattern" yaml:"topic_pattern"`
	TopicCount   int      `mapstructure:"topic_count" yaml:"topic_count"`
	Partitions   int      `mapstructure:"partitions" yaml:"partitions"`
	Replication  int      `mapstructure:"replication" yaml:"replication"`
	Compression  string   `mapstructure:"compression" yaml:"compression"`
	CreateTopics bool     `mapstructure:"create_topics" yaml:"create_topics"`
}

type RealtimeConfig struct {
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	// 0 不限 / 不过期
	OfflineMax int           `mapstructure:"offline_max" yaml:"offline_max"`
	OfflineTTL time.Duration `mapstructure:"offline_ttl" yaml:"offline_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{Port: 8080, GrpcPort: 50051, NodeID: "crag-rt-1", SnowflakeNode: 1},
		Auth:   AuthConfig{Alg: "HS256", TTL: 2 * time.Hour},
		Database: DatabaseConfig{
			MaxOpenConns: 20,
			Migrate:      true,
		},
		Nats:  NatsConfig{SubjectPrefix: "crag.events"},
		Kafka: KafkaConfig{TopicPattern: "crag.events-%02d", TopicCount: 1, Partitions: 8, Replication: 1, Compression: "snappy", CreateTopics: true},
		Realtime: RealtimeConfig{
			SendBuffer:      64,
			PingInterval:    25 * time.Second,
			ReadTimeout:     60 * time.Second,
			MaxMessageBytes: 64 << 10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load starts from Default, overlays the YAML file at path (skipped when
// empty) and then CRAG_* environment variables. CRAG_REDIS_ADDR maps to
// redis.addr; only the first underscore after the section is a separator.
func Load(path string) (*AppConfig, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*AppConfig, error) {
	cfg := Default()
	m := map[string]any{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	mergeEnv(m, environ)
	if err := decode.Into(m, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeEnv(m map[string]any, environ []string) {
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), "_")
		if !ok || section == "" || key == "" {
			continue
		}
		sub, _ := m[section].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
			m[section] = sub
		}
		sub[key] = v
	}
}

func (c *AppConfig) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (set %sAUTH_SECRET)", EnvPrefix)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if len(c.Nats.Servers) > 0 && len(c.Kafka.Brokers) > 0 {
		return fmt.Errorf("configure either nats or kafka as the event mirror, not both")
	}
	return nil
}
