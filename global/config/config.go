// Package config 启动配置：YAML 文件 + 环境变量覆盖。
package config

import (
	"os"
	"strings"
	"time"

	"ChatRelay/logger"
	"ChatRelay/service/natsx"
	"ChatRelay/service/storage/redis"
	"ChatRelay/tools"
	"ChatRelay/tools/errs"

	"gopkg.in/yaml.v3"
)

const (
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

type AppConfig struct {
	NodeID   string       `yaml:"nodeId"`  // 节点名，写进 Relay-Origin
	NodeNum  int64        `yaml:"nodeNum"` // 雪花 ID 节点号 0~1023
	Log      LogConf      `yaml:"log"`
	HTTP     HTTPConf     `yaml:"http"`
	GRPC     GRPCConf     `yaml:"grpc"`
	WS       WSConf       `yaml:"ws"`
	Presence PresenceConf `yaml:"presence"`
	Redis    redis.Config `yaml:"redis"`
	NATS     NATSConf     `yaml:"nats"`
	Auth     AuthConf     `yaml:"auth"`
	Metrics  MetricsConf  `yaml:"metrics"`
}

type LogConf struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type HTTPConf struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"` // 空或 * 表示不限制
}

// GRPCConf Addr 为空则不启动健康检查服务
type GRPCConf struct {
	Addr string `yaml:"addr"`
}

type WSConf struct {
	SendQueue     int     `yaml:"sendQueue"`
	ReadLimit     int64   `yaml:"readLimit"`
	RateLimit     float64 `yaml:"rateLimit"` // 每连接每秒帧数，0 不限
	RateBurst     int     `yaml:"rateBurst"`
	FanoutWorkers int     `yaml:"fanoutWorkers"`
	FanoutQueue   int     `yaml:"fanoutQueue"`
	MaxPerUser    int     `yaml:"maxPerUser"` // 同名最多连接数，0 不限
	EvictOldest   bool    `yaml:"evictOldest"`
}

type PresenceConf struct {
	Backend string `yaml:"backend"`
	Key     string `yaml:"key"`
	// ResetOnStart 启动时清空共享在线表；只在整个集群冷启动时打开。
	// 关闭时仍会清掉本节点上次残留的持有记录。
	ResetOnStart bool `yaml:"resetOnStart"`
}

type NATSConf struct {
	Enabled           bool   `yaml:"enabled"`
	Prefix            string `yaml:"prefix"`
	natsx.NatsxConfig `yaml:",inline"`
}

// AuthConf Secret 为空则不校验 token
type AuthConf struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type MetricsConf struct {
	Enabled bool `yaml:"enabled"`
}

// Default 不带配置文件时的单机配置
func Default() AppConfig {
	host, _ := os.Hostname()
	if host == "" {
		host = "relay-1"
	}
	return AppConfig{
		NodeID:  host,
		NodeNum: 1,
		Log:     LogConf{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 7},
		HTTP:    HTTPConf{Addr: ":8080"},
		WS: WSConf{
			SendQueue:     256,
			ReadLimit:     70 << 20,
			RateLimit:     50,
			RateBurst:     100,
			FanoutWorkers: 4,
			FanoutQueue:   1024,
		},
		Presence: PresenceConf{Backend: PresenceMemory, Key: "relay:presence"},
		NATS: NATSConf{
			Prefix:      "relay",
			NatsxConfig: natsx.NatsxConfig{Name: "chatrelay"},
		},
		Auth:    AuthConf{TTL: 2 * time.Hour},
		Metrics: MetricsConf{Enabled: true},
	}
}

// Load path 为空只用默认值和环境变量
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errs.ErrConfig.WrapMsg("read config", "path", path, "err", err)
		}
		if err := Parse(b, &cfg); err != nil {
			return cfg, err
		}
	}
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse 在 cfg 现有值上叠加 YAML
func Parse(b []byte, cfg *AppConfig) error {
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return errs.ErrConfig.WrapMsg("parse yaml", "err", err)
	}
	return nil
}

func ApplyEnv(cfg *AppConfig) {
	cfg.NodeID = tools.GetEnv("RELAY_NODE_ID", cfg.NodeID)
	cfg.NodeNum = int64(tools.GetEnvInt("RELAY_NODE_NUM", int(cfg.NodeNum)))
	cfg.Log.Level = tools.GetEnv("RELAY_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = tools.GetEnv("RELAY_LOG_FILE", cfg.Log.File)
	cfg.HTTP.Addr = tools.GetEnv("RELAY_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.AllowedOrigins = tools.GetEnvList("RELAY_ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)
	cfg.GRPC.Addr = tools.GetEnv("RELAY_GRPC_ADDR", cfg.GRPC.Addr)
	cfg.Presence.Backend = tools.GetEnv("RELAY_PRESENCE_BACKEND", cfg.Presence.Backend)
	cfg.Presence.ResetOnStart = tools.GetEnvBool("RELAY_PRESENCE_RESET", cfg.Presence.ResetOnStart)
	cfg.Redis.Addr = tools.GetEnv("RELAY_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = tools.GetEnv("RELAY_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = tools.GetEnvInt("RELAY_REDIS_DB", cfg.Redis.DB)
	cfg.NATS.Enabled = tools.GetEnvBool("RELAY_NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.Servers = tools.GetEnvList("RELAY_NATS_SERVERS", cfg.NATS.Servers)
	cfg.NATS.User = tools.GetEnv("RELAY_NATS_USER", cfg.NATS.User)
	cfg.NATS.Password = tools.GetEnv("RELAY_NATS_PASSWORD", cfg.NATS.Password)
	cfg.Auth.Secret = tools.GetEnv("RELAY_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.TTL = tools.GetEnvDuration("RELAY_AUTH_TTL", cfg.Auth.TTL)
	cfg.Metrics.Enabled = tools.GetEnvBool("RELAY_METRICS_ENABLED", cfg.Metrics.Enabled)
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errs.ErrConfig.WrapMsg("http.addr is required")
	}
	if c.NodeNum < 0 || c.NodeNum > 1023 {
		return errs.ErrConfig.WrapMsg("nodeNum out of range", "nodeNum", c.NodeNum)
	}
	c.Presence.Backend = strings.ToLower(strings.TrimSpace(c.Presence.Backend))
	switch c.Presence.Backend {
	case PresenceMemory, "":
		c.Presence.Backend = PresenceMemory
	case PresenceRedis:
		if c.Redis.Addr == "" {
			return errs.ErrConfig.WrapMsg("presence.backend=redis needs redis.addr")
		}
	default:
		return errs.ErrConfig.WrapMsg("unknown presence backend", "backend", c.Presence.Backend)
	}
	if c.NATS.Enabled {
		if len(c.NATS.Servers) == 0 {
			return errs.ErrConfig.WrapMsg("nats.enabled needs nats.servers")
		}
		if c.NodeID == "" {
			return errs.ErrConfig.WrapMsg("nats.enabled needs nodeId")
		}
		// 每个节点各自一份内存在线表，跨节点私信和名单都会错
		if c.Presence.Backend != PresenceRedis {
			return errs.ErrConfig.WrapMsg("nats.enabled needs presence.backend=redis")
		}
	}
	if c.WS.RateLimit < 0 || c.WS.MaxPerUser < 0 {
		return errs.ErrConfig.WrapMsg("ws limits must not be negative")
	}
	return nil
}

// LoggerOptions 转成 logger 包的参数
func (c *AppConfig) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
