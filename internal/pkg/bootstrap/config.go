// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config 是服务的全部配置。加载顺序：YAML 文件 -> 环境变量 -> Nacos 配置中心（可选）。
type Config struct {
	App         AppConfig         `yaml:"app"`
	Infra       InfraConfig       `yaml:"infra"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type InfraConfig struct {
	Mysql     MysqlConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type MysqlConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN 使用驱动自带的 FormatDSN 生成连接串，避免手工拼接时的转义问题
func (m MysqlConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = m.User
	cfg.Passwd = m.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", m.Host, m.Port)
	cfg.DBName = m.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type KafkaConfig struct {
	Brokers       string `yaml:"brokers"`
	EventsTopic   string `yaml:"events_topic"`
	TrackingTopic string `yaml:"tracking_topic"`
	TrackingGroup string `yaml:"tracking_group"`
}

func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"data_id"`
}

// FulfillmentConfig 是业务相关的配置
type FulfillmentConfig struct {
	LockBackend        string        `yaml:"lock_backend"` // redis | zookeeper | memory
	LockWait           time.Duration `yaml:"lock_wait"`
	LockLease          time.Duration `yaml:"lock_lease"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl"`
	SnowflakeNode      int64         `yaml:"snowflake_node"`
	ClaimEligibility   string        `yaml:"claim_eligibility"` // CEL 表达式
	CarrierBaseURL     string        `yaml:"carrier_base_url"`
	CarrierService     string        `yaml:"carrier_service"` // 通过 Nacos 发现承运商网关，优先于 carrier_base_url
	TokenPurgeInterval time.Duration `yaml:"token_purge_interval"` // 0 表示不清理
}

// DefaultConfig 本地开发用的默认值
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Name: "order-service", Port: 8081, LogLevel: "info"},
		Infra: InfraConfig{
			Mysql:     MysqlConfig{Host: "localhost", Port: 3306, User: "root", Database: "fulfillment"},
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			Kafka:     KafkaConfig{Brokers: "localhost:9092", EventsTopic: "order-events", TrackingTopic: "shipment-tracking", TrackingGroup: "order-service-tracking"},
			Zookeeper: ZookeeperConfig{Servers: "localhost:2181", SessionTimeout: 10 * time.Second},
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP", DataID: "order-service.yaml"},
		},
		Fulfillment: FulfillmentConfig{
			LockBackend:        "redis",
			LockWait:           3 * time.Second,
			LockLease:          10 * time.Second,
			RefreshTokenTTL:    14 * 24 * time.Hour,
			SnowflakeNode:      1,
			ClaimEligibility:   `order.state in ["DELIVERED", "COMPLETED"]`,
			TokenPurgeInterval: time.Hour,
		},
	}
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置快照，未加载时返回默认值
func GetCurrentConfig() *Config {
	if c := currentConfig.Load(); c != nil {
		return c
	}
	c := DefaultConfig()
	return &c
}

func setCurrentConfig(c *Config) { currentConfig.Store(c) }

// LoadConfig 读取 CONFIG_FILE（默认 configs/order-service.yaml），再用环境变量覆盖，并设为当前配置。
// 文件不存在时只使用默认值和环境变量。
func LoadConfig() (*Config, error) {
	path := getEnv("CONFIG_FILE", "configs/order-service.yaml")
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setCurrentConfig(&cfg)
	return &cfg, nil
}

// mergeYAML 在 base 的副本上叠加一段 YAML（配置中心下发的内容）
func mergeYAML(base *Config, content string) (*Config, error) {
	next := *base
	if err := yaml.Unmarshal([]byte(content), &next); err != nil {
		return nil, fmt.Errorf("failed to parse remote config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 {
		return fmt.Errorf("config: app.port must be positive")
	}
	switch c.Fulfillment.LockBackend {
	case "redis", "zookeeper", "memory":
	default:
		return fmt.Errorf("config: unknown lock backend %q", c.Fulfillment.LockBackend)
	}
	if c.Fulfillment.LockLease <= 0 || c.Fulfillment.LockWait < 0 {
		return fmt.Errorf("config: lock_lease must be positive and lock_wait not negative")
	}
	if c.Fulfillment.RefreshTokenTTL <= 0 {
		return fmt.Errorf("config: refresh_token_ttl must be positive")
	}
	if c.Fulfillment.SnowflakeNode < 0 || c.Fulfillment.SnowflakeNode > 1023 {
		return fmt.Errorf("config: snowflake_node must be within [0, 1023]")
	}
	if c.Fulfillment.CarrierService != "" && !c.Infra.Nacos.Enabled {
		return fmt.Errorf("config: carrier_service requires nacos.enabled")
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	c.App.Port = getEnvInt("PORT", c.App.Port)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.Infra.Mysql.Host = getEnv("MYSQL_HOST", c.Infra.Mysql.Host)
	c.Infra.Mysql.Port = getEnvInt("MYSQL_PORT", c.Infra.Mysql.Port)
	c.Infra.Mysql.User = getEnv("MYSQL_USER", c.Infra.Mysql.User)
	c.Infra.Mysql.Password = getEnv("MYSQL_PASSWORD", c.Infra.Mysql.Password)
	c.Infra.Mysql.Database = getEnv("MYSQL_DATABASE", c.Infra.Mysql.Database)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Zookeeper.Servers = getEnv("ZOOKEEPER_SERVERS", c.Infra.Zookeeper.Servers)
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	if v, ok := os.LookupEnv("NACOS_ENABLED"); ok {
		c.Infra.Nacos.Enabled, _ = strconv.ParseBool(v)
	}
	c.Fulfillment.LockBackend = getEnv("LOCK_BACKEND", c.Fulfillment.LockBackend)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
