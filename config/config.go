// Package config 提供了统一的配置加载与管理能力.
// 生成摘要:
// 1) 增加工作单元配置段（事件收集器、自动提交策略）。
// 2) 配置文件变更后自动重新校验并回调热更新钩子。
// 假设:
// 1) 配置文件为 TOML 格式，环境变量使用 CQBUS_ 前缀覆盖。
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/cqbus/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
)

// 事件收集器类型.
const (
	CollectorFifo   = "fifo"
	CollectorDedupe = "dedupe"
)

// Config 全局顶级配置结构.
type Config struct {
	UnitOfWork UnitOfWorkConfig `mapstructure:"unit_of_work" toml:"unit_of_work"`
	Log        LogConfig        `mapstructure:"log"          toml:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"      toml:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics"      toml:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"     toml:"database"`
	Version    string           `mapstructure:"version"      toml:"version"`
}

// UnitOfWorkConfig 定义工作单元的行为参数.
type UnitOfWorkConfig struct {
	Name       string `mapstructure:"name"       toml:"name"`
	Collector  string `mapstructure:"collector"  toml:"collector"  validate:"omitempty,oneof=fifo dedupe"`
	Autocommit bool   `mapstructure:"autocommit" toml:"autocommit"` // 事务外发出事件时立即分发，而不是报错
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"       validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format"      toml:"format"      validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"        toml:"file"`        // 日志文件路径。
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`    // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"` // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`     // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"`    // 是否启用压缩。
}

// TracingConfig 分布式链路追踪（OpenTelemetry）配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio" validate:"gte=0,lte=1"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"    toml:"addr"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// DatabaseConfig 定义单数据库实例连接与连接池参数.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            toml:"driver"            validate:"omitempty,oneof=mysql postgres"`
	DSN             string        `mapstructure:"dsn"               toml:"dsn"               validate:"required_with=Driver"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" toml:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"    toml:"slow_threshold"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    toml:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    toml:"max_open_conns"`
}

var (
	mu        sync.Mutex
	vInstance = viper.New()
	onReload  []func(*Config)
	validate  = validator.New()
	json      = jsoniter.ConfigCompatibleWithStandardLibrary
)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	onReload = append(onReload, hook)
}

// Load 加载、校验配置并开启文件监听.
// conf 为 *Config 时，文件变更会重新应用日志级别并触发热更新钩子。
func Load(path string, conf any) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("CQBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	mu.Lock()
	vInstance = v
	mu.Unlock()

	v.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name, "op", event.Op.String())
		reload(v, conf)
	})
	v.WatchConfig()

	return nil
}

func reload(v *viper.Viper, conf any) {
	if err := v.Unmarshal(conf); err != nil {
		slog.Error("reload config unmarshal failed", "error", err)
		return
	}

	if err := validate.Struct(conf); err != nil {
		slog.Error("reload config validation failed", "error", err)
		return
	}

	cfg, ok := conf.(*Config)
	if !ok {
		slog.Info("config hot-reloaded and validated successfully")
		return
	}

	logging.SetLevel(cfg.Log.Level)

	mu.Lock()
	hooks := append([]func(*Config){}, onReload...)
	mu.Unlock()
	for _, hook := range hooks {
		hook(cfg)
	}
	slog.Info("config hot-reloaded and validated successfully")
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)
		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回最近一次 Load 使用的 Viper 实例.
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return vInstance
}
