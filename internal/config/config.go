// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

/*
   --------------------------------------------------------------------------
   СТРУКТУРЫ
   --------------------------------------------------------------------------
*/

// Config — все настройки сервиса.
type Config struct {
	ServiceName    string           `mapstructure:"service_name"`
	ServiceVersion string           `mapstructure:"service_version"`
	Binance        BinanceConfig    `mapstructure:"binance"`
	NATS           NATSConfig       `mapstructure:"nats"`
	Queue          QueueConfig      `mapstructure:"queue"`
	Workers        int              `mapstructure:"workers"`
	Reconnect      ReconnectConfig  `mapstructure:"reconnect"`
	Breaker        BreakerConfig    `mapstructure:"breaker"`
	Heartbeat      time.Duration    `mapstructure:"heartbeat_interval"`
	ShutdownWait   time.Duration    `mapstructure:"shutdown_timeout"`
	Telemetry      Telemetry        `mapstructure:"telemetry"`
	Logging        Logging          `mapstructure:"logging"`
	HTTP           HTTPConfig       `mapstructure:"http"`
	ConfigStore    ConfigStoreSetup `mapstructure:"config_store"`
}

// BinanceConfig хранит настройки для WS Binance.
type BinanceConfig struct {
	WSURL            string        `mapstructure:"ws_url"`
	Streams          []string      `mapstructure:"streams"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout"`
}

// NATSConfig хранит настройки NATS.
type NATSConfig struct {
	URL          string        `mapstructure:"url"`
	Subject      string        `mapstructure:"subject"`
	ClientName   string        `mapstructure:"client_name"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// QueueConfig хранит настройки bounded queue.
type QueueConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	LogThrottle time.Duration `mapstructure:"log_throttle"`
}

// ReconnectConfig хранит настройки переподключения к upstream.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// BreakerConfig хранит пороги circuit breaker-ов (общие для обоих).
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// Telemetry хранит настройки OpenTelemetry.
// Пустой endpoint выключает трассировку.
type Telemetry struct {
	OTLPEndpoint string `mapstructure:"otel_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

// Logging хранит настройки логгера.
type Logging struct {
	Level   string `mapstructure:"level"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// HTTPConfig хранит конфигурацию HTTP-/metrics-сервера.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
	StatsPath       string        `mapstructure:"stats_path"`
}

// ConfigStoreSetup хранит настройки опционального runtime-конфиг-хранилища.
type ConfigStoreSetup struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

/*
   --------------------------------------------------------------------------
   LOADER
   --------------------------------------------------------------------------
*/

// Load загружает и валидирует конфиг. Если path пустой — читаются только ENV и defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// ---------- 1) Defaults ----------
	v.SetDefault("service_name", "socket-client")
	v.SetDefault("service_version", "1.0.0")

	// Binance
	v.SetDefault("binance.ws_url", "wss://stream.binance.com:9443")
	v.SetDefault("binance.streams", []string{"btcusdt@trade", "btcusdt@ticker", "btcusdt@depth20@100ms"})
	v.SetDefault("binance.read_timeout", "90s")
	v.SetDefault("binance.subscribe_timeout", "5s")
	v.SetDefault("binance.ping_interval", "30s")
	v.SetDefault("binance.close_timeout", "10s")

	// NATS
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "binance.websocket.data")
	v.SetDefault("nats.client_name", "petrosa-socket-client")
	v.SetDefault("nats.flush_timeout", "5s")

	// Pipeline
	v.SetDefault("queue.capacity", 5000)
	v.SetDefault("queue.log_throttle", "1s")
	v.SetDefault("workers", 5)
	v.SetDefault("reconnect.base_delay", "5s")
	v.SetDefault("reconnect.max_delay", "60s")
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout", "60s")
	v.SetDefault("heartbeat_interval", "60s")
	v.SetDefault("shutdown_timeout", "30s")

	// Telemetry: пустой endpoint → трассировка выключена
	v.SetDefault("telemetry.otel_endpoint", "")
	v.SetDefault("telemetry.insecure", false)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev_mode", false)

	// HTTP
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.healthz_path", "/healthz")
	v.SetDefault("http.readyz_path", "/readyz")
	v.SetDefault("http.stats_path", "/stats")

	// Config store (опционально)
	v.SetDefault("config_store.enabled", false)
	v.SetDefault("config_store.url", "redis://localhost:6379/0")
	v.SetDefault("config_store.key_prefix", "socket-client:config")

	// ---------- 2) ENV ----------
	v.SetEnvPrefix("SOCKET")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ---------- 3) Optional file ----------
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	// ---------- 4) Decode ----------
	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     &cfg,
		DecodeHook: decodeHook,
		// ENV-значения приходят строками: "8" → int и т.п.
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// ---------- 5) Validation ----------
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// stringToBoolHook разбирает true/false, иначе отдает исходные данные.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

/*
   --------------------------------------------------------------------------
   VALIDATION
   --------------------------------------------------------------------------
*/

func (c *Config) Validate() error {
	// Service
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	// Binance
	if c.Binance.WSURL == "" {
		return fmt.Errorf("binance.ws_url is required")
	}
	if len(c.Binance.Streams) == 0 {
		return fmt.Errorf("binance.streams must contain at least one entry")
	}
	if c.Binance.ReadTimeout <= 0 {
		return fmt.Errorf("binance.read_timeout must be > 0")
	}
	if c.Binance.SubscribeTimeout <= 0 {
		return fmt.Errorf("binance.subscribe_timeout must be > 0")
	}
	if c.Binance.PingInterval <= 0 {
		return fmt.Errorf("binance.ping_interval must be > 0")
	}

	// NATS
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required")
	}

	// Pipeline
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be > 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay <= 0 {
		return fmt.Errorf("reconnect delays must be > 0")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be > 0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker.recovery_timeout must be > 0")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}

	// Config store
	if c.ConfigStore.Enabled && c.ConfigStore.URL == "" {
		return fmt.Errorf("config_store.url is required when config_store.enabled")
	}

	// HTTP
	return validateHTTP(&c.HTTP)
}

func validateHTTP(h *HTTPConfig) error {
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	durations := map[string]time.Duration{
		"http.read_timeout":     h.ReadTimeout,
		"http.write_timeout":    h.WriteTimeout,
		"http.idle_timeout":     h.IdleTimeout,
		"http.shutdown_timeout": h.ShutdownTimeout,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	paths := map[string]string{
		"http.metrics_path": h.MetricsPath,
		"http.healthz_path": h.HealthzPath,
		"http.readyz_path":  h.ReadyzPath,
		"http.stats_path":   h.StatsPath,
	}
	for k, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", k)
		}
	}
	return nil
}

/*
   --------------------------------------------------------------------------
   DEBUG PRINT
   --------------------------------------------------------------------------
*/

// Print выводит текущий конфиг в JSON (удобно в DevMode).
func (c *Config) Print() {
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println("Loaded configuration:\n", string(b))
}
