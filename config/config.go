package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eddielth/telemetry-bridge/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultBrokerPort is used when the broker address carries no port.
const DefaultBrokerPort = "1883"

// Config is the process configuration.
type Config struct {
	MQTT         MQTTConfig             `mapstructure:"mqtt"`
	Codec        CodecConfig            `mapstructure:"codec"`
	Storage      StorageConfig          `mapstructure:"storage"`
	Validation   ValidationConfig       `mapstructure:"validation"`
	Control      ControlConfig          `mapstructure:"control"`
	Transformers map[string]Transformer `mapstructure:"transformers"`
	Logger       LoggerConfig           `mapstructure:"logger"`
}

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Broker           string        `mapstructure:"broker"`
	ClientID         string        `mapstructure:"client_id"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	TopicSub         string        `mapstructure:"topic_sub"`
	TopicPub         string        `mapstructure:"topic_pub"`
	QoS              int           `mapstructure:"qos"`
	KeepAlive        time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
	// ConnectRetries is the number of extra connect attempts after the first.
	// Zero keeps the bridge inert after a failed initial connect.
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

// CodecConfig holds the shared passphrase.
type CodecConfig struct {
	Passphrase string `mapstructure:"passphrase"`
}

// StorageConfig 表示存储配置
type StorageConfig struct {
	File     FileStorageConfig     `mapstructure:"file"`
	Database DatabaseStorageConfig `mapstructure:"database"`
}

// FileStorageConfig 表示文件存储配置
type FileStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DatabaseStorageConfig selects the SQL backend. DSN wins over the discrete fields.
type DatabaseStorageConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ValidationConfig holds optional range checks on telemetry values.
type ValidationConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	TempMin float64 `mapstructure:"temp_min"`
	TempMax float64 `mapstructure:"temp_max"`
	HumMin  float64 `mapstructure:"hum_min"`
	HumMax  float64 `mapstructure:"hum_max"`
}

// ControlConfig configures the command helpers.
type ControlConfig struct {
	Sender         string `mapstructure:"sender"`
	SensorID       string `mapstructure:"sensor_id"`
	SensorLEDTopic string `mapstructure:"sensor_led_topic"`
	StatusLEDTopic string `mapstructure:"status_led_topic"`
}

// Transformer 表示数据转换器的配置
type Transformer struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// LoggerConfig 表示日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// ConfigChangeCallback 是配置文件变更时的回调函数类型
type ConfigChangeCallback func(cfg *Config) error

// env names per key; the names used by the existing deployment come first.
var envBindings = map[string][]string{
	"mqtt.broker":               {"broker", "MQTT_BROKER"},
	"mqtt.client_id":            {"MQTT_CLIENT_ID"},
	"mqtt.username":             {"MQTT_USERNAME"},
	"mqtt.password":             {"MQTT_PASSWORD"},
	"mqtt.topic_sub":            {"topic_sub", "MQTT_TOPIC_SUB"},
	"mqtt.topic_pub":            {"topic_pub", "MQTT_TOPIC_PUB"},
	"mqtt.connect_timeout":      {"MQTT_CONNECT_TIMEOUT"},
	"mqtt.connect_retries":      {"MQTT_CONNECT_RETRIES"},
	"codec.passphrase":          {"passphrase", "BRIDGE_PASSPHRASE"},
	"storage.database.type":     {"DATABASE_TYPE"},
	"storage.database.dsn":      {"DATABASE_DSN"},
	"storage.database.host":     {"PG_HOST"},
	"storage.database.port":     {"PG_PORT"},
	"storage.database.name":     {"PG_DB"},
	"storage.database.user":     {"PG_USER"},
	"storage.database.password": {"PG_PASS"},
	"logger.level":              {"LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.keep_alive", 60*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.subscribe_timeout", 5*time.Second)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)
	v.SetDefault("mqtt.connect_retries", 0)
	v.SetDefault("mqtt.retry_backoff", time.Second)

	v.SetDefault("storage.database.enabled", true)
	v.SetDefault("storage.database.type", "postgresql")
	v.SetDefault("storage.database.port", "5432")
	v.SetDefault("storage.database.sslmode", "disable")
	v.SetDefault("storage.file.enabled", false)
	v.SetDefault("storage.file.path", "./data")

	v.SetDefault("validation.enabled", false)
	v.SetDefault("validation.temp_min", -40.0)
	v.SetDefault("validation.temp_max", 85.0)
	v.SetDefault("validation.hum_min", 0.0)
	v.SetDefault("validation.hum_max", 100.0)

	v.SetDefault("control.sender", "control-surface")
	v.SetDefault("control.sensor_id", "Sensor_ESP")
	v.SetDefault("control.sensor_led_topic", "Fox_32_Home/Status")
	v.SetDefault("control.status_led_topic", "Fox_32_Home/Sensor")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.console", true)
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}

	if configPath == "" {
		return v, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return v, nil
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.MQTT.Broker = NormalizeBroker(cfg.MQTT.Broker)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %v", path, err)
	}
	return nil
}

// LoadConfig reads the optional YAML file at configPath and overlays the environment.
func LoadConfig(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Validate checks the settings the bridge cannot run without.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT broker address cannot be empty")
	}
	if c.MQTT.TopicSub == "" {
		return fmt.Errorf("MQTT subscribe topic cannot be empty")
	}
	if c.Codec.Passphrase == "" {
		return fmt.Errorf("codec passphrase cannot be empty")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT QoS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.ConnectRetries < 0 {
		return fmt.Errorf("MQTT connect retries cannot be negative")
	}
	return nil
}

// NormalizeBroker turns a bare host into a paho broker URL: tcp scheme, port 1883.
func NormalizeBroker(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}

	scheme := "tcp"
	if i := strings.Index(addr, "://"); i >= 0 {
		scheme, addr = addr[:i], addr[i+3:]
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), DefaultBrokerPort)
	}

	return scheme + "://" + addr
}

// ConnectionString returns DSN or builds a PostgreSQL key/value DSN from the discrete fields.
func (d DatabaseStorageConfig) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}

	parts := []string{}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("host", d.Host)
	add("port", d.Port)
	add("user", d.User)
	add("password", d.Password)
	add("dbname", d.Name)
	add("sslmode", d.SSLMode)
	return strings.Join(parts, " ")
}

// WatchConfig 监听配置文件变化并调用回调函数
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("cannot watch %s: %v", absPath, err)
	}

	v, err := newViper(absPath)
	if err != nil {
		return err
	}

	// fsnotify often reports one save as several writes
	var lastChangeTime time.Time
	var debounceInterval = 2 * time.Second

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			return
		}
		lastChangeTime = now

		logger.Info("config file changed: %s", e.Name)

		newConfig, err := decode(v)
		if err != nil {
			logger.Error("failed to parse updated config: %v", err)
			return
		}

		if err := callback(newConfig); err != nil {
			logger.Error("failed to apply new config: %v", err)
			return
		}

		logger.Info("config reloaded")
	})
	v.WatchConfig()

	return nil
}
