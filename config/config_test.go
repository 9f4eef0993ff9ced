package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("broker", "10.0.0.5")
	t.Setenv("topic_sub", "Fox_32_Home/ESP")
	t.Setenv("topic_pub", "Fox_32_Home/Status")
	t.Setenv("passphrase", "secret")
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_DB", "iot")
	t.Setenv("PG_USER", "bridge")
	t.Setenv("PG_PASS", "pw")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.5:1883", cfg.MQTT.Broker)
	assert.Equal(t, "Fox_32_Home/ESP", cfg.MQTT.TopicSub)
	assert.Equal(t, "Fox_32_Home/Status", cfg.MQTT.TopicPub)
	assert.Equal(t, "secret", cfg.Codec.Passphrase)
	assert.Equal(t, 10*time.Second, cfg.MQTT.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.MQTT.KeepAlive)
	assert.Equal(t, 0, cfg.MQTT.ConnectRetries)

	assert.True(t, cfg.Storage.Database.Enabled)
	assert.Equal(t, "postgresql", cfg.Storage.Database.Type)
	assert.Equal(t, "host=db port=5432 user=bridge password=pw dbname=iot sslmode=disable", cfg.Storage.Database.ConnectionString())

	assert.Equal(t, "Sensor_ESP", cfg.Control.SensorID)
	assert.Equal(t, "control-surface", cfg.Control.Sender)
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mqtt:
  broker: ssl://broker.example.com:8883
  topic_sub: devices/in
  topic_pub: devices/out
  connect_timeout: 3s
  connect_retries: 4
codec:
  passphrase: from-file
storage:
  database:
    type: mysql
    dsn: "u:p@tcp(db:3306)/iot"
transformers:
  Legacy_ESP:
    script_path: scripts/legacy.js
`), 0644))

	t.Setenv("passphrase", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ssl://broker.example.com:8883", cfg.MQTT.Broker)
	assert.Equal(t, "devices/in", cfg.MQTT.TopicSub)
	assert.Equal(t, 3*time.Second, cfg.MQTT.ConnectTimeout)
	assert.Equal(t, 4, cfg.MQTT.ConnectRetries)
	assert.Equal(t, "from-env", cfg.Codec.Passphrase)
	assert.Equal(t, "mysql", cfg.Storage.Database.Type)
	assert.Equal(t, "u:p@tcp(db:3306)/iot", cfg.Storage.Database.ConnectionString())
	// viper lowercases map keys
	assert.Equal(t, "scripts/legacy.js", cfg.Transformers["legacy_esp"].ScriptPath)
}

func TestLoadConfigRequiresPassphrase(t *testing.T) {
	t.Setenv("broker", "localhost")
	t.Setenv("topic_sub", "in")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		MQTT:  MQTTConfig{Broker: "tcp://localhost:1883", TopicSub: "in"},
		Codec: CodecConfig{Passphrase: "secret"},
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"no broker":     func(c *Config) { c.MQTT.Broker = "" },
		"no topic":      func(c *Config) { c.MQTT.TopicSub = "" },
		"no passphrase": func(c *Config) { c.Codec.Passphrase = "" },
		"bad qos":       func(c *Config) { c.MQTT.QoS = 3 },
		"neg retries":   func(c *Config) { c.MQTT.ConnectRetries = -1 },
	}
	for name, mutate := range cases {
		c := valid
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestNormalizeBroker(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"localhost", "tcp://localhost:1883"},
		{" 192.168.1.20 ", "tcp://192.168.1.20:1883"},
		{"broker:1884", "tcp://broker:1884"},
		{"tcp://broker", "tcp://broker:1883"},
		{"ws://broker:9001", "ws://broker:9001"},
		{"::1", "tcp://[::1]:1883"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeBroker(c.input), c.input)
	}
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BRIDGE_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("BRIDGE_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("BRIDGE_TEST_DOTENV"))
}

func TestWatchConfig(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0644))

	changed := make(chan *Config, 1)
	require.NoError(t, WatchConfig(path, func(cfg *Config) error {
		select {
		case changed <- cfg:
		default:
		}
		return nil
	}))

	// replace atomically so the watcher never sees a truncated file
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("logger:\n  level: debug\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logger.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatchConfigMissingFile(t *testing.T) {
	assert.Error(t, WatchConfig(filepath.Join(t.TempDir(), "nope.yaml"), func(*Config) error { return nil }))
}
