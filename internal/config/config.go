package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind              string   `yaml:"bind"`
	Port              int      `yaml:"port"`
	APIToken          string   `yaml:"api_token"`
	CORSOrigins       []string `yaml:"cors_origins"`
	CommandRatePerMin int      `yaml:"command_rate_per_minute"`
}

// DeviceConfig describes the ExaPlay TCP endpoint and the retry budget
// applied to every command submitted to it.
type DeviceConfig struct {
	Host             string  `yaml:"host"`
	Port             int     `yaml:"port"`
	ConnectTimeout   int     `yaml:"connect_timeout_ms"`
	CommandTimeout   int     `yaml:"command_timeout_ms"`
	MaxAttempts      int     `yaml:"max_attempts"`
	BackoffInitial   int     `yaml:"backoff_initial_ms"`
	BackoffMax       int     `yaml:"backoff_max_ms"`
	BackoffJitter    float64 `yaml:"backoff_jitter"`
	QueueSize        int     `yaml:"queue_size"`
	MaxResponseBytes int     `yaml:"max_response_bytes"`
}

type OSCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Prefix  string `yaml:"prefix"`
}

type PollerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Interval     int      `yaml:"interval_ms"`
	Compositions []string `yaml:"compositions"`
}

// Overflow policies applied when a status subscriber's buffer is full.
const (
	OverflowDropOldest = "drop-oldest"
	OverflowDropNewest = "drop-newest"
)

type BusConfig struct {
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	OverflowPolicy   string `yaml:"overflow_policy"`
}

// Journal retention modes.
const (
	RetentionEphemeral  = "ephemeral"
	RetentionPersistent = "persistent"
)

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEvents     int    `yaml:"max_events"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type NATSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type MQTTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	QoS            int    `yaml:"qos"`
	Retain         bool   `yaml:"retain"`
	TopicPrefix    string `yaml:"topic_prefix"`
	ConnectTimeout int    `yaml:"connect_timeout_ms"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Device      DeviceConfig    `yaml:"device"`
	OSC         OSCConfig       `yaml:"osc"`
	Poller      PollerConfig    `yaml:"poller"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	NATS        NATSConfig      `yaml:"nats"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
}

func Default() Config {
	return Config{
		RuntimeName: "exabridge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:              "0.0.0.0",
			Port:              8080,
			CORSOrigins:       []string{},
			CommandRatePerMin: 60,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Device: DeviceConfig{
			Host:             "192.168.1.174",
			Port:             7000,
			ConnectTimeout:   5000,
			CommandTimeout:   5000,
			MaxAttempts:      4,
			BackoffInitial:   1000,
			BackoffMax:       30000,
			BackoffJitter:    0.1,
			QueueSize:        32,
			MaxResponseBytes: 4096,
		},
		OSC: OSCConfig{
			Enabled: false,
			Listen:  "0.0.0.0:8000",
			Prefix:  "exaplay",
		},
		Poller: PollerConfig{
			Enabled:  false,
			Interval: 1000,
		},
		Bus: BusConfig{
			SubscriberBuffer: 100,
			OverflowPolicy:   OverflowDropOldest,
		},
		Journal: JournalConfig{
			Path:          "./data/exabridge-status.db",
			RetentionMode: RetentionEphemeral,
			RetentionDays: 7,
			MaxEvents:     100000,
		},
		NATS: NATSConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "exaplay",
		},
		MQTT: MQTTConfig{
			Enabled:        false,
			Broker:         "tcp://localhost:1883",
			ClientID:       "exabridge",
			QoS:            0,
			Retain:         true,
			TopicPrefix:    "exaplay",
			ConnectTimeout: 5000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "EXABRIDGE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "EXABRIDGE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "EXABRIDGE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "EXABRIDGE_HTTP_PORT")
	overrideString(&cfg.HTTP.APIToken, "EXABRIDGE_HTTP_API_TOKEN")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "EXABRIDGE_HTTP_CORS_ORIGINS")
	overrideInt(&cfg.HTTP.CommandRatePerMin, "EXABRIDGE_HTTP_COMMAND_RATE_PER_MINUTE")
	overrideString(&cfg.Telemetry.LogLevel, "EXABRIDGE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "EXABRIDGE_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "EXABRIDGE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "EXABRIDGE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "EXABRIDGE_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Device.Host, "EXABRIDGE_DEVICE_HOST")
	overrideInt(&cfg.Device.Port, "EXABRIDGE_DEVICE_PORT")
	overrideInt(&cfg.Device.ConnectTimeout, "EXABRIDGE_DEVICE_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Device.CommandTimeout, "EXABRIDGE_DEVICE_COMMAND_TIMEOUT_MS")
	overrideInt(&cfg.Device.MaxAttempts, "EXABRIDGE_DEVICE_MAX_ATTEMPTS")
	overrideInt(&cfg.Device.BackoffInitial, "EXABRIDGE_DEVICE_BACKOFF_INITIAL_MS")
	overrideInt(&cfg.Device.BackoffMax, "EXABRIDGE_DEVICE_BACKOFF_MAX_MS")
	overrideFloat(&cfg.Device.BackoffJitter, "EXABRIDGE_DEVICE_BACKOFF_JITTER")
	overrideInt(&cfg.Device.QueueSize, "EXABRIDGE_DEVICE_QUEUE_SIZE")
	overrideInt(&cfg.Device.MaxResponseBytes, "EXABRIDGE_DEVICE_MAX_RESPONSE_BYTES")
	overrideBool(&cfg.OSC.Enabled, "EXABRIDGE_OSC_ENABLED")
	overrideString(&cfg.OSC.Listen, "EXABRIDGE_OSC_LISTEN")
	overrideString(&cfg.OSC.Prefix, "EXABRIDGE_OSC_PREFIX")
	overrideBool(&cfg.Poller.Enabled, "EXABRIDGE_POLLER_ENABLED")
	overrideInt(&cfg.Poller.Interval, "EXABRIDGE_POLLER_INTERVAL_MS")
	overrideStringSlice(&cfg.Poller.Compositions, "EXABRIDGE_POLLER_COMPOSITIONS")
	overrideInt(&cfg.Bus.SubscriberBuffer, "EXABRIDGE_BUS_SUBSCRIBER_BUFFER")
	overrideString(&cfg.Bus.OverflowPolicy, "EXABRIDGE_BUS_OVERFLOW_POLICY")
	overrideString(&cfg.Journal.Path, "EXABRIDGE_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "EXABRIDGE_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "EXABRIDGE_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxEvents, "EXABRIDGE_JOURNAL_MAX_EVENTS")
	overrideBool(&cfg.Journal.VacuumOnStart, "EXABRIDGE_JOURNAL_VACUUM_ON_START")
	overrideBool(&cfg.NATS.Enabled, "EXABRIDGE_NATS_ENABLED")
	overrideBool(&cfg.NATS.Embedded, "EXABRIDGE_NATS_EMBEDDED")
	overrideInt(&cfg.NATS.Port, "EXABRIDGE_NATS_PORT")
	overrideStringSlice(&cfg.NATS.Servers, "EXABRIDGE_NATS_SERVERS")
	overrideString(&cfg.NATS.Username, "EXABRIDGE_NATS_USERNAME")
	overrideString(&cfg.NATS.Password, "EXABRIDGE_NATS_PASSWORD")
	overrideString(&cfg.NATS.Token, "EXABRIDGE_NATS_TOKEN")
	overrideBool(&cfg.NATS.TLSInsecure, "EXABRIDGE_NATS_TLS_INSECURE")
	overrideInt(&cfg.NATS.ConnectTimeout, "EXABRIDGE_NATS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.NATS.SubjectPrefix, "EXABRIDGE_NATS_SUBJECT_PREFIX")
	overrideBool(&cfg.MQTT.Enabled, "EXABRIDGE_MQTT_ENABLED")
	overrideString(&cfg.MQTT.Broker, "EXABRIDGE_MQTT_BROKER")
	overrideString(&cfg.MQTT.ClientID, "EXABRIDGE_MQTT_CLIENT_ID")
	overrideString(&cfg.MQTT.Username, "EXABRIDGE_MQTT_USERNAME")
	overrideString(&cfg.MQTT.Password, "EXABRIDGE_MQTT_PASSWORD")
	overrideInt(&cfg.MQTT.QoS, "EXABRIDGE_MQTT_QOS")
	overrideBool(&cfg.MQTT.Retain, "EXABRIDGE_MQTT_RETAIN")
	overrideString(&cfg.MQTT.TopicPrefix, "EXABRIDGE_MQTT_TOPIC_PREFIX")
	overrideInt(&cfg.MQTT.ConnectTimeout, "EXABRIDGE_MQTT_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.APIToken != "" && len(cfg.HTTP.APIToken) < 32 {
		return errors.New("http.api_token must be at least 32 characters")
	}
	if cfg.HTTP.CommandRatePerMin <= 0 {
		return errors.New("http.command_rate_per_minute must be positive")
	}
	if cfg.Device.Host == "" {
		return errors.New("device.host must not be empty")
	}
	if cfg.Device.Port <= 0 || cfg.Device.Port > 65535 {
		return errors.New("device.port must be between 1 and 65535")
	}
	if cfg.Device.ConnectTimeout <= 0 || cfg.Device.CommandTimeout <= 0 {
		return errors.New("device timeouts must be positive")
	}
	if cfg.Device.MaxAttempts < 1 {
		return errors.New("device.max_attempts must be >= 1")
	}
	if cfg.Device.BackoffInitial <= 0 {
		return errors.New("device.backoff_initial_ms must be positive")
	}
	if cfg.Device.BackoffMax < cfg.Device.BackoffInitial {
		return errors.New("device.backoff_max_ms must be >= backoff_initial_ms")
	}
	if cfg.Device.BackoffJitter < 0 || cfg.Device.BackoffJitter > 1.0/3.0 {
		return errors.New("device.backoff_jitter must be between 0 and 1/3")
	}
	if cfg.Device.QueueSize < 1 {
		return errors.New("device.queue_size must be >= 1")
	}
	if cfg.OSC.Enabled {
		if cfg.OSC.Listen == "" {
			return errors.New("osc.listen must not be empty when osc is enabled")
		}
		if cfg.OSC.Prefix == "" || strings.Contains(cfg.OSC.Prefix, "/") {
			return errors.New("osc.prefix must be a single path segment")
		}
	}
	if cfg.Poller.Enabled {
		if cfg.Poller.Interval <= 0 {
			return errors.New("poller.interval_ms must be positive")
		}
		if len(cfg.Poller.Compositions) == 0 {
			return errors.New("poller.compositions must not be empty when the poller is enabled")
		}
	}
	if cfg.Bus.SubscriberBuffer < 1 {
		return errors.New("bus.subscriber_buffer must be >= 1")
	}
	switch cfg.Bus.OverflowPolicy {
	case OverflowDropOldest, OverflowDropNewest:
	default:
		return errors.New("bus.overflow_policy must be one of drop-oldest|drop-newest")
	}
	switch cfg.Journal.RetentionMode {
	case RetentionEphemeral, RetentionPersistent:
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionMode == RetentionPersistent && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty when retention is persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.NATS.Enabled {
		if cfg.NATS.Embedded {
			if cfg.NATS.Port <= 0 || cfg.NATS.Port > 65535 {
				return errors.New("nats.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.NATS.Servers) == 0 {
			return errors.New("nats.servers must not be empty when embedded mode is disabled")
		}
		if cfg.NATS.SubjectPrefix == "" {
			return errors.New("nats.subject_prefix must not be empty")
		}
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return errors.New("mqtt.broker must not be empty when mqtt is enabled")
		}
		if cfg.MQTT.ClientID == "" {
			return errors.New("mqtt.client_id must not be empty")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
		}
		if cfg.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	return nil
}
