package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       bool   `yaml:"traces"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	Processing  ProcessingConfig `yaml:"processing"`
	Engine      EngineConfig     `yaml:"engine"`
	Streaming   StreamingConfig  `yaml:"streaming"`
	Control     ControlConfig    `yaml:"control"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	NodeID         string   `yaml:"node_id"`
	HeartbeatMS    int      `yaml:"heartbeat_interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig describes the capture device and the bounded recording buffer.
type AudioConfig struct {
	Device              string `yaml:"device"` // exec, portaudio, loopback
	Command             string `yaml:"command"`
	SampleRate          int    `yaml:"sample_rate"`
	Channels            int    `yaml:"channels"`
	BlockSize           int    `yaml:"block_size"`
	MaxRecordingSeconds int    `yaml:"max_recording_seconds"`
}

type ProcessingConfig struct {
	SilenceThreshold   float64 `yaml:"silence_threshold"`
	TrimMarginMS       int     `yaml:"trim_margin_ms"`
	MinDurationSeconds float64 `yaml:"min_duration_seconds"`
	MaxDurationSeconds float64 `yaml:"max_duration_seconds"`
	NormalizeDBFS      float64 `yaml:"normalize_dbfs"`
}

type EngineConfig struct {
	Mode           string  `yaml:"mode"`    // auto, mock, production
	Backend        string  `yaml:"backend"` // native, exec
	ModelName      string  `yaml:"model_name"`
	ModelsDir      string  `yaml:"models_dir"`
	Command        string  `yaml:"command"`
	Language       string  `yaml:"language"`
	Threads        int     `yaml:"threads"`
	WarmupSeconds  float64 `yaml:"warmup_seconds"`
	Preload        bool    `yaml:"preload"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ModelPath resolves the artifact location for the given model name. Bare
// names such as "base" map to the ggml file naming used by whisper.cpp.
func (c EngineConfig) ModelPath(name string) string {
	if name == "" {
		name = c.ModelName
	}
	if filepath.IsAbs(name) || strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	if filepath.Ext(name) == "" {
		name = "ggml-" + name + ".bin"
	}
	return filepath.Join(c.ModelsDir, name)
}

type StreamingConfig struct {
	WindowSeconds float64 `yaml:"window_seconds"`
	VADThreshold  float64 `yaml:"vad_threshold"`
}

type ControlConfig struct {
	Transport string `yaml:"transport"` // stdio, nats, none
	QueueSize int    `yaml:"queue_size"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "scribe",
			HeartbeatMS:    5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/scribe-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			Device:              "exec",
			Command:             "arecord -q -t raw -f FLOAT_LE -c 1 -r 16000",
			SampleRate:          16000,
			Channels:            1,
			BlockSize:           1024,
			MaxRecordingSeconds: 60,
		},
		Processing: ProcessingConfig{
			SilenceThreshold:   0.01,
			TrimMarginMS:       100,
			MinDurationSeconds: 0.5,
			MaxDurationSeconds: 30,
			NormalizeDBFS:      -20,
		},
		Engine: EngineConfig{
			Mode:           "auto",
			Backend:        "native",
			ModelName:      "ggml-base.bin",
			ModelsDir:      "./models",
			Language:       "en",
			Threads:        4,
			WarmupSeconds:  5,
			Preload:        true,
			TimeoutSeconds: 120,
		},
		Streaming: StreamingConfig{
			WindowSeconds: 3,
			VADThreshold:  0.01,
		},
		Control: ControlConfig{
			Transport: "stdio",
			QueueSize: 64,
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
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "SCRIBE_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Traces, "SCRIBE_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Enabled, "SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "SCRIBE_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.Bus.NodeID, "SCRIBE_BUS_NODE_ID")
	overrideInt(&cfg.Bus.HeartbeatMS, "SCRIBE_BUS_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "SCRIBE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SCRIBE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SCRIBE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "SCRIBE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SCRIBE_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.Device, "SCRIBE_AUDIO_DEVICE")
	overrideString(&cfg.Audio.Command, "SCRIBE_AUDIO_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "SCRIBE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SCRIBE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BlockSize, "SCRIBE_AUDIO_BLOCK_SIZE")
	overrideInt(&cfg.Audio.MaxRecordingSeconds, "SCRIBE_AUDIO_MAX_RECORDING_SECONDS")
	overrideFloat(&cfg.Processing.SilenceThreshold, "SCRIBE_PROCESSING_SILENCE_THRESHOLD")
	overrideInt(&cfg.Processing.TrimMarginMS, "SCRIBE_PROCESSING_TRIM_MARGIN_MS")
	overrideFloat(&cfg.Processing.MinDurationSeconds, "SCRIBE_PROCESSING_MIN_DURATION_SECONDS")
	overrideFloat(&cfg.Processing.MaxDurationSeconds, "SCRIBE_PROCESSING_MAX_DURATION_SECONDS")
	overrideFloat(&cfg.Processing.NormalizeDBFS, "SCRIBE_PROCESSING_NORMALIZE_DBFS")
	overrideString(&cfg.Engine.Mode, "SCRIBE_ENGINE_MODE")
	overrideString(&cfg.Engine.Backend, "SCRIBE_ENGINE_BACKEND")
	overrideString(&cfg.Engine.ModelName, "SCRIBE_ENGINE_MODEL_NAME")
	overrideString(&cfg.Engine.ModelsDir, "SCRIBE_ENGINE_MODELS_DIR")
	overrideString(&cfg.Engine.Command, "SCRIBE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Language, "SCRIBE_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.Threads, "SCRIBE_ENGINE_THREADS")
	overrideFloat(&cfg.Engine.WarmupSeconds, "SCRIBE_ENGINE_WARMUP_SECONDS")
	overrideBool(&cfg.Engine.Preload, "SCRIBE_ENGINE_PRELOAD")
	overrideInt(&cfg.Engine.TimeoutSeconds, "SCRIBE_ENGINE_TIMEOUT_SECONDS")
	overrideFloat(&cfg.Streaming.WindowSeconds, "SCRIBE_STREAMING_WINDOW_SECONDS")
	overrideFloat(&cfg.Streaming.VADThreshold, "SCRIBE_STREAMING_VAD_THRESHOLD")
	overrideString(&cfg.Control.Transport, "SCRIBE_CONTROL_TRANSPORT")
	overrideInt(&cfg.Control.QueueSize, "SCRIBE_CONTROL_QUEUE_SIZE")
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

// Validate checks a fully assembled configuration.
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
		if cfg.Bus.HeartbeatMS <= 0 {
			return errors.New("bus.heartbeat_interval_ms must be positive")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Audio.Device {
	case "exec":
		if cfg.Audio.Command == "" {
			return errors.New("audio.command must be set when device=exec")
		}
	case "portaudio", "loopback":
	default:
		return errors.New("audio.device must be one of exec|portaudio|loopback")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.BlockSize <= 0 {
		return errors.New("audio.block_size must be positive")
	}
	if cfg.Audio.MaxRecordingSeconds <= 0 {
		return errors.New("audio.max_recording_seconds must be positive")
	}
	if cfg.Processing.SilenceThreshold < 0 {
		return errors.New("processing.silence_threshold must be >= 0")
	}
	if cfg.Processing.TrimMarginMS < 0 {
		return errors.New("processing.trim_margin_ms must be >= 0")
	}
	if cfg.Processing.MinDurationSeconds < 0 {
		return errors.New("processing.min_duration_seconds must be >= 0")
	}
	if cfg.Processing.MaxDurationSeconds > 0 && cfg.Processing.MaxDurationSeconds < cfg.Processing.MinDurationSeconds {
		return errors.New("processing.max_duration_seconds must be >= min_duration_seconds")
	}
	switch cfg.Engine.Mode {
	case "auto", "mock", "production":
	default:
		return errors.New("engine.mode must be one of auto|mock|production")
	}
	switch cfg.Engine.Backend {
	case "native":
	case "exec":
		if cfg.Engine.Mode != "mock" && cfg.Engine.Command == "" {
			return errors.New("engine.command must be set when backend=exec")
		}
	default:
		return errors.New("engine.backend must be one of native|exec")
	}
	if cfg.Engine.ModelName == "" {
		return errors.New("engine.model_name must not be empty")
	}
	if cfg.Engine.Threads <= 0 {
		return errors.New("engine.threads must be positive")
	}
	if cfg.Engine.WarmupSeconds < 0 {
		return errors.New("engine.warmup_seconds must be >= 0")
	}
	if cfg.Streaming.WindowSeconds <= 0 {
		return errors.New("streaming.window_seconds must be positive")
	}
	switch cfg.Control.Transport {
	case "stdio", "none":
	case "nats":
		if !cfg.Bus.Enabled {
			return errors.New("control.transport=nats requires bus.enabled")
		}
	default:
		return errors.New("control.transport must be one of stdio|nats|none")
	}
	if cfg.Control.QueueSize <= 0 {
		return errors.New("control.queue_size must be positive")
	}
	return nil
}
