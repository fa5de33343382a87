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
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`     // json, text
	TraceExporter string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	Capture     CaptureConfig    `yaml:"capture"`
	Segmenter   SegmenterConfig  `yaml:"segmenter"`
	STT         STTConfig        `yaml:"stt"`
	Translation TranslateConfig  `yaml:"translation"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// CaptureConfig selects the frame source and the shape of captured frames.
type CaptureConfig struct {
	Source        string  `yaml:"source"` // ffmpeg, wav, tone, bus
	Command       string  `yaml:"command"`
	Format        string  `yaml:"format"`
	Device        string  `yaml:"device"`
	SampleRate    int     `yaml:"sample_rate"`
	Channels      int     `yaml:"channels"`
	ChunkSeconds  float64 `yaml:"chunk_seconds"`
	QueueSize     int     `yaml:"queue_size"`
	File          string  `yaml:"file"`
	Loop          bool    `yaml:"loop"`
	Realtime      bool    `yaml:"realtime"` // pace file and tone sources at wall-clock speed
	ToneFrequency float64 `yaml:"tone_frequency"`
	ToneAmplitude float64 `yaml:"tone_amplitude"`
	BusSession    string  `yaml:"bus_session"`
}

type SegmenterConfig struct {
	TargetSampleRate      int     `yaml:"target_sample_rate"`
	ResampleQuality       int     `yaml:"resample_quality"`
	VolumeThreshold       float64 `yaml:"volume_threshold"`
	SilenceFramesToCommit int     `yaml:"silence_frames_to_commit"`
	MinAccumSeconds       float64 `yaml:"min_accum_seconds"`
	MaxAccumSeconds       float64 `yaml:"max_accum_seconds"`
	DebugDumpDir          string  `yaml:"debug_dump_dir"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, openai, whisper
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TranslateConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Mode           string  `yaml:"mode"` // mock, exec, ollama, openai
	SourceLanguage string  `yaml:"source_language"`
	TargetLanguage string  `yaml:"target_language"`
	Command        string  `yaml:"command"`
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutMS      int     `yaml:"timeout_ms"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
	PendingMarker  string  `yaml:"pending_marker"`
}

type EventStoreConfig struct {
	RetentionMode string `yaml:"retention_mode"` // ephemeral, session
	MaxSessions   int    `yaml:"max_sessions"`
	MaxEvents     int    `yaml:"max_events"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-caption",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5001,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			LogFormat:     "json",
			TraceExporter: "none",
			OTLPInsecure:  true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-caption-1",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Capture: CaptureConfig{
			Source:        "ffmpeg",
			Format:        "pulse",
			Device:        "default.monitor",
			SampleRate:    48000,
			Channels:      2,
			ChunkSeconds:  0.5,
			Realtime:      true,
			ToneFrequency: 440,
			ToneAmplitude: 0.3,
			BusSession:    "default",
		},
		Segmenter: SegmenterConfig{
			TargetSampleRate:      16000,
			ResampleQuality:       4,
			VolumeThreshold:       0.0001,
			SilenceFramesToCommit: 2,
			MinAccumSeconds:       0.5,
			MaxAccumSeconds:       12,
		},
		STT: STTConfig{
			Mode:      "mock",
			Language:  "en",
			Model:     "whisper-1",
			TimeoutMS: 45000,
		},
		Translation: TranslateConfig{
			Enabled:        true,
			Mode:           "mock",
			SourceLanguage: "en",
			TargetLanguage: "ko",
			Temperature:    0.2,
			TimeoutMS:      10000,
			PendingMarker:  "[translating...]",
		},
		EventStore: EventStoreConfig{
			RetentionMode: "session",
			MaxSessions:   50,
			MaxEvents:     5000,
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Source, "LOQA_CAPTURE_SOURCE")
	overrideString(&cfg.Capture.Command, "LOQA_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.Format, "LOQA_CAPTURE_FORMAT")
	overrideString(&cfg.Capture.Device, "LOQA_CAPTURE_DEVICE")
	overrideInt(&cfg.Capture.SampleRate, "LOQA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "LOQA_CAPTURE_CHANNELS")
	overrideFloat(&cfg.Capture.ChunkSeconds, "LOQA_CAPTURE_CHUNK_SECONDS")
	overrideInt(&cfg.Capture.QueueSize, "LOQA_CAPTURE_QUEUE_SIZE")
	overrideString(&cfg.Capture.File, "LOQA_CAPTURE_FILE")
	overrideBool(&cfg.Capture.Loop, "LOQA_CAPTURE_LOOP")
	overrideBool(&cfg.Capture.Realtime, "LOQA_CAPTURE_REALTIME")
	overrideFloat(&cfg.Capture.ToneFrequency, "LOQA_CAPTURE_TONE_FREQUENCY")
	overrideFloat(&cfg.Capture.ToneAmplitude, "LOQA_CAPTURE_TONE_AMPLITUDE")
	overrideString(&cfg.Capture.BusSession, "LOQA_CAPTURE_BUS_SESSION")
	overrideInt(&cfg.Segmenter.TargetSampleRate, "LOQA_SEGMENTER_TARGET_SAMPLE_RATE")
	overrideInt(&cfg.Segmenter.ResampleQuality, "LOQA_SEGMENTER_RESAMPLE_QUALITY")
	overrideFloat(&cfg.Segmenter.VolumeThreshold, "LOQA_SEGMENTER_VOLUME_THRESHOLD")
	overrideInt(&cfg.Segmenter.SilenceFramesToCommit, "LOQA_SEGMENTER_SILENCE_FRAMES_TO_COMMIT")
	overrideFloat(&cfg.Segmenter.MinAccumSeconds, "LOQA_SEGMENTER_MIN_ACCUM_SECONDS")
	overrideFloat(&cfg.Segmenter.MaxAccumSeconds, "LOQA_SEGMENTER_MAX_ACCUM_SECONDS")
	overrideString(&cfg.Segmenter.DebugDumpDir, "LOQA_SEGMENTER_DEBUG_DUMP_DIR")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideBool(&cfg.Translation.Enabled, "LOQA_TRANSLATION_ENABLED")
	overrideString(&cfg.Translation.Mode, "LOQA_TRANSLATION_MODE")
	overrideString(&cfg.Translation.SourceLanguage, "LOQA_TRANSLATION_SOURCE_LANGUAGE")
	overrideString(&cfg.Translation.TargetLanguage, "LOQA_TRANSLATION_TARGET_LANGUAGE")
	overrideString(&cfg.Translation.Command, "LOQA_TRANSLATION_COMMAND")
	overrideString(&cfg.Translation.Endpoint, "LOQA_TRANSLATION_ENDPOINT")
	overrideString(&cfg.Translation.APIKey, "LOQA_TRANSLATION_API_KEY")
	overrideString(&cfg.Translation.Model, "LOQA_TRANSLATION_MODEL")
	overrideFloat(&cfg.Translation.Temperature, "LOQA_TRANSLATION_TEMPERATURE")
	overrideInt(&cfg.Translation.TimeoutMS, "LOQA_TRANSLATION_TIMEOUT_MS")
	overrideFloat(&cfg.Translation.RatePerSecond, "LOQA_TRANSLATION_RATE_PER_SECOND")
	overrideInt(&cfg.Translation.Burst, "LOQA_TRANSLATION_BURST")
	overrideString(&cfg.Translation.PendingMarker, "LOQA_TRANSLATION_PENDING_MARKER")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideInt(&cfg.EventStore.MaxEvents, "LOQA_EVENT_STORE_MAX_EVENTS")
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
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	if err := validateCapture(cfg.Capture, cfg.Bus); err != nil {
		return err
	}
	if err := validateSegmenter(cfg.Segmenter); err != nil {
		return err
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "openai":
		if cfg.STT.APIKey == "" && cfg.STT.Endpoint == "" {
			return errors.New("stt.api_key or stt.endpoint must be set when mode=openai")
		}
	case "whisper":
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=whisper")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|openai|whisper")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if cfg.Translation.Enabled {
		switch cfg.Translation.Mode {
		case "mock":
		case "exec":
			if cfg.Translation.Command == "" {
				return errors.New("translation.command must be set when mode=exec")
			}
		case "ollama":
		case "openai":
			if cfg.Translation.APIKey == "" {
				return errors.New("translation.api_key must be set when mode=openai")
			}
		default:
			return errors.New("translation.mode must be one of mock|exec|ollama|openai")
		}
		if cfg.Translation.TargetLanguage == "" {
			return errors.New("translation.target_language must not be empty")
		}
		if cfg.Translation.TimeoutMS <= 0 {
			return errors.New("translation.timeout_ms must be positive")
		}
		if cfg.Translation.RatePerSecond < 0 {
			return errors.New("translation.rate_per_second must be >= 0")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session")
	}
	if cfg.EventStore.MaxSessions < 0 || cfg.EventStore.MaxEvents < 0 {
		return errors.New("event_store limits must be >= 0")
	}
	return nil
}

func validateCapture(c CaptureConfig, bus BusConfig) error {
	switch c.Source {
	case "ffmpeg", "tone":
	case "wav":
		if c.File == "" {
			return errors.New("capture.file must be set when source=wav")
		}
	case "bus":
		if !bus.Enabled {
			return errors.New("bus.enabled must be true when capture.source=bus")
		}
	default:
		return errors.New("capture.source must be one of ffmpeg|wav|tone|bus")
	}
	if c.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if c.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if c.ChunkSeconds <= 0 {
		return errors.New("capture.chunk_seconds must be positive")
	}
	if c.QueueSize < 0 {
		return errors.New("capture.queue_size must be >= 0")
	}
	return nil
}

func validateSegmenter(s SegmenterConfig) error {
	if s.TargetSampleRate <= 0 {
		return errors.New("segmenter.target_sample_rate must be positive")
	}
	if s.ResampleQuality < 1 || s.ResampleQuality > 64 {
		return errors.New("segmenter.resample_quality must be between 1 and 64")
	}
	if s.VolumeThreshold < 0 {
		return errors.New("segmenter.volume_threshold must be >= 0")
	}
	if s.SilenceFramesToCommit <= 0 {
		return errors.New("segmenter.silence_frames_to_commit must be >= 1")
	}
	if s.MinAccumSeconds < 0 {
		return errors.New("segmenter.min_accum_seconds must be >= 0")
	}
	if s.MaxAccumSeconds <= s.MinAccumSeconds {
		return errors.New("segmenter.max_accum_seconds must be greater than min_accum_seconds")
	}
	return nil
}
