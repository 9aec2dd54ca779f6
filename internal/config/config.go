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
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
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
	Server      ServerConfig     `yaml:"server"`
	Engine      EngineConfig     `yaml:"engine"`
	Languages   LanguagesConfig  `yaml:"languages"`
	Correction  CorrectionConfig `yaml:"correction"`
	History     HistoryConfig    `yaml:"history"`
	Models      ModelsConfig     `yaml:"models"`
	Dictation   DictationConfig  `yaml:"dictation"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ServerConfig describes the locally supervised recognition server.
type ServerConfig struct {
	BinaryPath       string `yaml:"binary_path"`
	ModelPath        string `yaml:"model_path"`
	Host             string `yaml:"host"`
	PortRangeStart   int    `yaml:"port_range_start"`
	PortRangeEnd     int    `yaml:"port_range_end"`
	LeasePath        string `yaml:"lease_path"`
	HealthTimeoutMS  int    `yaml:"health_timeout_ms"`
	HealthIntervalMS int    `yaml:"health_interval_ms"`
	StopGraceMS      int    `yaml:"stop_grace_ms"`
	PrewarmOnStart   bool   `yaml:"prewarm_on_start"`
	ExtraArgs        string `yaml:"extra_args"`
}

type EngineConfig struct {
	Mode          string `yaml:"mode"` // mock, http
	Endpoint      string `yaml:"endpoint"`
	ModelID       string `yaml:"model_id"`
	CallTimeoutMS int    `yaml:"call_timeout_ms"`
}

// LanguagesConfig mirrors the user's language settings. A non-empty fallback
// must be a member of the selected set.
type LanguagesConfig struct {
	Selected []string `yaml:"selected"`
	Fallback string   `yaml:"fallback"`
}

type CorrectionConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Mode      string  `yaml:"mode"` // mock, ollama, exec
	Endpoint  string  `yaml:"endpoint"`
	Model     string  `yaml:"model"`
	Command   string  `yaml:"command"`
	TimeoutMS int     `yaml:"timeout_ms"`
	MaxTokens int     `yaml:"max_tokens"`
	Temp      float64 `yaml:"temperature"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	MaxEntries    int    `yaml:"max_entries"`
	RetentionDays int    `yaml:"retention_days"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// ModelsConfig describes the managed recognition-model cache.
type ModelsConfig struct {
	Dir               string `yaml:"dir"`
	BaseURL           string `yaml:"base_url"`
	DownloadTimeoutMS int    `yaml:"download_timeout_ms"`
}

type DictationConfig struct {
	Enabled    bool `yaml:"enabled"`
	SampleRate int  `yaml:"sample_rate"`
	Channels   int  `yaml:"channels"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Server: ServerConfig{
			BinaryPath:       "whisper-server",
			ModelPath:        "",
			Host:             "127.0.0.1",
			PortRangeStart:   8178,
			PortRangeEnd:     8199,
			LeasePath:        "./data/whisper-server.lease",
			HealthTimeoutMS:  20000,
			HealthIntervalMS: 250,
			StopGraceMS:      5000,
			PrewarmOnStart:   false,
		},
		Engine: EngineConfig{
			Mode:          "http",
			ModelID:       "base",
			CallTimeoutMS: 30000,
		},
		Languages: LanguagesConfig{
			Selected: nil,
			Fallback: "",
		},
		Correction: CorrectionConfig{
			Enabled:   false,
			Mode:      "mock",
			Endpoint:  "http://localhost:11434",
			Model:     "llama3.2:latest",
			TimeoutMS: 20000,
			MaxTokens: 512,
			Temp:      0.2,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/voxd-history.db",
			MaxEntries:    10000,
			RetentionDays: 30,
		},
		Models: ModelsConfig{
			Dir:               "./data/models",
			BaseURL:           "https://huggingface.co/ggerganov/whisper.cpp/resolve/main",
			DownloadTimeoutMS: 600000,
		},
		Dictation: DictationConfig{
			Enabled:    true,
			SampleRate: 16000,
			Channels:   1,
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
	overrideString(&cfg.RuntimeName, "VOXD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXD_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Server.BinaryPath, "VOXD_SERVER_BINARY_PATH")
	overrideString(&cfg.Server.ModelPath, "VOXD_SERVER_MODEL_PATH")
	overrideString(&cfg.Server.Host, "VOXD_SERVER_HOST")
	overrideInt(&cfg.Server.PortRangeStart, "VOXD_SERVER_PORT_RANGE_START")
	overrideInt(&cfg.Server.PortRangeEnd, "VOXD_SERVER_PORT_RANGE_END")
	overrideString(&cfg.Server.LeasePath, "VOXD_SERVER_LEASE_PATH")
	overrideInt(&cfg.Server.HealthTimeoutMS, "VOXD_SERVER_HEALTH_TIMEOUT_MS")
	overrideInt(&cfg.Server.HealthIntervalMS, "VOXD_SERVER_HEALTH_INTERVAL_MS")
	overrideInt(&cfg.Server.StopGraceMS, "VOXD_SERVER_STOP_GRACE_MS")
	overrideBool(&cfg.Server.PrewarmOnStart, "VOXD_SERVER_PREWARM_ON_START")
	overrideString(&cfg.Server.ExtraArgs, "VOXD_SERVER_EXTRA_ARGS")
	overrideString(&cfg.Engine.Mode, "VOXD_ENGINE_MODE")
	overrideString(&cfg.Engine.Endpoint, "VOXD_ENGINE_ENDPOINT")
	overrideString(&cfg.Engine.ModelID, "VOXD_ENGINE_MODEL_ID")
	overrideInt(&cfg.Engine.CallTimeoutMS, "VOXD_ENGINE_CALL_TIMEOUT_MS")
	overrideStringSlice(&cfg.Languages.Selected, "VOXD_LANGUAGES_SELECTED")
	overrideString(&cfg.Languages.Fallback, "VOXD_LANGUAGES_FALLBACK")
	overrideBool(&cfg.Correction.Enabled, "VOXD_CORRECTION_ENABLED")
	overrideString(&cfg.Correction.Mode, "VOXD_CORRECTION_MODE")
	overrideString(&cfg.Correction.Endpoint, "VOXD_CORRECTION_ENDPOINT")
	overrideString(&cfg.Correction.Model, "VOXD_CORRECTION_MODEL")
	overrideString(&cfg.Correction.Command, "VOXD_CORRECTION_COMMAND")
	overrideInt(&cfg.Correction.TimeoutMS, "VOXD_CORRECTION_TIMEOUT_MS")
	overrideInt(&cfg.Correction.MaxTokens, "VOXD_CORRECTION_MAX_TOKENS")
	overrideFloat(&cfg.Correction.Temp, "VOXD_CORRECTION_TEMPERATURE")
	overrideBool(&cfg.History.Enabled, "VOXD_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "VOXD_HISTORY_PATH")
	overrideInt(&cfg.History.MaxEntries, "VOXD_HISTORY_MAX_ENTRIES")
	overrideInt(&cfg.History.RetentionDays, "VOXD_HISTORY_RETENTION_DAYS")
	overrideBool(&cfg.History.VacuumOnStart, "VOXD_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.Models.Dir, "VOXD_MODELS_DIR")
	overrideString(&cfg.Models.BaseURL, "VOXD_MODELS_BASE_URL")
	overrideInt(&cfg.Models.DownloadTimeoutMS, "VOXD_MODELS_DOWNLOAD_TIMEOUT_MS")
	overrideBool(&cfg.Dictation.Enabled, "VOXD_DICTATION_ENABLED")
	overrideInt(&cfg.Dictation.SampleRate, "VOXD_DICTATION_SAMPLE_RATE")
	overrideInt(&cfg.Dictation.Channels, "VOXD_DICTATION_CHANNELS")
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Server.BinaryPath == "" {
		return errors.New("server.binary_path must not be empty")
	}
	if cfg.Server.PortRangeStart <= 0 || cfg.Server.PortRangeStart > 65535 {
		return errors.New("server.port_range_start must be between 1 and 65535")
	}
	if cfg.Server.PortRangeEnd < cfg.Server.PortRangeStart || cfg.Server.PortRangeEnd > 65535 {
		return errors.New("server.port_range_end must be >= port_range_start and <= 65535")
	}
	if cfg.Server.LeasePath == "" {
		return errors.New("server.lease_path must not be empty")
	}
	if cfg.Server.HealthTimeoutMS <= 0 {
		return errors.New("server.health_timeout_ms must be positive")
	}
	if cfg.Server.HealthIntervalMS <= 0 {
		return errors.New("server.health_interval_ms must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "http":
	default:
		return errors.New("engine.mode must be one of mock|http")
	}
	if cfg.Engine.CallTimeoutMS <= 0 {
		return errors.New("engine.call_timeout_ms must be positive")
	}
	if cfg.Languages.Fallback != "" {
		found := false
		for _, code := range cfg.Languages.Selected {
			if code == cfg.Languages.Fallback {
				found = true
				break
			}
		}
		if !found {
			return errors.New("languages.fallback must be one of languages.selected")
		}
	}
	if cfg.Correction.Enabled {
		switch cfg.Correction.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("correction.mode must be one of mock|ollama|exec")
		}
		if cfg.Correction.Mode == "ollama" && cfg.Correction.Endpoint == "" {
			return errors.New("correction.endpoint must be set when mode=ollama")
		}
		if cfg.Correction.Mode == "exec" && cfg.Correction.Command == "" {
			return errors.New("correction.command must be set when mode=exec")
		}
		if cfg.Correction.TimeoutMS <= 0 {
			return errors.New("correction.timeout_ms must be positive")
		}
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	if cfg.Models.Dir == "" {
		return errors.New("models.dir must not be empty")
	}
	if cfg.Models.BaseURL == "" {
		return errors.New("models.base_url must not be empty")
	}
	if cfg.Models.DownloadTimeoutMS <= 0 {
		return errors.New("models.download_timeout_ms must be positive")
	}
	if cfg.Dictation.Enabled {
		if cfg.Dictation.SampleRate <= 0 {
			return errors.New("dictation.sample_rate must be positive")
		}
		if cfg.Dictation.Channels <= 0 {
			return errors.New("dictation.channels must be positive")
		}
	}
	return nil
}
