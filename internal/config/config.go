// Package config builds the process-wide configuration once at startup.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// CONFIG_FILE, then an optional .env file, then the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Strategy names.
const (
	StrategyLive  = "live"
	StrategyBatch = "batch"
)

// Provider names.
const (
	ProviderGladia = "gladia"
	ProviderGoogle = "google"
	ProviderMock   = "mock"
)

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Principal   string `yaml:"principal"`
	HTTPPort    string `yaml:"http_port"`
	GRPCPort    string `yaml:"grpc_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// STTConfig holds the transcription provider settings shared by both strategies.
type STTConfig struct {
	Strategy          string        `yaml:"strategy"`
	Provider          string        `yaml:"provider"`
	APIKey            string        `yaml:"api_key"`
	APIURL            string        `yaml:"api_url"`
	LiveURL           string        `yaml:"live_url"`
	CredentialsFile   string        `yaml:"credentials_file"`
	LanguageCode      string        `yaml:"language_code"`
	LanguageBehaviour string        `yaml:"language_behaviour"`
	SampleRateHz      int           `yaml:"sample_rate_hz"`
	AudioEncoding     string        `yaml:"audio_encoding"`
	InterimResults    bool          `yaml:"interim_results"`
	ContextHint       string        `yaml:"context_hint"`
	MinSpeakers       int           `yaml:"min_speakers"`
	MaxSpeakers       int           `yaml:"max_speakers"`
	NumberOfSpeakers  int           `yaml:"number_of_speakers"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollMaxAttempts   int           `yaml:"poll_max_attempts"`
}

// DocumentConfig holds the destination document service settings.
type DocumentConfig struct {
	APIKey        string `yaml:"api_key"`
	APIURL        string `yaml:"api_url"`
	Version       string `yaml:"version"`
	PageURLPrefix string `yaml:"page_url_prefix"`
	StartText     string `yaml:"start_text"`
}

// KafkaConfig holds the transcript mirror settings.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topic_partial"`
	TopicFinal   string   `yaml:"topic_final"`
	Principal    string   `yaml:"principal"`
}

// RedisConfig holds the cursor snapshot store settings. An empty Addr keeps
// snapshots in memory.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	CursorTTL time.Duration `yaml:"cursor_ttl"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Configuration is the complete process configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Document      DocumentConfig      `yaml:"document"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Defaults returns the built-in configuration.
func Defaults() Configuration {
	return Configuration{
		Service: ServiceConfig{
			Name:        "speech-to-notion",
			Principal:   "svc-speech-to-notion",
			HTTPPort:    "3000",
			GRPCPort:    "50051",
			MetricsPort: "9090",
		},
		STT: STTConfig{
			Strategy:          StrategyLive,
			Provider:          ProviderMock,
			APIURL:            "https://api.gladia.io",
			LiveURL:           "wss://api.gladia.io/audio/text/audio-transcription",
			LanguageCode:      "fr",
			LanguageBehaviour: "automatic single language",
			SampleRateHz:      48000,
			AudioEncoding:     "OPUS",
			InterimResults:    true,
			MinSpeakers:       1,
			MaxSpeakers:       2,
			NumberOfSpeakers:  2,
			PollInterval:      5 * time.Second,
			PollMaxAttempts:   12,
		},
		Document: DocumentConfig{
			APIURL:        "https://api.notion.com",
			Version:       "2022-06-28",
			PageURLPrefix: "https://www.notion.so/",
			StartText:     "Starting transcription...",
		},
		Kafka: KafkaConfig{
			TopicPartial: "speech.transcript.partial",
			TopicFinal:   "speech.transcript.final",
		},
		Redis: RedisConfig{
			KeyPrefix: "speech-to-notion:cursor",
			CursorTTL: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults, CONFIG_FILE, .env and the environment.
// A missing or unreadable config file is reported and ignored.
func Load() *Configuration {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}
	applyEnv(&cfg)
	return &cfg
}

func loadFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(cfg)
}

func applyEnv(cfg *Configuration) {
	s := &cfg.Service
	s.Name = envOrDefault("SERVICE_NAME", s.Name)
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", envOrDefault("PORT", s.HTTPPort))
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.MetricsPort = envOrDefault("METRICS_PORT", s.MetricsPort)

	t := &cfg.STT
	t.Strategy = strings.ToLower(envOrDefault("TRANSCRIPTION_STRATEGY", t.Strategy))
	t.Provider = strings.ToLower(envOrDefault("STT_PROVIDER", t.Provider))
	t.APIKey = envOrDefault("GLADIA_API_KEY", t.APIKey)
	t.APIURL = envOrDefault("GLADIA_API_URL", t.APIURL)
	t.LiveURL = envOrDefault("GLADIA_LIVE_URL", t.LiveURL)
	t.CredentialsFile = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", t.CredentialsFile)
	t.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", t.LanguageCode)
	t.LanguageBehaviour = envOrDefault("STT_LANGUAGE_BEHAVIOUR", t.LanguageBehaviour)
	t.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", t.SampleRateHz)
	t.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", t.AudioEncoding)
	t.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", t.InterimResults)
	t.ContextHint = envOrDefault("STT_CONTEXT_HINT", t.ContextHint)
	t.MinSpeakers = envOrDefaultInt("STT_MIN_SPEAKERS", t.MinSpeakers)
	t.MaxSpeakers = envOrDefaultInt("STT_MAX_SPEAKERS", t.MaxSpeakers)
	t.NumberOfSpeakers = envOrDefaultInt("STT_NUMBER_OF_SPEAKERS", t.NumberOfSpeakers)
	t.PollInterval = envOrDefaultDuration("BATCH_POLL_INTERVAL", t.PollInterval)
	t.PollMaxAttempts = envOrDefaultInt("BATCH_POLL_MAX_ATTEMPTS", t.PollMaxAttempts)

	d := &cfg.Document
	d.APIKey = envOrDefault("NOTION_API_KEY", d.APIKey)
	d.APIURL = envOrDefault("NOTION_API_URL", d.APIURL)
	d.Version = envOrDefault("NOTION_VERSION", d.Version)
	d.PageURLPrefix = envOrDefault("NOTION_PAGE_URL_PREFIX", d.PageURLPrefix)
	d.StartText = envOrDefault("NOTION_START_TEXT", d.StartText)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		k.Brokers = splitList(brokers)
	}
	k.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", k.TopicPartial)
	k.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", k.TopicFinal)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	r := &cfg.Redis
	r.Addr = envOrDefault("REDIS_ADDR", r.Addr)
	r.Password = envOrDefault("REDIS_PASSWORD", r.Password)
	r.DB = envOrDefaultInt("REDIS_DB", r.DB)
	r.KeyPrefix = envOrDefault("REDIS_KEY_PREFIX", r.KeyPrefix)
	r.CursorTTL = envOrDefaultDuration("REDIS_CURSOR_TTL", r.CursorTTL)

	o := &cfg.Observability
	o.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", o.LogLevel))
	o.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", o.LogFormat))
}

// Validate rejects configurations the service cannot run with.
func (c *Configuration) Validate() error {
	switch c.STT.Strategy {
	case StrategyLive, StrategyBatch:
	default:
		return fmt.Errorf("unknown transcription strategy %q (want %s or %s)", c.STT.Strategy, StrategyLive, StrategyBatch)
	}

	switch c.STT.Provider {
	case ProviderGladia:
		if c.STT.APIKey == "" {
			return fmt.Errorf("GLADIA_API_KEY is required for provider %s", ProviderGladia)
		}
	case ProviderGoogle:
		if c.STT.Strategy == StrategyBatch {
			return fmt.Errorf("provider %s only supports the %s strategy", ProviderGoogle, StrategyLive)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown STT provider %q", c.STT.Provider)
	}

	if c.STT.PollMaxAttempts <= 0 {
		return fmt.Errorf("BATCH_POLL_MAX_ATTEMPTS must be positive, got %d", c.STT.PollMaxAttempts)
	}
	if c.STT.MinSpeakers > c.STT.MaxSpeakers {
		return fmt.Errorf("STT_MIN_SPEAKERS (%d) exceeds STT_MAX_SPEAKERS (%d)", c.STT.MinSpeakers, c.STT.MaxSpeakers)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
