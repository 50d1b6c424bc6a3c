package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is built once at startup and passed by reference. Test suites
// construct fixtures with Default() and override what they need.
type Config struct {
	MaxUploadBytes         int64    `yaml:"max_upload_bytes"`
	AllowedExtensions      []string `yaml:"allowed_extensions"`
	PresignedURLTTLSeconds int      `yaml:"presigned_url_ttl_s"`

	AudioChunkThresholdBytes    int64 `yaml:"audio_chunk_threshold_bytes"`
	MaxConcurrentTranscriptions int   `yaml:"max_concurrent_transcriptions"`

	Storage     StorageConfig     `yaml:"storage"`
	Compression CompressionConfig `yaml:"compression"`
	Speech      SpeechConfig      `yaml:"speech"`
	Notes       NotesConfig       `yaml:"notes"`
	Jobs        JobsConfig        `yaml:"jobs"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Path-style addressing for MinIO-flavored stores.
	ForcePathStyle bool `yaml:"force_path_style"`
}

type CompressionConfig struct {
	CRF            int    `yaml:"crf"`
	MaxWidth       int    `yaml:"max_w"`
	MaxHeight      int    `yaml:"max_h"`
	MaxFPS         int    `yaml:"max_fps"`
	AudioKbps      int    `yaml:"audio_kbps"`
	Preset         string `yaml:"preset"`
	SkipAboveBytes int64  `yaml:"skip_above_bytes"`
}

type SpeechConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	PrimaryModel  string `yaml:"primary_model"`
	FallbackModel string `yaml:"fallback_model"`
	MaxRetries    int    `yaml:"max_retries"`
	Language      string `yaml:"language"`

	CallTimeout time.Duration `yaml:"call_timeout"`
}

type NotesConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	DisableReasoning bool   `yaml:"disable_reasoning"`

	CallTimeout time.Duration `yaml:"call_timeout"`
}

type JobsConfig struct {
	RedisAddr  string        `yaml:"redis_addr"`
	QueueName  string        `yaml:"queue_name"`
	WorkerPoll time.Duration `yaml:"worker_poll"`

	OverallTimeout  time.Duration `yaml:"overall_timeout"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	MediaTimeout    time.Duration `yaml:"media_timeout"`
}

func Default() *Config {
	return &Config{
		MaxUploadBytes:              500 << 20,
		AllowedExtensions:           []string{"mp4", "mov", "avi", "mkv"},
		PresignedURLTTLSeconds:      3600,
		AudioChunkThresholdBytes:    25 << 20,
		MaxConcurrentTranscriptions: 3,
		Storage: StorageConfig{
			Region:         "us-east-1",
			Bucket:         "clipnote-videos",
			ForcePathStyle: true,
		},
		Compression: CompressionConfig{
			CRF:            26,
			MaxWidth:       1920,
			MaxHeight:      1080,
			MaxFPS:         30,
			AudioKbps:      128,
			Preset:         "medium",
			SkipAboveBytes: 1 << 30,
		},
		Speech: SpeechConfig{
			BaseURL:       "https://api.openai.com",
			PrimaryModel:  "gpt-4o-transcribe",
			FallbackModel: "whisper-1",
			MaxRetries:    3,
			CallTimeout:   5 * time.Minute,
		},
		Notes: NotesConfig{
			BaseURL:          "https://api.openai.com",
			Model:            "gpt-4o-mini",
			DisableReasoning: true,
			CallTimeout:      3 * time.Minute,
		},
		Jobs: JobsConfig{
			QueueName:       "clipnote:jobs:process",
			WorkerPoll:      5 * time.Second,
			OverallTimeout:  1 * time.Hour,
			TransferTimeout: 10 * time.Minute,
			MediaTimeout:    20 * time.Minute,
		},
	}
}

// Load reads the optional YAML document named by CONFIG_FILE and applies
// environment overrides for deployment secrets.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("STORAGE_ENDPOINT")); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_REGION")); v != "" {
		cfg.Storage.Region = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_BUCKET")); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_ACCESS_KEY")); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_SECRET_KEY")); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SPEECH_API_KEY")); v != "" {
		cfg.Speech.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SPEECH_BASE_URL")); v != "" {
		cfg.Speech.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("NOTES_API_KEY")); v != "" {
		cfg.Notes.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("NOTES_BASE_URL")); v != "" {
		cfg.Notes.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Jobs.RedisAddr = v
	}
}

func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed_extensions must not be empty")
	}
	if c.PresignedURLTTLSeconds <= 0 {
		return fmt.Errorf("presigned_url_ttl_s must be positive")
	}
	if c.MaxConcurrentTranscriptions <= 0 {
		return fmt.Errorf("max_concurrent_transcriptions must be positive")
	}
	if c.AudioChunkThresholdBytes <= 0 {
		return fmt.Errorf("audio_chunk_threshold_bytes must be positive")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket required")
	}
	if c.Jobs.OverallTimeout <= 0 {
		return fmt.Errorf("jobs.overall_timeout must be positive")
	}
	return nil
}

func (c *Config) PresignedTTL() time.Duration {
	return time.Duration(c.PresignedURLTTLSeconds) * time.Second
}

// ExtensionAllowed reports whether the lowercase extension (without dot)
// is on the upload allow-list.
func (c *Config) ExtensionAllowed(ext string) bool {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	for _, allowed := range c.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}
