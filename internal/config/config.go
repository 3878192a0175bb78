package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration, resolved from environment
// variables with sensible field-clinic defaults.
type Config struct {
	ServerAddr      string `mapstructure:"VETCHART_SERVER_ADDR"`
	LogLevel        string `mapstructure:"VETCHART_LOG_LEVEL"`
	LogFormat       string `mapstructure:"VETCHART_LOG_FORMAT"`
	DefaultLanguage string `mapstructure:"VETCHART_LANGUAGE"`

	DeepgramAPIKey      string `mapstructure:"DEEPGRAM_API_KEY"`
	DeepgramBaseURL     string `mapstructure:"DEEPGRAM_API_BASE"`
	DeepgramModel       string `mapstructure:"DEEPGRAM_MODEL"`
	DeepgramLanguage    string `mapstructure:"DEEPGRAM_LANGUAGE"`
	DeepgramSmartFormat bool   `mapstructure:"DEEPGRAM_SMART_FORMAT"`

	SoapAIBaseURL string `mapstructure:"VETCHART_SOAPAI_BASE"`
	SoapAIAPIKey  string `mapstructure:"VETCHART_SOAPAI_KEY"`

	ClinicAPIBaseURL string `mapstructure:"VETCHART_CLINIC_API_BASE"`
	ClinicAPIKey     string `mapstructure:"VETCHART_CLINIC_API_KEY"`

	FFmpegCommand    string `mapstructure:"VETCHART_FFMPEG_COMMAND"`
	AudioInputFormat string `mapstructure:"VETCHART_AUDIO_INPUT_FORMAT"`
	AudioInputDevice string `mapstructure:"VETCHART_AUDIO_INPUT_DEVICE"`
	AudioSampleRate  int    `mapstructure:"VETCHART_SAMPLE_RATE"`
	AudioChannels    int    `mapstructure:"VETCHART_CHANNELS"`
	AudioChunkSize   int    `mapstructure:"VETCHART_AUDIO_CHUNK_SIZE"`
	StreamingGraceMS int    `mapstructure:"VETCHART_STREAMING_GRACE_MS"`

	CameraInputFormat string `mapstructure:"VETCHART_CAMERA_INPUT_FORMAT"`
	CameraInputDevice string `mapstructure:"VETCHART_CAMERA_INPUT_DEVICE"`
	CameraWidth       int    `mapstructure:"VETCHART_CAMERA_WIDTH"`
	CameraHeight      int    `mapstructure:"VETCHART_CAMERA_HEIGHT"`
	CameraFrameRate   int    `mapstructure:"VETCHART_CAMERA_FRAMERATE"`

	RulesPath      string `mapstructure:"VETCHART_RULES_FILE"`
	RulesPassLimit int    `mapstructure:"VETCHART_RULE_PASS_LIMIT"`
}

// StreamingGrace is how long to keep the recognition stream open after the
// microphone stops, letting trailing results arrive.
func (c *Config) StreamingGrace() time.Duration {
	if c.StreamingGraceMS < 0 {
		return 0
	}
	return time.Duration(c.StreamingGraceMS) * time.Millisecond
}

var boundKeys = []string{
	"VETCHART_SERVER_ADDR",
	"VETCHART_LOG_LEVEL",
	"VETCHART_LOG_FORMAT",
	"VETCHART_LANGUAGE",
	"DEEPGRAM_API_KEY",
	"DEEPGRAM_API_BASE",
	"DEEPGRAM_MODEL",
	"DEEPGRAM_LANGUAGE",
	"DEEPGRAM_SMART_FORMAT",
	"VETCHART_SOAPAI_BASE",
	"VETCHART_SOAPAI_KEY",
	"VETCHART_CLINIC_API_BASE",
	"VETCHART_CLINIC_API_KEY",
	"VETCHART_FFMPEG_COMMAND",
	"VETCHART_AUDIO_INPUT_FORMAT",
	"VETCHART_AUDIO_INPUT_DEVICE",
	"VETCHART_SAMPLE_RATE",
	"VETCHART_CHANNELS",
	"VETCHART_AUDIO_CHUNK_SIZE",
	"VETCHART_STREAMING_GRACE_MS",
	"VETCHART_CAMERA_INPUT_FORMAT",
	"VETCHART_CAMERA_INPUT_DEVICE",
	"VETCHART_CAMERA_WIDTH",
	"VETCHART_CAMERA_HEIGHT",
	"VETCHART_CAMERA_FRAMERATE",
	"VETCHART_RULES_FILE",
	"VETCHART_RULE_PASS_LIMIT",
}

// Load resolves configuration from the environment, optionally seeded by a
// .env file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("VETCHART_SERVER_ADDR", ":8700")
	v.SetDefault("VETCHART_LOG_LEVEL", "info")
	v.SetDefault("VETCHART_LOG_FORMAT", "json")
	v.SetDefault("VETCHART_LANGUAGE", "ja")
	v.SetDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1")
	v.SetDefault("DEEPGRAM_MODEL", "nova-2")
	v.SetDefault("DEEPGRAM_SMART_FORMAT", true)
	v.SetDefault("VETCHART_FFMPEG_COMMAND", "ffmpeg")
	v.SetDefault("VETCHART_AUDIO_INPUT_FORMAT", "pulse")
	v.SetDefault("VETCHART_AUDIO_INPUT_DEVICE", "default")
	v.SetDefault("VETCHART_SAMPLE_RATE", 16000)
	v.SetDefault("VETCHART_CHANNELS", 1)
	v.SetDefault("VETCHART_AUDIO_CHUNK_SIZE", 4096)
	v.SetDefault("VETCHART_STREAMING_GRACE_MS", 1000)
	v.SetDefault("VETCHART_CAMERA_INPUT_FORMAT", "v4l2")
	v.SetDefault("VETCHART_CAMERA_INPUT_DEVICE", "/dev/video0")
	v.SetDefault("VETCHART_CAMERA_WIDTH", 1280)
	v.SetDefault("VETCHART_CAMERA_HEIGHT", 720)
	v.SetDefault("VETCHART_CAMERA_FRAMERATE", 10)
	v.SetDefault("VETCHART_RULE_PASS_LIMIT", 30)

	// Bind env vars explicitly so Unmarshal picks them up.
	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}

	// A .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.AudioSampleRate <= 0 {
		cfg.AudioSampleRate = 16000
	}
	if cfg.AudioChannels <= 0 {
		cfg.AudioChannels = 1
	}
	if cfg.AudioChunkSize < 256 {
		cfg.AudioChunkSize = 4096
	}
	if cfg.RulesPassLimit <= 0 {
		cfg.RulesPassLimit = 30
	}
	if lang := strings.ToLower(strings.TrimSpace(cfg.DefaultLanguage)); lang == "en" {
		cfg.DefaultLanguage = "en"
	} else {
		cfg.DefaultLanguage = "ja"
	}

	return cfg, nil
}
