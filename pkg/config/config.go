package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"voicemesh/pkg/validation"
)

type Config struct {
	Signaling struct {
		URL              string        `yaml:"url"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		ReconnectMaxWait time.Duration `yaml:"reconnect_max_wait"`
		MessagesPerSec   float64       `yaml:"messages_per_second"`
		MessageBurst     int           `yaml:"message_burst"`
	} `yaml:"signaling"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		UserID    string        `yaml:"user_id"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	} `yaml:"webrtc"`

	Media struct {
		VideoWidth     int    `yaml:"video_width"`
		VideoHeight    int    `yaml:"video_height"`
		FrameRate      int    `yaml:"frame_rate"`
		VideoBitrate   int    `yaml:"video_bitrate"` // kbps
		AudioBitrate   int    `yaml:"audio_bitrate"` // kbps
		DefaultQuality string `yaml:"default_quality"`
	} `yaml:"media"`

	Quality struct {
		SampleInterval     time.Duration `yaml:"sample_interval"`
		PacketLossLow      float64       `yaml:"packet_loss_low"`
		PacketLossMedium   float64       `yaml:"packet_loss_medium"`
		PacketLossHigh     float64       `yaml:"packet_loss_high"`
		RTTWarning         time.Duration `yaml:"rtt_warning"`
		RTTCritical        time.Duration `yaml:"rtt_critical"`
		MinAdvisoryGap     time.Duration `yaml:"min_advisory_gap"`
		HysteresisFraction float64       `yaml:"hysteresis_fraction"`
	} `yaml:"quality"`

	Invites struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"invites"`

	Ops struct {
		Enabled           bool    `yaml:"enabled"`
		Address           string  `yaml:"address"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"ops"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if err := validation.ValidateSignalingURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.PongTimeout <= 0 {
		return fmt.Errorf("signaling.pong_timeout must be > 0")
	}
	if c.Signaling.WriteTimeout <= 0 {
		return fmt.Errorf("signaling.write_timeout must be > 0")
	}
	if c.Signaling.MessagesPerSec <= 0 {
		return fmt.Errorf("signaling.messages_per_second must be > 0")
	}
	if c.Signaling.MessageBurst <= 0 {
		return fmt.Errorf("signaling.message_burst must be > 0")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.WebRTC.NegotiationTimeout <= 0 {
		return fmt.Errorf("webrtc.negotiation_timeout must be > 0")
	}

	if err := validation.ValidateBitrate(c.Media.VideoBitrate); err != nil {
		return fmt.Errorf("media.video_bitrate: %w", err)
	}
	if err := validation.ValidateQuality(c.Media.DefaultQuality); err != nil {
		return fmt.Errorf("media.default_quality: %w", err)
	}
	if c.Media.FrameRate <= 0 {
		return fmt.Errorf("media.frame_rate must be > 0")
	}

	if c.Quality.SampleInterval <= 0 {
		return fmt.Errorf("quality.sample_interval must be > 0")
	}
	if !(c.Quality.PacketLossLow < c.Quality.PacketLossMedium &&
		c.Quality.PacketLossMedium < c.Quality.PacketLossHigh) {
		return fmt.Errorf("quality packet loss thresholds must be strictly increasing")
	}
	if c.Quality.RTTWarning <= 0 || c.Quality.RTTCritical <= c.Quality.RTTWarning {
		return fmt.Errorf("quality.rtt_critical must be > quality.rtt_warning > 0")
	}

	if c.Invites.TTL <= 0 {
		return fmt.Errorf("invites.ttl must be > 0")
	}

	if c.Ops.Enabled && c.Ops.Address == "" {
		return fmt.Errorf("ops.address must not be empty when ops.enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signaling.URL = "ws://localhost:8081/ws"
	cfg.Signaling.PingInterval = 30 * time.Second
	cfg.Signaling.PongTimeout = 60 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.ReconnectMaxWait = 30 * time.Second
	cfg.Signaling.MessagesPerSec = 50
	cfg.Signaling.MessageBurst = 100

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 15 * time.Minute

	cfg.WebRTC.NegotiationTimeout = 15 * time.Second

	cfg.Media.VideoWidth = 640
	cfg.Media.VideoHeight = 480
	cfg.Media.FrameRate = 30
	cfg.Media.VideoBitrate = 1000
	cfg.Media.AudioBitrate = 32
	cfg.Media.DefaultQuality = "auto"

	cfg.Quality.SampleInterval = 5 * time.Second
	cfg.Quality.PacketLossLow = 0.02
	cfg.Quality.PacketLossMedium = 0.05
	cfg.Quality.PacketLossHigh = 0.10
	cfg.Quality.RTTWarning = 150 * time.Millisecond
	cfg.Quality.RTTCritical = 300 * time.Millisecond
	cfg.Quality.MinAdvisoryGap = 10 * time.Second
	cfg.Quality.HysteresisFraction = 0.15

	cfg.Invites.TTL = 30 * time.Second

	cfg.Ops.Enabled = true
	cfg.Ops.Address = ":9090"
	cfg.Ops.RequestsPerSecond = 20
	cfg.Ops.Burst = 40
	cfg.Ops.MaxConcurrent = 64

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "voicemesh"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("VOICEMESH_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if level := os.Getenv("VOICEMESH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("VOICEMESH_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if user := os.Getenv("VOICEMESH_USER_ID"); user != "" {
		c.Auth.UserID = user
	}
}
