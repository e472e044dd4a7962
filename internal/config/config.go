package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in ServiceConfig.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ServiceConfig stores the remote translation service settings.
type ServiceConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	Voice            string `yaml:"voice"`
	InputSampleRate  int    `yaml:"input_sample_rate"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	SendQueue        int    `yaml:"send_queue"`
}

// LanguagesConfig stores the language code spoken by each party.
type LanguagesConfig struct {
	User  string `yaml:"user"`
	Guest string `yaml:"guest"`
}

// RoutingConfig stores the transcript routing tags.
type RoutingConfig struct {
	UserTag               string `yaml:"user_tag"`
	GuestTag              string `yaml:"guest_tag"`
	ClearOppositeOnSwitch bool   `yaml:"clear_opposite_on_switch"`
	MaxScratchBytes       int    `yaml:"max_scratch_bytes"`
}

// AudioConfig stores device and capture settings.
type AudioConfig struct {
	InputDevice        string  `yaml:"input_device"`
	OutputDevice       string  `yaml:"output_device"`
	EchoCancellation   bool    `yaml:"echo_cancellation"`
	NoiseGateThreshold float32 `yaml:"noise_gate_threshold"`
	FramesPerBuffer    int     `yaml:"frames_per_buffer"`
}

// ReconnectConfig stores the policy for unexpected disconnects.
type ReconnectConfig struct {
	Enabled      bool          `yaml:"enabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// DevicesConfig stores device watching settings.
type DevicesConfig struct {
	WatchInterval     time.Duration `yaml:"watch_interval"`
	Debounce          time.Duration `yaml:"debounce"`
	PreferredKeywords []string      `yaml:"preferred_keywords"`
}

// ServerConfig stores the local control API settings.
type ServerConfig struct {
	Enabled               bool    `yaml:"enabled"`
	Address               string  `yaml:"address"`
	LevelUpdatesPerSecond float64 `yaml:"level_updates_per_second"`
}

// Config stores the application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	AutoStart bool            `yaml:"auto_start"`
	Service   ServiceConfig   `yaml:"service"`
	Languages LanguagesConfig `yaml:"languages"`
	Routing   RoutingConfig   `yaml:"routing"`
	Audio     AudioConfig     `yaml:"audio"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Devices   DevicesConfig   `yaml:"devices"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		LogLevel: "info",
		Service: ServiceConfig{
			Provider:         ProviderGemini,
			OutputSampleRate: 24_000,
			SendQueue:        8,
		},
		Languages: LanguagesConfig{User: "en", Guest: "th"},
		Routing: RoutingConfig{
			UserTag:         "[USER_UI]",
			GuestTag:        "[GUEST_UI]",
			MaxScratchBytes: 4096,
		},
		Audio: AudioConfig{
			EchoCancellation:   true,
			NoiseGateThreshold: 0.01,
			FramesPerBuffer:    4096,
		},
		Reconnect: ReconnectConfig{
			Enabled:      true,
			InitialDelay: 1500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			MaxAttempts:  5,
		},
		Devices: DevicesConfig{
			WatchInterval:     2 * time.Second,
			Debounce:          500 * time.Millisecond,
			PreferredKeywords: []string{"bluetooth", "headset"},
		},
		Server: ServerConfig{
			Enabled:               true,
			Address:               "127.0.0.1:8089",
			LevelUpdatesPerSecond: 15,
		},
	}
}

// LoadConfig loads the configuration from the given file path.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults, fills provider dependent values and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyProviderDefaults() {
	if c.Service.APIKey == "" {
		switch c.Service.Provider {
		case ProviderGemini:
			c.Service.APIKey = os.Getenv("GEMINI_API_KEY")
		case ProviderOpenAI:
			c.Service.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if c.Service.InputSampleRate == 0 {
		if c.Service.Provider == ProviderOpenAI {
			c.Service.InputSampleRate = 24_000
		} else {
			c.Service.InputSampleRate = 16_000
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var errs []error

	switch c.Service.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("service.provider must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.Service.Provider))
	}
	if c.Service.APIKey == "" {
		errs = append(errs, errors.New("service.api_key is required"))
	}
	if c.Service.InputSampleRate <= 0 || c.Service.OutputSampleRate <= 0 {
		errs = append(errs, errors.New("service sample rates must be positive"))
	}
	if c.Routing.UserTag == "" || c.Routing.GuestTag == "" {
		errs = append(errs, errors.New("routing tags must not be empty"))
	}
	if c.Routing.UserTag == c.Routing.GuestTag {
		errs = append(errs, errors.New("routing tags must differ"))
	}
	if c.Audio.NoiseGateThreshold < 0 || c.Audio.NoiseGateThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.noise_gate_threshold must be within [0,1], got %v", c.Audio.NoiseGateThreshold))
	}
	if c.Reconnect.Enabled && c.Reconnect.InitialDelay <= 0 {
		errs = append(errs, errors.New("reconnect.initial_delay must be positive"))
	}
	if c.Server.Enabled && c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required when the server is enabled"))
	}

	return errors.Join(errs...)
}
