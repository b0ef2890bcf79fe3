// Package config provides the configuration structure for the story-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Default values applied by ApplyDefaults.
const (
	DefaultCaptionEndpoint       = "https://api-inference.huggingface.co/models/Salesforce/blip-image-captioning-base"
	DefaultSpeechEndpoint        = "https://api-inference.huggingface.co/models/espnet/kan-bayashi_ljspeech_vits"
	DefaultNarratorModel         = "gpt-3.5-turbo"
	DefaultNarratorTemperature   = 1.0
	DefaultTimeoutSeconds        = 60
	DefaultSynthesizerMaxRetries = 1
	DefaultArtifactPath          = "audio.flac"
	DefaultHuggingFaceTokenEnv   = "HUGGINGFACEHUB_API_TOKEN"
	DefaultOpenAIKeyEnv          = "OPENAI_API_KEY"
	DefaultRequestSubject        = "story.requested"
	DefaultCompletedSubject      = "story.completed"
	DefaultImageBucket           = "STORY_IMAGES"
	DefaultAudioBucket           = "STORY_AUDIO"
	DefaultAudioKey              = "audio.flac"
	dirPermissions               = 0o750
	maxSynthesizerRetries        = 3
	maxNarratorTemperature       = 2.0
)

var (
	// ErrEndpointEmpty indicates that a model endpoint is missing.
	ErrEndpointEmpty = errors.New("endpoint cannot be empty")
	// ErrTimeoutNegative indicates a negative timeout.
	ErrTimeoutNegative = errors.New("timeout_seconds must be non-negative")
	// ErrRetriesRange indicates that max_retries is out of range.
	ErrRetriesRange = errors.New("max_retries must be between 0 and 3")
	// ErrTemperatureRange indicates that the narrator temperature is out of range.
	ErrTemperatureRange = errors.New("temperature must be between 0.0 and 2.0")
	// ErrArtifactPathEmpty indicates that no artifact path is configured.
	ErrArtifactPathEmpty = errors.New("artifact_path cannot be empty")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	StoryRequestedSubject  string `toml:"story_requested_subject"`
	StoryCompletedSubject  string `toml:"story_completed_subject"`
	ImageObjectStoreBucket string `toml:"image_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	AudioKey               string `toml:"audio_key"`
}

// CaptionerConfig holds the image-to-text endpoint settings.
type CaptionerConfig struct {
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// NarratorConfig holds the chat-completion settings.
type NarratorConfig struct {
	Model          string  `toml:"model"`
	BaseURL        string  `toml:"base_url"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// SynthesizerConfig holds the text-to-speech endpoint settings.
type SynthesizerConfig struct {
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
	// ValidateAudio rejects non-audio 200 responses. Disabling it writes the
	// response body to the artifact unchecked.
	ValidateAudio bool `toml:"validate_audio"`
	// NormalizeText rewrites the story into plain prose before sending it.
	NormalizeText bool `toml:"normalize_text"`
}

// CredentialsConfig names the environment variables that hold secrets.
type CredentialsConfig struct {
	HuggingFaceTokenEnv string `toml:"hugging_face_token_env"`
	OpenAIKeyEnv        string `toml:"openai_api_key_env"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir  string `toml:"base_logs_dir"`
	ArtifactPath string `toml:"artifact_path"`
}

// Config is the root configuration structure.
type Config struct {
	NATS        NATSConfig        `toml:"nats"`
	Captioner   CaptionerConfig   `toml:"captioner"`
	Narrator    NarratorConfig    `toml:"narrator"`
	Synthesizer SynthesizerConfig `toml:"synthesizer"`
	Credentials CredentialsConfig `toml:"credentials"`
	Paths       PathsConfig       `toml:"paths"`
}

// Load loads the configuration for the story-service.
func Load(log *logger.Logger) (*Config, error) {
	cfg := seeded()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile decodes a TOML file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := seeded()

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return finish(&cfg)
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	cfg := seeded()

	cfg.ApplyDefaults()

	return &cfg
}

// seeded returns a Config holding the defaults whose zero value is also a
// legal explicit setting, so decoding only overrides keys that are present.
func seeded() Config {
	return Config{
		Narrator: NarratorConfig{
			Temperature: DefaultNarratorTemperature,
		},
		Synthesizer: SynthesizerConfig{
			MaxRetries:    DefaultSynthesizerMaxRetries,
			ValidateAudio: true,
		},
	}
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.NATS.StoryRequestedSubject == "" {
		c.NATS.StoryRequestedSubject = DefaultRequestSubject
	}

	if c.NATS.StoryCompletedSubject == "" {
		c.NATS.StoryCompletedSubject = DefaultCompletedSubject
	}

	if c.NATS.ImageObjectStoreBucket == "" {
		c.NATS.ImageObjectStoreBucket = DefaultImageBucket
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = DefaultAudioBucket
	}

	if c.NATS.AudioKey == "" {
		c.NATS.AudioKey = DefaultAudioKey
	}

	if c.Captioner.Endpoint == "" {
		c.Captioner.Endpoint = DefaultCaptionEndpoint
	}

	if c.Captioner.TimeoutSeconds == 0 {
		c.Captioner.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Narrator.Model == "" {
		c.Narrator.Model = DefaultNarratorModel
	}

	if c.Narrator.TimeoutSeconds == 0 {
		c.Narrator.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Synthesizer.Endpoint == "" {
		c.Synthesizer.Endpoint = DefaultSpeechEndpoint
	}

	if c.Synthesizer.TimeoutSeconds == 0 {
		c.Synthesizer.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Credentials.HuggingFaceTokenEnv == "" {
		c.Credentials.HuggingFaceTokenEnv = DefaultHuggingFaceTokenEnv
	}

	if c.Credentials.OpenAIKeyEnv == "" {
		c.Credentials.OpenAIKeyEnv = DefaultOpenAIKeyEnv
	}

	if c.Paths.ArtifactPath == "" {
		c.Paths.ArtifactPath = DefaultArtifactPath
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Validate ensures that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.Captioner.Endpoint == "" {
		return fmt.Errorf("captioner: %w", ErrEndpointEmpty)
	}

	if c.Synthesizer.Endpoint == "" {
		return fmt.Errorf("synthesizer: %w", ErrEndpointEmpty)
	}

	for name, seconds := range map[string]int{
		"captioner":   c.Captioner.TimeoutSeconds,
		"narrator":    c.Narrator.TimeoutSeconds,
		"synthesizer": c.Synthesizer.TimeoutSeconds,
	} {
		if seconds < 0 {
			return fmt.Errorf("%s: %w: got %d", name, ErrTimeoutNegative, seconds)
		}
	}

	if c.Synthesizer.MaxRetries < 0 || c.Synthesizer.MaxRetries > maxSynthesizerRetries {
		return fmt.Errorf("%w: got %d", ErrRetriesRange, c.Synthesizer.MaxRetries)
	}

	if c.Narrator.Temperature < 0 || c.Narrator.Temperature > maxNarratorTemperature {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, c.Narrator.Temperature)
	}

	if c.Paths.ArtifactPath == "" {
		return ErrArtifactPathEmpty
	}

	return nil
}

// EnsureDirectories creates the log directory and the artifact's parent
// directory when they do not exist.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BaseLogsDir, filepath.Dir(c.Paths.ArtifactPath)} {
		if dir == "" || dir == "." {
			continue
		}

		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}

	return nil
}

// Timeout converts a seconds setting into a duration.
func Timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
