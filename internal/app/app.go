// Package app wires configuration, credentials and the pipeline stages
// together for the binaries.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-service/internal/caption"
	"github.com/book-expert/story-service/internal/config"
	"github.com/book-expert/story-service/internal/core"
	"github.com/book-expert/story-service/internal/narrate"
	"github.com/book-expert/story-service/internal/pipeline"
	"github.com/book-expert/story-service/internal/synth"
	"github.com/joho/godotenv"
)

// Credentials holds the secrets read at startup.
type Credentials struct {
	HuggingFaceToken string
	OpenAIKey        string
}

// LoadCredentials reads dotenv files, then the environment variables named in
// the configuration. With no files given the default .env is optional;
// files named explicitly must exist.
func LoadCredentials(cfg *config.Config, envFiles ...string) (Credentials, error) {
	err := godotenv.Load(envFiles...)
	if err != nil && (len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist)) {
		return Credentials{}, fmt.Errorf("failed to load env file: %w", err)
	}

	return Credentials{
		HuggingFaceToken: os.Getenv(cfg.Credentials.HuggingFaceTokenEnv),
		OpenAIKey:        os.Getenv(cfg.Credentials.OpenAIKeyEnv),
	}, nil
}

// WarnMissing logs credentials that are absent. Missing values are not
// rejected; the provider's authentication error surfaces on first use.
func (c Credentials) WarnMissing(cfg *config.Config, log *logger.Logger) {
	if c.HuggingFaceToken == "" {
		log.Warn("%s is not set; captioning and speech requests will be unauthenticated",
			cfg.Credentials.HuggingFaceTokenEnv)
	}

	if c.OpenAIKey == "" {
		log.Warn("%s is not set; story generation will fail to authenticate", cfg.Credentials.OpenAIKeyEnv)
	}
}

// Stages bundles the three model clients.
type Stages struct {
	Captioner   *caption.Client
	Narrator    *narrate.Narrator
	Synthesizer *synth.Client
}

// NewStages builds the model clients from configuration.
func NewStages(cfg *config.Config, creds Credentials, log *logger.Logger) Stages {
	return Stages{
		Captioner: caption.NewClient(
			cfg.Captioner.Endpoint,
			creds.HuggingFaceToken,
			config.Timeout(cfg.Captioner.TimeoutSeconds),
		),
		Narrator: narrate.NewOpenAI(creds.OpenAIKey, cfg.Narrator.BaseURL, narrate.Config{
			Model:       cfg.Narrator.Model,
			Temperature: float32(cfg.Narrator.Temperature),
			Timeout:     config.Timeout(cfg.Narrator.TimeoutSeconds),
		}),
		Synthesizer: synth.NewClient(synth.Options{
			Endpoint:      cfg.Synthesizer.Endpoint,
			Token:         creds.HuggingFaceToken,
			Timeout:       config.Timeout(cfg.Synthesizer.TimeoutSeconds),
			MaxRetries:    cfg.Synthesizer.MaxRetries,
			ValidateAudio: cfg.Synthesizer.ValidateAudio,
			NormalizeText: cfg.Synthesizer.NormalizeText,
		}, log),
	}
}

// NewPipeline assembles the pipeline around the stages and an artifact store.
func NewPipeline(
	stages Stages,
	artifacts core.ArtifactStore,
	log *logger.Logger,
	opts ...pipeline.Option,
) *pipeline.Pipeline {
	opts = append([]pipeline.Option{pipeline.WithInspector(narrate.NewInspector())}, opts...)

	return pipeline.New(stages.Captioner, stages.Narrator, stages.Synthesizer, artifacts, log, opts...)
}
