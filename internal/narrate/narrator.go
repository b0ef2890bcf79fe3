// Package narrate generates short stories from image scenarios with a chat
// completion model.
package narrate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/book-expert/story-service/internal/core"
	openai "github.com/sashabaranov/go-openai"
)

// PromptTemplate is the fixed story prompt. The scenario replaces
// scenarioPlaceholder verbatim.
const PromptTemplate = `
You are a story teller;
You can generate a short story based on the following scenario: {scenario}, the story should be between 30 and 40 words long.
`

const scenarioPlaceholder = "{scenario}"

var (
	errNoChoices    = errors.New("completion returned no choices")
	errBlankContent = errors.New("completion returned blank content")
)

// ChatCompleter is the subset of the OpenAI client used by the Narrator.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds the generation settings.
type Config struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Narrator turns scenarios into stories.
type Narrator struct {
	client ChatCompleter
	cfg    Config
}

// New creates a Narrator around an existing chat client.
func New(client ChatCompleter, cfg Config) *Narrator {
	return &Narrator{client: client, cfg: cfg}
}

// NewOpenAI creates a Narrator backed by the OpenAI API. An empty baseURL
// keeps the library default.
func NewOpenAI(apiKey, baseURL string, cfg Config) *Narrator {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	return New(openai.NewClientWithConfig(clientCfg), cfg)
}

// BuildPrompt substitutes the scenario into the story template.
func BuildPrompt(scenario string) string {
	return strings.Replace(PromptTemplate, scenarioPlaceholder, scenario, 1)
}

// wireTemperature keeps an explicit zero on the wire. The request field is
// omitempty, so 0 would otherwise fall back to the provider default of 1.
func wireTemperature(temperature float32) float32 {
	if temperature == 0 {
		return math.SmallestNonzeroFloat32
	}

	return temperature
}

// Narrate generates a story for the scenario. Sampling is deliberately
// random, so repeated calls may return different stories.
func (n *Narrator) Narrate(ctx context.Context, scenario string) (string, error) {
	if strings.TrimSpace(scenario) == "" {
		return "", core.ErrScenarioEmpty
	}

	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: n.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildPrompt(scenario),
			},
		},
		Temperature: wireTemperature(n.cfg.Temperature),
	}

	resp, err := n.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", core.NewExternalModelError(core.StageNarrate, fmt.Errorf("error creating chat completion: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", core.NewExternalModelError(core.StageNarrate, errNoChoices)
	}

	story := strings.TrimSpace(resp.Choices[0].Message.Content)
	if story == "" {
		return "", core.NewExternalModelError(core.StageNarrate, errBlankContent)
	}

	return story, nil
}
