package narrate

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Advisory story length bounds requested in the prompt.
const (
	MinStoryWords = 30
	MaxStoryWords = 40
)

// StoryStats describes a generated story.
type StoryStats struct {
	Words    int
	Language lingua.Language
	// Detected is false when the language could not be determined reliably.
	Detected bool
}

// WithinLength reports whether the word count falls inside the requested range.
func (s StoryStats) WithinLength() bool {
	return s.Words >= MinStoryWords && s.Words <= MaxStoryWords
}

// IsEnglish reports whether the story was detected as English. Undetected
// stories are treated as English.
func (s StoryStats) IsEnglish() bool {
	return !s.Detected || s.Language == lingua.English
}

// Inspector measures stories. Building the detector loads language models,
// so one Inspector should be reused.
type Inspector struct {
	detector lingua.LanguageDetector
}

// NewInspector builds an Inspector limited to the languages a chat model is
// likely to drift into.
func NewInspector() *Inspector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(lingua.English, lingua.French, lingua.German, lingua.Spanish, lingua.Italian, lingua.Portuguese).
		Build()

	return &Inspector{detector: detector}
}

// Inspect counts words and detects the language of a story.
func (i *Inspector) Inspect(story string) StoryStats {
	language, detected := i.detector.DetectLanguageOf(story)

	return StoryStats{
		Words:    len(strings.Fields(story)),
		Language: language,
		Detected: detected,
	}
}
