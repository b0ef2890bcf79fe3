package core

import (
	"errors"
	"fmt"
)

// Stage names used in errors and results.
const (
	StageCaption    = "caption"
	StageNarrate    = "narrate"
	StageSynthesize = "synthesize"
)

var (
	// ErrUnsupportedImage indicates that the image is not a JPEG.
	ErrUnsupportedImage = errors.New("unsupported image format: expected JPEG")
	// ErrScenarioEmpty indicates that the scenario text is blank.
	ErrScenarioEmpty = errors.New("scenario cannot be empty")
	// ErrStoryEmpty indicates that the story text is blank.
	ErrStoryEmpty = errors.New("story cannot be empty")
	// ErrNotAudio indicates that the speech endpoint answered with a payload that is not audio.
	ErrNotAudio = errors.New("speech response is not audio")
	// ErrArtifactEmpty indicates an attempt to store an empty audio artifact.
	ErrArtifactEmpty = errors.New("audio artifact cannot be empty")
)

// ExternalModelError reports that a model provider was unreachable, rejected
// the request, or returned an unusable result.
type ExternalModelError struct {
	Stage string
	Err   error
}

// NewExternalModelError wraps err as a failure of the given stage.
func NewExternalModelError(stage string, err error) *ExternalModelError {
	return &ExternalModelError{Stage: stage, Err: err}
}

func (e *ExternalModelError) Error() string {
	return fmt.Sprintf("%s model error: %v", e.Stage, e.Err)
}

func (e *ExternalModelError) Unwrap() error {
	return e.Err
}

// NetworkError reports a transport-level failure (connection refused, DNS,
// timeout) talking to the speech-synthesis endpoint.
type NetworkError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
