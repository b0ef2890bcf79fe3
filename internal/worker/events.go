package worker

import "github.com/book-expert/events"

// StoryRequestedEvent asks the service to turn an uploaded image into a story.
type StoryRequestedEvent struct {
	Header   events.EventHeader `json:"header"`
	ImageKey string             `json:"image_key"`
}

// StoryCompletedEvent reports the outcome of a pipeline run. On failure the
// values produced before the failing stage are still included.
type StoryCompletedEvent struct {
	Header      events.EventHeader `json:"header"`
	ImageKey    string             `json:"image_key"`
	State       string             `json:"state"`
	FailedStage string             `json:"failed_stage,omitempty"`
	Scenario    string             `json:"scenario,omitempty"`
	Story       string             `json:"story,omitempty"`
	AudioKey    string             `json:"audio_key,omitempty"`
	AudioFormat string             `json:"audio_format,omitempty"`
	AudioSize   int                `json:"audio_size,omitempty"`
	Error       string             `json:"error,omitempty"`
}
