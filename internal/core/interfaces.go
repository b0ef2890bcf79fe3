// Package core defines the core business types and interfaces for the story service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Artifact describes a synthesized audio payload after it has been stored.
type Artifact struct {
	// Location is the file path or object key the audio was written to.
	Location string
	// Format is the detected audio container (e.g. "flac"), or "unknown"
	// when audio validation is disabled and the payload was not recognized.
	Format string
	Size   int
}

// ArtifactStore persists the single audio artifact produced by a pipeline run.
// Every Save fully replaces the previous artifact.
type ArtifactStore interface {
	Save(ctx context.Context, data []byte) (Artifact, error)
}

// Captioner turns JPEG image bytes into a scenario description.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Narrator turns a scenario into a short story.
type Narrator interface {
	Narrate(ctx context.Context, scenario string) (string, error)
}

// Synthesizer turns a story into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, story string) ([]byte, error)
}
