// Package pipeline sequences captioning, narration and speech synthesis for
// one image.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-service/internal/core"
	"github.com/book-expert/story-service/internal/narrate"
)

// State is a pipeline run state.
type State int

// States move forward only: Idle → Captioning → Narrating → Synthesizing →
// Done, and any active state may move to Failed.
const (
	StateIdle State = iota
	StateCaptioning
	StateNarrating
	StateSynthesizing
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateCaptioning:   "captioning",
	StateNarrating:    "narrating",
	StateSynthesizing: "synthesizing",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("state(%d)", int(s))
	}

	return name
}

// stageOf maps an active state to the stage it runs.
var stageOf = map[State]string{
	StateCaptioning:   core.StageCaption,
	StateNarrating:    core.StageNarrate,
	StateSynthesizing: core.StageSynthesize,
}

// ErrInvalidTransition indicates a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid pipeline state transition")

// Result holds everything a run produced. Values from stages that completed
// stay set after a later stage fails.
type Result struct {
	State       State
	FailedStage string
	Scenario    string
	Story       string
	Artifact    *core.Artifact
	Err         error
}

// Succeeded reports whether the run reached Done.
func (r Result) Succeeded() bool {
	return r.State == StateDone
}

// Observer receives a snapshot of the result on every state transition.
type Observer func(from, to State, snapshot Result)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers an observer for state transitions.
func WithObserver(observer Observer) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, observer)
	}
}

// WithInspector enables advisory story checks (length and language).
func WithInspector(inspector *narrate.Inspector) Option {
	return func(p *Pipeline) {
		p.inspector = inspector
	}
}

// Pipeline runs Captioner → Narrator → Synthesizer → ArtifactStore.
type Pipeline struct {
	captioner   core.Captioner
	narrator    core.Narrator
	synthesizer core.Synthesizer
	artifacts   core.ArtifactStore
	log         *logger.Logger
	inspector   *narrate.Inspector
	observers   []Observer
}

// New creates a Pipeline. log may be nil.
func New(
	captioner core.Captioner,
	narrator core.Narrator,
	synthesizer core.Synthesizer,
	artifacts core.ArtifactStore,
	log *logger.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		captioner:   captioner,
		narrator:    narrator,
		synthesizer: synthesizer,
		artifacts:   artifacts,
		log:         log,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// run tracks one execution of the state machine.
type run struct {
	pipeline *Pipeline
	result   Result
}

// Run executes the stages in order for one image and halts on the first failure.
func (p *Pipeline) Run(ctx context.Context, image []byte) Result {
	r := &run{pipeline: p, result: Result{State: StateIdle}}

	r.advance(StateCaptioning)

	scenario, err := p.captioner.Caption(ctx, image)
	if err != nil {
		return r.fail(err)
	}

	r.result.Scenario = scenario
	r.advance(StateNarrating)

	story, err := p.narrator.Narrate(ctx, scenario)
	if err != nil {
		return r.fail(err)
	}

	r.result.Story = story
	p.inspect(story)
	r.advance(StateSynthesizing)

	audioData, err := p.synthesizer.Synthesize(ctx, story)
	if err != nil {
		return r.fail(err)
	}

	artifact, err := p.artifacts.Save(ctx, audioData)
	if err != nil {
		return r.fail(fmt.Errorf("failed to store audio artifact: %w", err))
	}

	r.result.Artifact = &artifact
	r.advance(StateDone)

	return r.result
}

func (p *Pipeline) inspect(story string) {
	if p.inspector == nil || p.log == nil {
		return
	}

	stats := p.inspector.Inspect(story)

	if !stats.WithinLength() {
		p.log.Warn("Story has %d words, outside the requested %d-%d range",
			stats.Words, narrate.MinStoryWords, narrate.MaxStoryWords)
	}

	if !stats.IsEnglish() {
		p.log.Warn("Story language detected as %s; the speech model expects English", stats.Language)
	}
}

func (r *run) advance(to State) {
	from := r.result.State

	err := checkTransition(from, to)
	if err != nil {
		// Only reachable through a programming error in Run.
		panic(err)
	}

	r.result.State = to

	if r.pipeline.log != nil {
		r.pipeline.log.Info("Pipeline %s -> %s", from, to)
	}

	for _, observer := range r.pipeline.observers {
		observer(from, to, r.result)
	}
}

func (r *run) fail(err error) Result {
	r.result.FailedStage = stageOf[r.result.State]
	r.result.Err = err

	if r.pipeline.log != nil {
		r.pipeline.log.Error("Pipeline failed during %s: %v", r.result.FailedStage, err)
	}

	r.advance(StateFailed)

	return r.result
}

// checkTransition enforces the linear state machine.
func checkTransition(from, to State) error {
	switch {
	case to == StateFailed && from >= StateCaptioning && from <= StateSynthesizing:
		return nil
	case to != StateFailed && to == from+1 && to <= StateDone:
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to State) bool {
	return checkTransition(from, to) == nil
}
