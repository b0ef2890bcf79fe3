// Package worker provides a NATS worker that runs story pipeline jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/story-service/internal/core"
	"github.com/book-expert/story-service/internal/pipeline"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const defaultJobTimeout = 5 * time.Minute

var (
	// ErrImageKeyEmpty indicates that a request carried no image key.
	ErrImageKeyEmpty = errors.New("image key cannot be empty")
	// ErrNoReplyTarget indicates that a result has nowhere to go.
	ErrNoReplyTarget = errors.New("message has no reply subject and no completed subject is configured")
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, image []byte) pipeline.Result
}

// Options configure a NatsWorker.
type Options struct {
	// Subject is where StoryRequestedEvents arrive.
	Subject string
	// CompletedSubject receives results for requests published without a
	// reply subject.
	CompletedSubject string
	// JobTimeout bounds one pipeline run; zero selects the default.
	JobTimeout time.Duration
}

// NatsWorker listens for story requests on a NATS subject and processes them
// one at a time.
type NatsWorker struct {
	natsConnection *nats.Conn
	opts           Options
	images         core.ObjectStore
	runner         Runner
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	opts Options,
	images core.ObjectStore,
	runner Runner,
	log *logger.Logger,
) (*NatsWorker, error) {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		opts:           opts,
		images:         images,
		runner:         runner,
		log:            log,
	}, nil
}

// Run subscribes and blocks until ctx is cancelled. A single subscription
// delivers messages sequentially, so runs never overlap.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.opts.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.Info("Listening for story requests on subject: %s", w.opts.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.JobTimeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	w.log.Info("Processing story request %s for image %s", event.Header.WorkflowID, event.ImageKey)

	reply := w.process(ctx, event)

	err = w.publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// process downloads the image, runs the pipeline and builds the reply.
func (w *NatsWorker) process(ctx context.Context, event *StoryRequestedEvent) *StoryCompletedEvent {
	reply := &StoryCompletedEvent{
		Header:   replyHeader(event.Header),
		ImageKey: event.ImageKey,
	}

	image, err := w.images.Download(ctx, event.ImageKey)
	if err != nil {
		w.log.Error("Failed to download image for workflow %s: %v", event.Header.WorkflowID, err)
		reply.State = pipeline.StateFailed.String()
		reply.Error = fmt.Sprintf("failed to download image '%s': %v", event.ImageKey, err)

		return reply
	}

	result := w.runner.Run(ctx, image)

	reply.State = result.State.String()
	reply.FailedStage = result.FailedStage
	reply.Scenario = result.Scenario
	reply.Story = result.Story

	if result.Artifact != nil {
		reply.AudioKey = result.Artifact.Location
		reply.AudioFormat = result.Artifact.Format
		reply.AudioSize = result.Artifact.Size
	}

	if result.Err != nil {
		reply.Error = result.Err.Error()
		w.log.Error("Story request %s failed during %s: %v", event.Header.WorkflowID, result.FailedStage, result.Err)
	}

	return reply
}

// publishReplyEvent responds to the requester, or publishes to the completed
// subject when the request expected no reply.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *StoryCompletedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
		if err != nil {
			return fmt.Errorf("failed to publish reply event: %w", err)
		}

		return nil
	}

	if w.opts.CompletedSubject == "" {
		return ErrNoReplyTarget
	}

	err = w.natsConnection.Publish(w.opts.CompletedSubject, replyData)
	if err != nil {
		return fmt.Errorf("failed to publish completed event to %s: %w", w.opts.CompletedSubject, err)
	}

	return nil
}

func parseAndValidateEvent(msg *nats.Msg) (*StoryRequestedEvent, error) {
	var event StoryRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.ImageKey == "" {
		return nil, ErrImageKeyEmpty
	}

	if event.Header.WorkflowID == "" {
		event.Header.WorkflowID = uuid.NewString()
	}

	return &event, nil
}

func replyHeader(request events.EventHeader) events.EventHeader {
	header := request
	header.EventID = uuid.NewString()
	header.Timestamp = time.Now()

	return header
}
