// Package worker_test tests the NATS worker for the story service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/story-service/internal/core"
	"github.com/book-expert/story-service/internal/pipeline"
	"github.com/book-expert/story-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "story.requested.test"

var errMockDownload = errors.New("mock download error")

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	mu                 sync.Mutex
	downloadShouldFail bool
	downloadedKey      string
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.mu.Lock()
	m.downloadedKey = key
	m.mu.Unlock()

	return []byte{0xFF, 0xD8, 0xFF}, nil
}

func (m *mockObjectStore) lastKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.downloadedKey
}

func (m *mockObjectStore) Upload(context.Context, string, []byte) error {
	return nil
}

// mockRunner is a mock implementation of the Runner interface.
type mockRunner struct {
	mu     sync.Mutex
	result pipeline.Result
	images [][]byte
}

func (m *mockRunner) Run(_ context.Context, image []byte) pipeline.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.images = append(m.images, image)

	return m.result
}

func (m *mockRunner) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([][]byte(nil), m.images...)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func startWorker(t *testing.T, store core.ObjectStore, runner worker.Runner) *nats.Conn {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(natsConnection, worker.Options{
		Subject:          testSubject,
		CompletedSubject: "story.completed.test",
		JobTimeout:       5 * time.Second,
	}, store, runner, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
		_ = testLogger.Close()
	})

	// Make sure the subscription is registered before publishing.
	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond)

	return natsConnection
}

func newRequest(t *testing.T, imageKey string) (*worker.StoryRequestedEvent, []byte) {
	t.Helper()

	event := &worker.StoryRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		ImageKey: imageKey,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	return event, data
}

func request(t *testing.T, natsConnection *nats.Conn, data []byte) worker.StoryCompletedEvent {
	t.Helper()

	replyMsg, err := natsConnection.Request(testSubject, data, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.StoryCompletedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	store := &mockObjectStore{}
	runner := &mockRunner{result: pipeline.Result{
		State:    pipeline.StateDone,
		Scenario: "a dog running on a beach",
		Story:    "The dog ran and ran.",
		Artifact: &core.Artifact{Location: "audio.flac", Format: "flac", Size: 42},
	}}
	natsConnection := startWorker(t, store, runner)

	event, data := newRequest(t, "images/dog.jpg")
	reply := request(t, natsConnection, data)

	assert.Equal(t, "images/dog.jpg", store.lastKey())
	images := runner.received()
	require.Len(t, images, 1)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, images[0])

	assert.Equal(t, "done", reply.State)
	assert.Equal(t, "a dog running on a beach", reply.Scenario)
	assert.Equal(t, "The dog ran and ran.", reply.Story)
	assert.Equal(t, "audio.flac", reply.AudioKey)
	assert.Equal(t, "flac", reply.AudioFormat)
	assert.Equal(t, 42, reply.AudioSize)
	assert.Empty(t, reply.Error)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)
	assert.NotEqual(t, event.Header.EventID, reply.Header.EventID)
}

func TestMessageHandler_PipelineFailureIsReported(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{result: pipeline.Result{
		State:       pipeline.StateFailed,
		FailedStage: core.StageNarrate,
		Scenario:    "a cat on a sofa",
		Err:         core.NewExternalModelError(core.StageNarrate, errors.New("quota exceeded")),
	}}
	natsConnection := startWorker(t, &mockObjectStore{}, runner)

	_, data := newRequest(t, "images/cat.jpg")
	reply := request(t, natsConnection, data)

	assert.Equal(t, "failed", reply.State)
	assert.Equal(t, core.StageNarrate, reply.FailedStage)
	assert.Equal(t, "a cat on a sofa", reply.Scenario)
	assert.Empty(t, reply.Story)
	assert.Empty(t, reply.AudioKey)
	assert.Contains(t, reply.Error, "quota exceeded")
}

func TestMessageHandler_DownloadFailure(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{}
	natsConnection := startWorker(t, &mockObjectStore{downloadShouldFail: true}, runner)

	_, data := newRequest(t, "images/missing.jpg")
	reply := request(t, natsConnection, data)

	assert.Equal(t, "failed", reply.State)
	assert.Contains(t, reply.Error, "mock download error")
	assert.Empty(t, runner.received())
}

func TestMessageHandler_PublishesToCompletedSubjectWithoutReply(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{result: pipeline.Result{State: pipeline.StateDone, Story: "done"}}
	natsConnection := startWorker(t, &mockObjectStore{}, runner)

	completed, err := natsConnection.SubscribeSync("story.completed.test")
	require.NoError(t, err)
	require.NoError(t, natsConnection.Flush())

	_, data := newRequest(t, "images/async.jpg")
	require.NoError(t, natsConnection.Publish(testSubject, data))

	msg, err := completed.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var reply worker.StoryCompletedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.Equal(t, "images/async.jpg", reply.ImageKey)
	assert.Equal(t, "done", reply.State)
}

func TestMessageHandler_InvalidEventIsDropped(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{}
	natsConnection := startWorker(t, &mockObjectStore{}, runner)

	_, err := natsConnection.Request(testSubject, []byte(`{"image_key":""}`), 300*time.Millisecond)
	require.ErrorIs(t, err, nats.ErrTimeout)
	assert.Empty(t, runner.received())
}
