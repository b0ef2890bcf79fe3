// Package objectstore provides NATS JetStream object-store backends for
// uploaded images and the synthesized audio artifact.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/story-service/internal/audio"
	"github.com/book-expert/story-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrKeyEmpty indicates that an object key is missing.
var ErrKeyEmpty = errors.New("object key cannot be empty")

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	obj, err := n.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object, replacing any object stored under the same key.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if key == "" {
		return ErrKeyEmpty
	}

	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// ArtifactStore keeps the audio artifact under one fixed key of an object store.
type ArtifactStore struct {
	store core.ObjectStore
	key   string
}

// NewArtifactStore creates an ArtifactStore writing to key.
func NewArtifactStore(store core.ObjectStore, key string) (*ArtifactStore, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	return &ArtifactStore{store: store, key: key}, nil
}

// Save replaces the stored artifact with data.
func (a *ArtifactStore) Save(ctx context.Context, data []byte) (core.Artifact, error) {
	if len(data) == 0 {
		return core.Artifact{}, core.ErrArtifactEmpty
	}

	err := a.store.Upload(ctx, a.key, data)
	if err != nil {
		return core.Artifact{}, err
	}

	return core.Artifact{
		Location: a.key,
		Format:   string(audio.DetectFormat(data)),
		Size:     len(data),
	}, nil
}
