// Package objectstore archives finished songs in a NATS JetStream object store
// so the local song cache can be purged and restored.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	metaTitle       = "title"
	songDescription = "performer song"
)

// SongArchive stores song files in a JetStream object store bucket.
type SongArchive struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*SongArchive, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Converted songs archived by the performer (%s).", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &SongArchive{bucket: bucketName, store: store}, nil
}

// Save uploads the file at path under name, tagging it with the song title.
func (a *SongArchive) Save(_ context.Context, name, path, title string) error {
	file, err := os.Open(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to open '%s' for archiving: %w", path, err)
	}
	defer file.Close()

	_, err = a.store.Put(&nats.ObjectMeta{
		Name:        name,
		Description: songDescription,
		Metadata:    map[string]string{metaTitle: title},
	}, file)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", name, a.bucket, err)
	}

	return nil
}

// Restore downloads the object name into path.
func (a *SongArchive) Restore(_ context.Context, name, path string) error {
	err := a.store.GetFile(name, path)
	if err != nil {
		return fmt.Errorf("failed to get object '%s' from bucket '%s': %w", name, a.bucket, err)
	}

	return nil
}

// Has reports whether name is archived.
func (a *SongArchive) Has(_ context.Context, name string) bool {
	_, err := a.store.GetInfo(name)

	return err == nil
}

// List returns the archived song names in order.
func (a *SongArchive) List(_ context.Context) ([]string, error) {
	infos, err := a.store.List()
	if errors.Is(err, nats.ErrNoObjectsFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list bucket '%s': %w", a.bucket, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}

	slices.Sort(names)

	return names, nil
}
