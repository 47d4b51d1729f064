package pipeline

import (
	"context"
	"errors"

	"github.com/dunamismax/docflow/internal/storage"
)

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage *storage.Client
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, rendered []byte, contentType string) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}

	objectKey := storage.DocumentKey(req.JobID)
	if err := e.Storage.WriteObject(ctx, objectKey, rendered, contentType); err != nil {
		return "", err
	}
	return objectKey, nil
}

// NewObjectStoreProcessor wires the default stages against object storage.
func NewObjectStoreProcessor(store *storage.Client) *Processor {
	return NewProcessor(
		ObjectStoreFetcher{Storage: store},
		CaptionExtractor{},
		HeuristicStructurer{},
		HTMLRenderer{},
		ObjectStoreEmitter{Storage: store},
	)
}
