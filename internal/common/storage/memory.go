package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage is an in-process ObjectStorage for local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (m *MemoryStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	if reader == nil {
		return fmt.Errorf("reader is required")
	}
	if objectKey == "" {
		return fmt.Errorf("objectKey is required")
	}
	if sizeBytes >= 0 {
		reader = io.LimitReader(reader, sizeBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object body failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[bucket+"/"+objectKey] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	if err := ctx.Err(); err != nil {
		return ObjectStat{}, err
	}
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	m.mu.RUnlock()
	if !ok {
		return ObjectStat{}, ErrObjectNotFound
	}
	sum := md5.Sum(obj.data)
	return ObjectStat{
		SizeBytes:   int64(len(obj.data)),
		ETag:        hex.EncodeToString(sum[:]),
		ContentType: obj.contentType,
	}, nil
}

func (m *MemoryStorage) RemoveObject(ctx context.Context, bucket, objectKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, bucket+"/"+objectKey)
	m.mu.Unlock()
	return nil
}

var _ ObjectStorage = (*MemoryStorage)(nil)
