package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"judgebridge/internal/common/storage"
	"judgebridge/internal/task/model"
	appErr "judgebridge/pkg/errors"
)

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjects) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+objectKey] = data
	m.types[bucket+"/"+objectKey] = contentType
	return nil
}

func (m *memoryObjects) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, errors.New("no such key")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data)), ContentType: m.types[bucket+"/"+objectKey]}, nil
}

func TestArchivePublisherWritesObject(t *testing.T) {
	objects := newMemoryObjects()
	p := NewArchivePublisher(objects, "judge-results", "archive")
	rec := model.Record{Token: "tok-1", State: model.StateDone, Result: model.Payload{"stdout": "hi"}}

	if err := p.PublishCompleted(context.Background(), "poll", rec); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if key := p.ObjectKey("tok-1"); key != "archive/tok-1.json" {
		t.Fatalf("object key = %q", key)
	}

	stat, err := objects.StatObject(context.Background(), "judge-results", "archive/tok-1.json")
	if err != nil || stat.ContentType != "application/json" {
		t.Fatalf("stat = %+v, %v", stat, err)
	}
	reader, err := objects.GetObject(context.Background(), "judge-results", "archive/tok-1.json")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer reader.Close()
	var event CompletionEvent
	if err := json.NewDecoder(reader).Decode(&event); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.Type != TypeTaskCompleted || event.Source != "poll" || event.Record.Token != "tok-1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestArchivePublisherErrors(t *testing.T) {
	objects := newMemoryObjects()
	objects.err = errors.New("bucket gone")
	p := NewArchivePublisher(objects, "judge-results", "")

	err := p.PublishCompleted(context.Background(), "callback", model.Record{Token: "tok-2"})
	if appErr.GetCode(err) != appErr.ServiceUnavailable {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	if err := p.PublishCompleted(context.Background(), "callback", model.Record{}); err == nil {
		t.Fatalf("expected token validation error")
	}
	if err := NewArchivePublisher(objects, "", "").PublishCompleted(context.Background(), "poll", model.Record{Token: "t"}); err == nil {
		t.Fatalf("expected bucket validation error")
	}
}

func TestMultiPublisherAttemptsAll(t *testing.T) {
	failing := newMemoryObjects()
	failing.err = errors.New("down")
	working := newMemoryObjects()
	multi := MultiPublisher{
		NewArchivePublisher(failing, "b", ""),
		nil,
		NewArchivePublisher(working, "b", ""),
	}

	err := multi.PublishCompleted(context.Background(), "poll", model.Record{Token: "tok-3"})
	if err == nil {
		t.Fatalf("expected first failure to be returned")
	}
	if _, err := working.StatObject(context.Background(), "b", "results/tok-3.json"); err != nil {
		t.Fatalf("second publisher was skipped: %v", err)
	}
}
