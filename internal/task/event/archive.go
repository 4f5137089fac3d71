package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"judgebridge/internal/common/storage"
	"judgebridge/internal/task/model"
	appErr "judgebridge/pkg/errors"
	"judgebridge/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultArchivePrefix = "results/"

// ArchivePublisher writes each completion event as a JSON object, one per token.
type ArchivePublisher struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	now     func() time.Time
}

// NewArchivePublisher creates a publisher that archives events under prefix in bucket.
func NewArchivePublisher(store storage.ObjectStorage, bucket, prefix string) *ArchivePublisher {
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ArchivePublisher{storage: store, bucket: bucket, prefix: prefix, now: time.Now}
}

// ObjectKey returns the object key of a token's archived result.
func (p *ArchivePublisher) ObjectKey(token string) string {
	return p.prefix + token + ".json"
}

func (p *ArchivePublisher) PublishCompleted(ctx context.Context, source string, rec model.Record) error {
	if p == nil || p.storage == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result archive is not configured")
	}
	if p.bucket == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("archive bucket is required")
	}
	if rec.Token == "" {
		return appErr.ValidationError("token", "required")
	}
	data, err := json.Marshal(CompletionEvent{
		Type:      TypeTaskCompleted,
		Source:    source,
		Record:    rec,
		CreatedAt: p.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal archived result failed: %w", err)
	}
	key := p.ObjectKey(rec.Token)
	if err := p.storage.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "archive result failed")
	}
	return nil
}

// MultiPublisher fans an event out to every publisher. Every publisher is
// attempted; the first failure is returned and the rest are logged.
type MultiPublisher []CompletionPublisher

func (m MultiPublisher) PublishCompleted(ctx context.Context, source string, rec model.Record) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		err := p.PublishCompleted(ctx, source, rec)
		if err == nil {
			continue
		}
		if first == nil {
			first = err
			continue
		}
		logger.Warn(ctx, "completion publisher failed", zap.String("token", rec.Token), zap.Error(err))
	}
	return first
}
