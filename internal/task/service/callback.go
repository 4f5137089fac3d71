package service

import (
	"context"
	"encoding/json"

	"judgebridge/internal/task/codec"
	"judgebridge/internal/task/model"
	appErr "judgebridge/pkg/errors"
	"judgebridge/pkg/utils/logger"

	"go.uber.org/zap"
)

// tokenProbes are the locations a callback may carry its token in, by priority.
var tokenProbes = [][]string{
	{"token"},
	{"result", "token"},
	{"data", "token"},
}

// ResolveToken returns the first non-empty string token found by tokenProbes.
func ResolveToken(notification model.Payload) (string, bool) {
	for _, path := range tokenProbes {
		if token, ok := probe(notification, path); ok {
			return token, true
		}
	}
	return "", false
}

func probe(doc model.Payload, path []string) (string, bool) {
	current := doc
	for i, key := range path {
		if i == len(path)-1 {
			token, ok := current.String(key)
			return token, ok && token != ""
		}
		next, ok := current.Object(key)
		if !ok {
			return "", false
		}
		current = next
	}
	return "", false
}

// DecodeNotification parses a callback body. Anything but a JSON object is malformed.
func DecodeNotification(body []byte) (model.Payload, error) {
	var notification model.Payload
	if err := json.Unmarshal(body, &notification); err != nil || notification == nil {
		callbacksTotal.WithLabelValues(callbackMalformed).Inc()
		return nil, appErr.New(appErr.MalformedCallback).WithMessage("invalid json")
	}
	return notification, nil
}

// HandleCallback applies an engine completion notification. A nested result
// object is the status document when present, otherwise the notification
// itself is. Output fields are decoded, and the task is forced to DONE
// whatever status id the document carries. Redelivery merges the same state.
func (s *Service) HandleCallback(ctx context.Context, notification model.Payload) (model.Record, error) {
	token, ok := ResolveToken(notification)
	if !ok {
		callbacksTotal.WithLabelValues(callbackMalformed).Inc()
		return model.Record{}, appErr.New(appErr.MalformedCallback)
	}
	ctx = logger.ContextWithToken(ctx, token)

	status := notification
	if result, ok := notification.Object("result"); ok {
		status = result
	}
	normalized := codec.DecodeOutputs(status)

	rec, err := s.apply(ctx, token, normalized, nil, true, SourceCallback)
	if err != nil {
		callbacksTotal.WithLabelValues(callbackFailed).Inc()
		logger.Error(ctx, "apply callback failed", zap.Error(err))
		return model.Record{}, err
	}
	callbacksTotal.WithLabelValues(callbackApplied).Inc()
	logger.Info(ctx, "callback applied", zap.String("state", string(rec.State)))
	return rec, nil
}
