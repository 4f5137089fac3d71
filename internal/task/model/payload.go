package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// Status ids the engine reports while a submission is still queued or running.
const (
	StatusInQueue    = 1
	StatusProcessing = 2
)

// Payload is an engine status document, kept schemaless so unknown fields survive a merge.
type Payload map[string]any

// Clone returns a deep copy of nested maps and slices.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case Payload:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// String returns the string at key, if present.
func (p Payload) String(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	s, ok := p[key].(string)
	return s, ok
}

// Object returns the nested object at key, if present.
func (p Payload) Object(key string) (Payload, bool) {
	if p == nil {
		return nil, false
	}
	switch typed := p[key].(type) {
	case map[string]any:
		return Payload(typed), true
	case Payload:
		return typed, true
	default:
		return nil, false
	}
}

// StatusID extracts status.id. ok is false when the status is missing or not an integer.
func (p Payload) StatusID() (int, bool) {
	status, ok := p.Object("status")
	if !ok {
		return 0, false
	}
	return toInt(status["id"])
}

// StatusDescription returns status.description or an empty string.
func (p Payload) StatusDescription() string {
	status, ok := p.Object("status")
	if !ok {
		return ""
	}
	desc, _ := status.String("description")
	return desc
}

// HasStatus reports whether the document carries a status object.
func (p Payload) HasStatus() bool {
	_, ok := p.Object("status")
	return ok
}

// IsTerminal reports whether the document describes a finished submission:
// every status id other than in-queue and processing is terminal. A missing
// or unreadable id counts as 0, so a document whose field selection left out
// the status is terminal. A nil document is not.
func (p Payload) IsTerminal() bool {
	if p == nil {
		return false
	}
	id, _ := p.StatusID()
	return id != StatusInQueue && id != StatusProcessing
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
