package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const maxRecentTokens = 20

// SessionState remembers submitted tokens between CLI runs.
type SessionState struct {
	LastToken    string    `json:"last_token"`
	RecentTokens []string  `json:"recent_tokens"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Remember makes token the last one and moves it to the front of the recent list.
func (s *SessionState) Remember(token string, now time.Time) {
	if token == "" {
		return
	}
	recent := make([]string, 0, len(s.RecentTokens)+1)
	recent = append(recent, token)
	for _, existing := range s.RecentTokens {
		if existing != token {
			recent = append(recent, existing)
		}
	}
	if len(recent) > maxRecentTokens {
		recent = recent[:maxRecentTokens]
	}
	s.LastToken = token
	s.RecentTokens = recent
	s.UpdatedAt = now
}

func Load(path string) (SessionState, error) {
	var st SessionState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read session state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse session state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st SessionState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session state failed: %w", err)
	}
	return nil
}
