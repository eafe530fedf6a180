package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/lasso/internal/canon"
)

// marshalInterests converts the interest list to canonical JSON TEXT.
func marshalInterests(interests []string) (string, error) {
	if interests == nil {
		interests = []string{}
	}
	data, err := canon.Marshal(interests)
	if err != nil {
		return "", fmt.Errorf("marshal interests: %w", err)
	}
	return string(data), nil
}

// unmarshalInterests parses a JSON array TEXT column. An empty array reads
// back as nil so unset and empty profiles compare equal.
func unmarshalInterests(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal interests: %w", err)
	}
	return out, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
