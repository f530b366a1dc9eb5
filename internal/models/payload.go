package models

import (
	"encoding/json"
	"fmt"
)

// TaskPayload is the decoded SyncTask.Payload.
type TaskPayload map[string]interface{}

// DecodePayload parses a stored payload. An empty string yields an empty payload.
func DecodePayload(raw string) (TaskPayload, error) {
	payload := TaskPayload{}
	if raw == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Encode serializes the payload for storage.
func (p TaskPayload) Encode() (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(raw), nil
}

func (p TaskPayload) GetString(key string) string {
	if p == nil {
		return ""
	}
	val, ok := p[key]
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func (p TaskPayload) GetInt64(key string) int64 {
	if p == nil {
		return 0
	}
	val, ok := p[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (p TaskPayload) GetBool(key string) bool {
	if p == nil {
		return false
	}
	if b, ok := p[key].(bool); ok {
		return b
	}
	return false
}

// Payload keys.
const (
	PayloadSourceTenant = "source_tenant"
	PayloadCount        = "count"
	PayloadSubresource  = "include_subresource"
	PayloadName         = "name"
)
