package clients

import (
	"encoding/base64"
	"encoding/json"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

type cursor struct {
	Offset int `json:"offset"`
}

func encodeCursor(offset int) string {
	b, _ := json.Marshal(cursor{Offset: offset})
	return base64.StdEncoding.EncodeToString(b)
}

// decodeCursor never fails: anything unreadable starts from the beginning.
func decodeCursor(s string) int {
	if s == "" {
		return 0
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Offset < 0 {
		return 0
	}
	return c.Offset
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
