package session

import (
	"encoding/base64"
	"fmt"
	"time"
)

// EncodeWorkspace encodes an absolute workspace path for storage as a
// label or annotation value. Paths routinely contain characters that
// label values reject, so the stored form is base64.
func EncodeWorkspace(abs string) string {
	return base64.StdEncoding.EncodeToString([]byte(abs))
}

// DecodeWorkspace reverses EncodeWorkspace. An empty input decodes to "",
// which listing treats as "workspace unknown" rather than an error, since
// objects created by other tooling may carry no annotation at all.
func DecodeWorkspace(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode workspace annotation: %w", err)
	}
	return string(raw), nil
}

// FormatCreatedAt / ParseCreatedAt fix the annotation timestamp format.
func FormatCreatedAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func ParseCreatedAt(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
