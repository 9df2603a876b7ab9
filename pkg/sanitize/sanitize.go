package sanitize

import (
	"path"
	"strings"
	"unicode"
)

// MaxObjectKeyLength bounds media object keys; S3 rejects longer names
const MaxObjectKeyLength = 1024

// Text removes control characters from user-supplied text, keeping line
// breaks and tabs. Invalid UTF-8 bytes become U+FFFD.
func Text(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ObjectKey normalizes a media object key and reports whether it is safe to
// store. Keys are relative to the bucket: a leading slash is dropped and any
// ".." segment is rejected.
func ObjectKey(key string) (string, bool) {
	key = strings.TrimSpace(key)
	key = strings.TrimLeft(key, "/")
	if key == "" || len(key) > MaxObjectKeyLength {
		return "", false
	}

	for _, r := range key {
		if unicode.IsControl(r) || r == '\\' {
			return "", false
		}
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", false
		}
	}

	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", false
	}
	return cleaned, true
}
