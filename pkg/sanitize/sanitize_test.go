package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	assert.Equal(t, "hello\nworld\tok", Text("hel\x00lo\nworld\tok\x1b"))
	assert.Equal(t, "  spaced  ", Text("  spaced  "))
	assert.Equal(t, "héllo 👋", Text("héllo 👋"))
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"plain", "messages/abc.jpg", "messages/abc.jpg", true},
		{"leading slash", "/statuses/a.jpg", "statuses/a.jpg", true},
		{"duplicate slashes", "messages//a.jpg", "messages/a.jpg", true},
		{"dot segment", "messages/./a.jpg", "messages/a.jpg", true},
		{"traversal", "messages/../secrets", "", false},
		{"empty", "  ", "", false},
		{"only slash", "/", "", false},
		{"control char", "messages/a\x00.jpg", "", false},
		{"backslash", `messages\a.jpg`, "", false},
		{"too long", strings.Repeat("a", MaxObjectKeyLength+1), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ObjectKey(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
