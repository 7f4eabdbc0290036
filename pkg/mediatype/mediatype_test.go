package mediatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"voice.webm", "audio/webm"},
		{"VOICE.M4A", "audio/mp4"},
		{"photo.jpeg", "image/jpeg"},
		{"route.gpx", "application/gpx+xml"},
		{"no-extension", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromName(tt.name))
		})
	}
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "image", Category("image/png"))
	assert.Equal(t, "audio", Category("audio/ogg"))
	assert.Equal(t, "video", Category("video/mp4"))
	assert.Equal(t, "file", Category("application/pdf"))
}
