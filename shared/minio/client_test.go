package minio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeForExtension(t *testing.T) {
	tests := []struct {
		ext      string
		expected string
	}{
		{ext: ".mp4", expected: "video/mp4"},
		{ext: ".MP4", expected: "video/mp4"},
		{ext: "mov", expected: "video/quicktime"},
		{ext: ".mkv", expected: "video/x-matroska"},
		{ext: ".webm", expected: "video/webm"},
		{ext: ".avi", expected: "video/x-msvideo"},
		{ext: ".bin", expected: "application/octet-stream"},
		{ext: "", expected: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContentTypeForExtension(tt.ext))
		})
	}
}
