package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageContentType(t *testing.T) {
	ct, ok := ImageContentType("poster.JPG")
	assert.True(t, ok)
	assert.Equal(t, "image/jpeg", ct)

	_, ok = ImageContentType("script.exe")
	assert.False(t, ok)
}

func TestImageKey(t *testing.T) {
	assert.Equal(t, "events/e1/cover.png", ImageKey("e1", "cover", "My Poster.PNG"))
}

func TestKeyFromURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "ap-southeast-1", ImagesBucket: "imgs"}}
	url := s.PublicObjectURL("events/e1/cover.png")
	assert.Equal(t, "https://imgs.s3.ap-southeast-1.amazonaws.com/events/e1/cover.png", url)

	key, ok := s.KeyFromURL(url)
	assert.True(t, ok)
	assert.Equal(t, "events/e1/cover.png", key)

	_, ok = s.KeyFromURL("https://elsewhere.example.com/x.png")
	assert.False(t, ok)
}
