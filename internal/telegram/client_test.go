package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitByBytes(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitByBytes("short", 10))

	parts := splitByBytes(strings.Repeat("ab", 5), 4)
	assert.Equal(t, []string{"abab", "abab", "ab"}, parts)

	// Multi-byte runes are never cut in half.
	parts = splitByBytes(strings.Repeat("ё", 5), 3)
	for _, p := range parts {
		assert.Equal(t, "ё", p)
	}
}

func TestTruncateByBytes(t *testing.T) {
	assert.Equal(t, "hello", truncateByBytes("hello", 10))
	assert.Equal(t, "hel", truncateByBytes("hello", 3))
	assert.Equal(t, "ёё", truncateByBytes("ёёё", 5))
}

func TestFileData(t *testing.T) {
	f, err := fileData("https://cdn.example.com/v.mp4", "video")
	require.NoError(t, err)
	assert.Equal(t, tgbotapi.FileURL("https://cdn.example.com/v.mp4"), f)

	f, err = fileData("data:image/png;base64,aGk=", "image")
	require.NoError(t, err)
	fb, ok := f.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), fb.Bytes)
	assert.True(t, strings.HasPrefix(fb.Name, "image."))

	_, err = fileData("", "image")
	assert.Error(t, err)
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, "image/png", detectMime("image/png; charset=binary", nil))
	assert.Equal(t, "image/jpeg", detectMime("application/octet-stream", []byte{0xff, 0xd8, 0xff, 0xe0}))
	assert.Equal(t, "image/jpeg", detectMime("", []byte{0x00, 0x01, 0x02}))
}
