package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDint64Unique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id := UUIDint64()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestIsDigits(t *testing.T) {
	assert.True(t, IsDigits("5511999999999"))
	assert.False(t, IsDigits(""))
	assert.False(t, IsDigits("55-11"))
	assert.False(t, IsDigits("١٢٣"))
}

func TestStripControl(t *testing.T) {
	assert.Equal(t, "Ana Maria", StripControl("Ana\x00 Maria"))
	assert.Equal(t, "ab", StripControl("a\nb"))
}
