package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractDomainFromEmail(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomainFromEmail("User@Example.COM"))
	assert.Equal(t, "example.com", ExtractDomainFromEmail("Jane <jane@example.com>"))
	assert.Equal(t, "", ExtractDomainFromEmail("no-at-sign"))
	assert.Equal(t, "", ExtractDomainFromEmail(""))
}

func TestChunk(t *testing.T) {
	chunks := Chunk([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)
	assert.Nil(t, Chunk([]int{}, 3))
}

func TestGenerateNanoIDWithPrefix(t *testing.T) {
	id := GenerateNanoIDWithPrefix("file", 16)
	assert.True(t, strings.HasPrefix(id, "file_"))
	assert.Len(t, id, len("file_")+16)
}

func TestTruncateToMinute(t *testing.T) {
	in := time.Date(2024, 1, 15, 10, 30, 45, 500, time.FixedZone("x", -5*3600))
	assert.Equal(t, time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC), TruncateToMinute(in))
}
