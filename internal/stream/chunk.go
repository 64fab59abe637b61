// Package stream turns pipeline progress into the line-delimited event
// protocol sent to clients.
package stream

import (
	"time"
)

const (
	// DefaultChunkSize is the number of characters per answer event.
	DefaultChunkSize = 40
	// DefaultChunkInterval is the pause between answer events.
	DefaultChunkInterval = 80 * time.Millisecond
	// NoResultMarker is sent as the only answer chunk when the result is empty.
	NoResultMarker = "(no result)"
)

// Chunk splits text into consecutive slices of size characters. Slicing is
// positional only: words and grapheme clusters may be split. The last slice
// may be shorter. Empty text yields a single NoResultMarker chunk. A size
// below 1 is treated as DefaultChunkSize.
func Chunk(text string, size int) []string {
	if text == "" {
		return []string{NoResultMarker}
	}
	if size < 1 {
		size = DefaultChunkSize
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
