package stream

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		wantLen []int
	}{
		{name: "85 by 40", text: strings.Repeat("a", 85), size: 40, wantLen: []int{40, 40, 5}},
		{name: "exact multiple", text: strings.Repeat("b", 80), size: 40, wantLen: []int{40, 40}},
		{name: "shorter than size", text: "IH!", size: 40, wantLen: []int{3}},
		{name: "multibyte counted as characters", text: "こんにちは世界", size: 3, wantLen: []int{3, 3, 1}},
		{name: "non-positive size uses default", text: strings.Repeat("c", 41), size: 0, wantLen: []int{40, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.size)
			if len(got) != len(tt.wantLen) {
				t.Fatalf("Chunk() returned %d chunks, want %d", len(got), len(tt.wantLen))
			}
			for i, c := range got {
				if n := utf8.RuneCountInString(c); n != tt.wantLen[i] {
					t.Errorf("chunk %d length = %d, want %d", i, n, tt.wantLen[i])
				}
			}
			if strings.Join(got, "") != tt.text {
				t.Error("chunks do not concatenate to the input")
			}
		})
	}
}

func TestChunk_Empty(t *testing.T) {
	got := Chunk("", 40)
	if len(got) != 1 || got[0] != NoResultMarker {
		t.Errorf("Chunk(\"\") = %q, want [%q]", got, NoResultMarker)
	}
}

func TestChunk_Properties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	roundTrip := func(text string, size int) bool {
		if text == "" {
			return true
		}
		chunks := Chunk(text, size)
		n := utf8.RuneCountInString(text)
		return len(chunks) == (n+size-1)/size && strings.Join(chunks, "") == text
	}

	properties.Property("ascii round trip and ceil count", prop.ForAll(
		roundTrip,
		gen.AlphaString(),
		gen.IntRange(1, 64),
	))

	properties.Property("hangul round trip and ceil count", prop.ForAll(
		roundTrip,
		gen.UnicodeString(unicode.Hangul),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
