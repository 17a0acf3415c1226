package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplit_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\n"} {
		chunks, warnings := Split(text, Options{})
		if chunks != nil || warnings != nil {
			t.Errorf("Split(%q) = %v, %v, want nil, nil", text, chunks, warnings)
		}
	}
}

func TestSplit_SmallInputSingleChunk(t *testing.T) {
	text := "a short piece of text"
	chunks, warnings := Split(text, Options{MaxChunkTokens: 100})
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("chunk text = %q, want %q", chunks[0].Text, text)
	}
	if chunks[0].Ordinal != 0 {
		t.Errorf("chunk ordinal = %d, want 0", chunks[0].Ordinal)
	}
}

func TestSplit_RespectsTokenCeiling(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	opts := Options{MaxChunkTokens: 20, OverlapTokens: 5}
	chunks, _ := Split(text, opts)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Tokens > opts.MaxChunkTokens {
			t.Errorf("chunk %d estimates %d tokens, ceiling is %d", i, c.Tokens, opts.MaxChunkTokens)
		}
		if c.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d", i, c.Ordinal)
		}
	}
}

func TestSplit_ConsecutiveChunksOverlap(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = string(rune('a'+i%26)) + "word"
	}
	text := strings.Join(words, " ")

	chunks, _ := Split(text, Options{MaxChunkTokens: 25, OverlapTokens: 8})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		curWords := strings.Fields(chunks[i].Text)
		// The current chunk must start with trailing words of the previous.
		if prevWords[len(prevWords)-1] == curWords[0] {
			continue
		}
		found := false
		for _, w := range prevWords {
			if w == curWords[0] {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("chunk %d does not overlap its predecessor: %q then %q",
				i, chunks[i-1].Text, chunks[i].Text)
		}
	}
}

func TestSplit_JoinedTextStaysWithinCeiling(t *testing.T) {
	// Per-word estimates floor runes/2, so summing them undercounts the
	// joined text; the ceiling must hold on the estimate of the chunk as
	// stored, spaces included.
	words := make([]string, 200)
	for i := range words {
		words[i] = "abcde"
	}
	text := strings.Join(words, " ")

	opts := Options{MaxChunkTokens: 25, OverlapTokens: 0}
	chunks, warnings := Split(text, opts)
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if got := c.Tokens; got > opts.MaxChunkTokens {
			t.Errorf("chunk %d estimate %d exceeds MaxChunkTokens %d (text %q)",
				i, got, opts.MaxChunkTokens, c.Text)
		}
	}
}

func TestSplit_WarningCarriesContainingChunkOrdinal(t *testing.T) {
	prefix := make([]string, 60)
	for i := range prefix {
		prefix[i] = "word"
	}
	blob := strings.Repeat("x", 400)
	text := strings.Join(prefix, " ") + " " + blob

	opts := Options{MaxChunkTokens: 20, OverlapTokens: 0}
	chunks, warnings := Split(text, opts)
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}

	blobChunk := -1
	for _, c := range chunks {
		if strings.Contains(c.Text, "xxxx") {
			blobChunk = c.Ordinal
			break
		}
	}
	if blobChunk <= 0 {
		t.Fatalf("truncated word should land in a later chunk, found ordinal %d", blobChunk)
	}
	if warnings[0].Ordinal != blobChunk {
		t.Errorf("warning ordinal = %d, want %d (the chunk holding the truncated word)",
			warnings[0].Ordinal, blobChunk)
	}
}

func TestSplit_OversizedWordTruncated(t *testing.T) {
	blob := strings.Repeat("x", 400)
	text := "before " + blob + " after"

	opts := Options{MaxChunkTokens: 50, OverlapTokens: 0}
	chunks, warnings := Split(text, opts)
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
	for i, c := range chunks {
		if c.Tokens > opts.MaxChunkTokens {
			t.Errorf("chunk %d exceeds ceiling after truncation: %d tokens", i, c.Tokens)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 30)
	opts := Options{MaxChunkTokens: 40, OverlapTokens: 10}

	first, firstWarn := Split(text, opts)
	second, secondWarn := Split(text, opts)
	if !reflect.DeepEqual(first, second) || !reflect.DeepEqual(firstWarn, secondWarn) {
		t.Error("repeated Split produced different output")
	}
}

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{"zero values get defaults", Options{}, Options{MaxChunkTokens: DefaultMaxChunkTokens, OverlapTokens: DefaultOverlapTokens}},
		{"negative overlap clamped to zero", Options{MaxChunkTokens: 100, OverlapTokens: -5}, Options{MaxChunkTokens: 100, OverlapTokens: 0}},
		{"overlap >= max halved", Options{MaxChunkTokens: 100, OverlapTokens: 100}, Options{MaxChunkTokens: 100, OverlapTokens: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.normalize(); got != tt.want {
				t.Errorf("normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
