// Package chunker splits raw document text into overlapping windows sized
// for the embedding model.
//
// Splitting is word-based: a chunk accumulates whole words until the token
// estimate reaches the configured maximum, and the next chunk re-reads the
// trailing words of the previous one so that content spanning a boundary is
// embedded in both windows. Splitting is deterministic: the same text and
// options always produce the same chunks.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/parleyhq/parley/internal/token"
)

// Default sizing, matching the ingestion defaults in internal/config.
const (
	DefaultMaxChunkTokens = 250
	DefaultOverlapTokens  = 50
)

// Options controls chunk sizing.
type Options struct {
	// MaxChunkTokens is the estimated-token ceiling per chunk.
	MaxChunkTokens int

	// OverlapTokens is how many trailing tokens of a chunk are repeated at
	// the start of the next chunk.
	OverlapTokens int
}

// normalize applies defaults and clamps overlap below the chunk size so the
// window always advances.
func (o Options) normalize() Options {
	if o.MaxChunkTokens <= 0 {
		o.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.OverlapTokens >= o.MaxChunkTokens {
		o.OverlapTokens = o.MaxChunkTokens / 2
	}
	return o
}

// Chunk is one text window, ordered by Ordinal within its document.
type Chunk struct {
	Ordinal int
	Text    string
	Tokens  int
}

// Warning records a non-fatal irregularity encountered while splitting,
// such as an unsplittable word longer than the chunk budget. Warnings never
// fail ingestion; they are logged alongside the job.
type Warning struct {
	Ordinal int
	Reason  string
}

// Split divides text into overlapping chunks. Empty or all-whitespace input
// yields no chunks and no warnings.
func Split(text string, opts Options) ([]Chunk, []Warning) {
	opts = opts.normalize()

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	var (
		chunks   []Chunk
		warnings []Warning
	)

	// Truncate words that alone exceed the chunk budget. An unsplittable
	// run (base64 blob, minified text) must not sink the whole document.
	// The warning is emitted later, once the word lands in a chunk and its
	// ordinal is known.
	maxWordRunes := opts.MaxChunkTokens * token.RunesPerToken
	truncated := make(map[int]bool)
	for i, w := range words {
		if token.Estimate(w) > opts.MaxChunkTokens {
			words[i] = truncateRunes(w, maxWordRunes)
			truncated[i] = true
		}
	}

	// The budget check runs on the rune count of the joined text, space
	// included. Summing per-word estimates instead would undercount: the
	// estimate floors runes/RunesPerToken, and the flooring losses plus the
	// joining spaces add up to chunks past the ceiling.
	maxChunkRunes := opts.MaxChunkTokens * token.RunesPerToken

	start := 0
	for start < len(words) {
		runes := 0
		end := start
		for end < len(words) {
			add := utf8.RuneCountInString(words[end])
			if end > start {
				add++ // the joining space
			}
			if runes+add > maxChunkRunes && end > start {
				break
			}
			runes += add
			end++
		}

		ordinal := len(chunks)
		chunkText := strings.Join(words[start:end], " ")
		chunks = append(chunks, Chunk{
			Ordinal: ordinal,
			Text:    chunkText,
			Tokens:  token.Estimate(chunkText),
		})

		for i := start; i < end; i++ {
			if truncated[i] {
				warnings = append(warnings, Warning{
					Ordinal: ordinal,
					Reason:  "oversized word truncated to chunk budget",
				})
				delete(truncated, i)
			}
		}

		if end == len(words) {
			break
		}

		// Step back far enough that the next chunk repeats OverlapTokens
		// worth of trailing words.
		next := end
		overlap := 0
		for next > start+1 && overlap < opts.OverlapTokens {
			next--
			overlap += token.Estimate(words[next])
		}
		start = next
	}

	return chunks, warnings
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
