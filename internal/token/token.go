// Package token provides the token accounting shared by the chunker and the
// context assembler.
//
// The estimate is deliberately model-agnostic: rune count divided by 2 is a
// conservative bound that holds for both English (~4 chars/token) and CJK
// (~1.5 chars/token) text. Every budget decision in the codebase goes through
// Estimate so that chunk sizing and prompt assembly agree on what a "token"
// costs.
package token

import "unicode/utf8"

// RunesPerToken is the divisor used by Estimate.
const RunesPerToken = 2

// Estimate returns a conservative token count for text.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / RunesPerToken
}

// EstimateAll returns the summed estimate over texts.
func EstimateAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
