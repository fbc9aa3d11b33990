// Package textproc holds the tokenizer and stopword lists shared by the
// local encoder and keyword extraction.
package textproc

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// MinTokenLength drops very short tokens ("ok", "no") that carry little topic
// signal.
const MinTokenLength = 3

// Tokenize lowercases text and returns its word tokens with stopwords and
// short tokens removed.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if len([]rune(t)) < MinTokenLength {
			continue
		}
		if IsStopword(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Terms returns the unigrams of tokens followed by their adjacent bigrams.
func Terms(tokens []string) []string {
	out := make([]string, 0, 2*len(tokens))
	out = append(out, tokens...)
	for i := 1; i < len(tokens); i++ {
		out = append(out, tokens[i-1]+" "+tokens[i])
	}
	return out
}

// IsStopword reports whether the lowercase token is a stopword.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := []string{
		// English
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too",
		"very", "can", "will", "just", "don", "should", "now", "not", "have", "has", "had", "you", "your",
		"our", "they", "their", "them", "what", "which", "who", "when", "where", "why", "how", "all", "any",
		"would", "could", "there", "here", "also", "its", "his", "her", "she", "him", "we", "me", "my",
		"i", "do", "does", "did", "no", "yes", "please", "thanks", "thank",
		// Polish
		"i", "w", "na", "z", "do", "nie", "sie", "się", "o", "to", "jak", "ale", "za", "co", "jest", "od",
		"po", "ze", "że", "czy", "tak", "go", "tego", "ja", "juz", "już", "by", "tym", "tu", "te", "ten",
		"ta", "pan", "pani", "moje", "moj", "mój", "ktory", "który", "ktora", "która", "sa", "są", "byl",
		"był", "byla", "była", "bylo", "było", "byly", "były", "bedzie", "będzie", "mi", "sobie", "moze",
		"może", "bardzo", "tylko", "jeszcze", "tez", "też", "dla", "przy", "prosze", "proszę", "dziekuje",
		"dziękuję", "chcialabym", "chciałabym", "chcialbym", "chciałbym", "mam", "moge", "mogę",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
