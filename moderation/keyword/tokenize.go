package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	urlPattern    = regexp.MustCompile(`(?i)\bhttps?://[^\s]+`)
)

// Splits free-form text in to tokens, including lower-case, unicode normalization, and some unicode folding (diacritics are removed).
//
// Works similarly to an NLP tokenizer as used by a fulltext search engine, so tokens can be matched against a list of known words.
func TokenizeText(text string) []string {
	// the transformer is stateful, so a new chain is needed per call
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	normed, _, err := transform.String(normFunc, bare)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		normed = bare
	}
	return strings.Fields(normed)
}

func splitIdentRune(c rune) bool {
	return !unicode.IsLetter(c) && !unicode.IsNumber(c)
}

// Splits an identifier (eg, a username) in to tokens. Removes any single-character tokens.
//
// For example, "the-handle.example.com" would be split in to ["the", "handle", "example", "com"]
func TokenizeIdentifier(orig string) []string {
	fields := strings.FieldsFunc(orig, splitIdentRune)
	out := make([]string, 0, len(fields))
	for _, v := range fields {
		tok := Slugify(v)
		if len(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

// Number of http(s) URLs in free-form text
func CountURLs(text string) int {
	return len(urlPattern.FindAllStringIndex(text, -1))
}
