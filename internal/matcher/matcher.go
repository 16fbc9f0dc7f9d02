// Package matcher tests content items against keyword phrases.
package matcher

import (
	"strings"
	"unicode"

	"scout/internal/model"
)

// SnippetRadius is the number of runes kept on each side of a match.
const SnippetRadius = 80

const ellipsis = "..."

// Result describes a keyword hit.
type Result struct {
	Keyword string
	Snippet string
}

// Text returns the content an item is matched against: title and body for
// posts and stories, the body alone for comments.
func Text(item model.Item) string {
	if item.Kind == model.KindComment || item.Title == "" {
		return item.Body
	}
	if item.Body == "" {
		return item.Title
	}
	return item.Title + "\n" + item.Body
}

// FindMatch reports the first keyword, in the given order, that occurs in
// the item's text. Matching is case-insensitive substring search; blank
// keywords are ignored.
func FindMatch(item model.Item, keywords []string) (Result, bool) {
	text := []rune(Text(item))
	if len(text) == 0 {
		return Result{}, false
	}
	folded := fold(text)

	for _, kw := range keywords {
		needle := fold([]rune(strings.TrimSpace(kw)))
		if len(needle) == 0 {
			continue
		}
		if pos := index(folded, needle); pos >= 0 {
			return Result{
				Keyword: kw,
				Snippet: Snippet(text, pos, pos+len(needle)),
			}, true
		}
	}
	return Result{}, false
}

// Snippet cuts text to SnippetRadius runes around [start, end). Clipped
// sides are trimmed of whitespace and marked with an ellipsis; unclipped
// sides are kept as they are.
func Snippet(text []rune, start, end int) string {
	from := max(0, start-SnippetRadius)
	to := min(len(text), end+SnippetRadius)

	s := string(text[from:to])
	if from > 0 {
		s = ellipsis + strings.TrimLeftFunc(s, unicode.IsSpace)
	}
	if to < len(text) {
		s = strings.TrimRightFunc(s, unicode.IsSpace) + ellipsis
	}
	return s
}

// fold lower-cases rune by rune so offsets stay aligned with the original.
func fold(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func index(haystack, needle []rune) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
