package source

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText flattens an HTML fragment into text. Paragraph and line breaks
// become newlines, entities are decoded, and runs of blanks collapse.
func PlainText(html string) string {
	if html == "" {
		return ""
	}
	if !strings.ContainsAny(html, "<&") {
		return collapse(html)
	}

	r := strings.NewReplacer("<p>", "\n<p>", "<br>", "\n", "<br/>", "\n", "<br />", "\n")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.Replace(html)))
	if err != nil {
		return collapse(html)
	}
	return collapse(doc.Text())
}

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if f := strings.Fields(line); len(f) > 0 {
			out = append(out, strings.Join(f, " "))
		}
	}
	return strings.Join(out, "\n")
}
