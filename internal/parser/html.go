package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRe   = regexp.MustCompile(`[^\S\n]+`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
)

// StripHTML converts an HTML email body to plain text. Script, style and
// head content is dropped; block elements become line breaks.
func StripHTML(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := spaceRe.ReplaceAllString(doc.Text(), " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	text = strings.Join(lines, "\n")
	text = newlineRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}
