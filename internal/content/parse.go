package content

import (
	"regexp"
	"strings"
)

// paragraphSep splits a body on blank lines.
var paragraphSep = regexp.MustCompile(`\n[ \t]*\n`)

// bracketLinkPattern matches a paragraph that is exactly <url> or <url|label>.
var bracketLinkPattern = regexp.MustCompile(`^<(https?://[^|>\s]+)(?:\|[^>]*)?>$`)

// urlPattern matches a paragraph that is exactly one http(s) URL.
var urlPattern = regexp.MustCompile(`^https?://[^\s<>"']+$`)

// ParseBody splits body into blocks. A paragraph consisting of a single URL
// becomes a link preview block; everything else is text. Internal /api/ URLs
// are never previewed.
func ParseBody(body string) []*Block {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	var blocks []*Block
	for _, para := range paragraphSep.Split(body, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		b := &Block{Position: len(blocks)}
		if u := PreviewURL(para); u != "" {
			b.Kind = KindLinkPreview
			b.PreviewURL = u
		} else {
			b.Kind = KindText
			b.Text = para
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// PreviewURL returns the URL a paragraph should be unfurled from, or "".
func PreviewURL(para string) string {
	para = strings.TrimSpace(para)

	var u string
	if m := bracketLinkPattern.FindStringSubmatch(para); len(m) > 1 {
		u = m[1]
	} else if urlPattern.MatchString(para) {
		// Strip trailing punctuation that is not part of URLs.
		u = strings.TrimRight(para, ".,;:!?")
	}

	if u == "" || strings.Contains(u, "/api/") {
		return ""
	}
	return u
}
