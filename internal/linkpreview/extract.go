package linkpreview

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Extract scans the head of an HTML prefix for preview metadata. It never
// fails: malformed or truncated input yields empty fields.
//
// Priority per field:
//
//	title:       og:title, then <title>
//	description: og:description, then <meta name="description">
//	image:       og:image
//	favicon:     <link rel="icon">, then apple-touch-icon, then mask-icon
func Extract(prefix []byte) Metadata {
	return parseHead(bytes.NewReader(prefix))
}

// headScan accumulates candidates while tokenizing. The first occurrence of
// each candidate wins.
type headScan struct {
	ogTitle     string
	ogDesc      string
	ogImage     string
	title       string
	metaDesc    string
	favicon     string
	faviconRank int

	inTitle  bool
	titleBuf strings.Builder
}

func parseHead(r io.Reader) Metadata {
	z := html.NewTokenizer(r)
	s := &headScan{}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a tag cut off by the prefix bound. Either way,
			// keep what was complete.
			return s.result()

		case html.TextToken:
			if s.inTitle {
				s.titleBuf.Write(z.Text())
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			switch string(tn) {
			case "title":
				if s.inTitle {
					s.inTitle = false
					setFirst(&s.title, s.titleBuf.String())
				}
			case "head":
				return s.result()
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			switch string(tn) {
			case "body":
				// Stop parsing at <body>.
				return s.result()
			case "title":
				if tt == html.StartTagToken && s.title == "" {
					s.inTitle = true
					s.titleBuf.Reset()
				}
			case "meta":
				if hasAttr {
					s.meta(readAttrs(z))
				}
			case "link":
				if hasAttr {
					s.link(readAttrs(z))
				}
			}
		}
	}
}

func (s *headScan) meta(attrs map[string]string) {
	content := attrs["content"]
	for _, key := range []string{attrs["property"], attrs["name"]} {
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "og:title":
			setFirst(&s.ogTitle, content)
		case "og:description":
			setFirst(&s.ogDesc, content)
		case "og:image", "og:image:url":
			setFirst(&s.ogImage, strings.TrimSpace(content))
		}
	}
	if strings.EqualFold(strings.TrimSpace(attrs["name"]), "description") {
		setFirst(&s.metaDesc, content)
	}
}

func (s *headScan) link(attrs map[string]string) {
	href := strings.TrimSpace(attrs["href"])
	if href == "" {
		return
	}
	rank := iconRank(attrs["rel"])
	if rank == 0 {
		return
	}
	if s.faviconRank == 0 || rank < s.faviconRank {
		s.favicon = href
		s.faviconRank = rank
	}
}

// iconRank orders rel values; lower is preferred, zero is not an icon.
func iconRank(rel string) int {
	best := 0
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		var rank int
		switch token {
		case "icon":
			rank = 1
		case "apple-touch-icon", "apple-touch-icon-precomposed":
			rank = 2
		case "mask-icon":
			rank = 3
		}
		if rank != 0 && (best == 0 || rank < best) {
			best = rank
		}
	}
	return best
}

func (s *headScan) result() Metadata {
	m := Metadata{
		Title:       s.ogTitle,
		Description: s.ogDesc,
		Image:       s.ogImage,
		Favicon:     s.favicon,
	}
	if m.Title == "" {
		m.Title = s.title
	}
	if m.Description == "" {
		m.Description = s.metaDesc
	}
	return m
}

// setFirst stores the whitespace-collapsed value unless dst is already set.
// Blank values never count as found.
func setFirst(dst *string, value string) {
	if *dst != "" {
		return
	}
	*dst = strings.Join(strings.Fields(value), " ")
}

// readAttrs collects all attributes from the current tag token. The
// tokenizer lower-cases keys and unescapes values.
func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if k != "" {
			if _, seen := attrs[k]; !seen {
				attrs[k] = string(val)
			}
		}
		if !more {
			break
		}
	}
	return attrs
}
