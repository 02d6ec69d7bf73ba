package linkpreview

import "strings"

const maxSlugLen = 80

// Slugify lower-cases s and collapses every run of characters outside
// [a-z0-9] into a single "-". Two different inputs can produce the same slug;
// the image persisted for one then overwrites the other's.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	slug := b.String()
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// SlugFor picks the slug for a record's image: the title when it yields a
// usable slug, otherwise the URL.
func SlugFor(r Record) string {
	if s := Slugify(r.Title); s != "" {
		return s
	}
	return Slugify(strings.TrimPrefix(strings.TrimPrefix(r.URL, "https://"), "http://"))
}
