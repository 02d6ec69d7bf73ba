package content

import (
	"time"

	"github.com/enzyme/unfurl/internal/linkpreview"
)

// Kind distinguishes plain paragraphs from link previews.
type Kind string

const (
	KindText        Kind = "text"
	KindLinkPreview Kind = "link_preview"
)

// Document is an authored page made of ordered blocks.
type Document struct {
	ID        string
	Slug      string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Blocks    []*Block
}

// Block is one unit of a document body. Link preview blocks carry the source
// URL in PreviewURL and the resolved fields alongside it.
type Block struct {
	ID         string
	DocumentID string
	Position   int
	Kind       Kind
	Text       string

	PreviewURL         string
	PreviewTitle       string
	PreviewDescription string
	PreviewImage       string
	PreviewFavicon     string
	PreviewDomain      string

	UpdatedAt time.Time
}

// IsPreview reports whether the block asks for a link preview.
func (b *Block) IsPreview() bool {
	return b.PreviewURL != ""
}

// Resolved reports whether the block already has preview metadata. Title is
// the only field that decides it.
func (b *Block) Resolved() bool {
	return b.PreviewTitle != ""
}

// Record returns the block's preview fields as a record.
func (b *Block) Record() linkpreview.Record {
	return linkpreview.Record{
		URL:         b.PreviewURL,
		Title:       b.PreviewTitle,
		Description: b.PreviewDescription,
		Image:       b.PreviewImage,
		Favicon:     b.PreviewFavicon,
		Domain:      b.PreviewDomain,
	}
}

// Apply replaces every preview field with the record's values. The block's
// PreviewURL is kept as authored.
func (b *Block) Apply(r linkpreview.Record) {
	b.PreviewTitle = r.Title
	b.PreviewDescription = r.Description
	b.PreviewImage = r.Image
	b.PreviewFavicon = r.Favicon
	b.PreviewDomain = r.Domain
}
