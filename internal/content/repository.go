package content

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrBlockNotFound    = errors.New("block not found")
	ErrSlugTaken        = errors.New("document slug already exists")
)

// Repository stores documents and their blocks.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateDocument inserts d and its blocks in one transaction, assigning ids
// and positions.
func (r *Repository) CreateDocument(ctx context.Context, d *Document) error {
	d.ID = ulid.Make().String()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, slug, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.ID, d.Slug, nullString(d.Title), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if isUniqueConstraintError(err) {
		return ErrSlugTaken
	}
	if err != nil {
		return err
	}

	for i, b := range d.Blocks {
		b.ID = ulid.Make().String()
		b.DocumentID = d.ID
		b.Position = i
		b.UpdatedAt = now
		if b.Kind == "" {
			b.Kind = KindText
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO blocks (id, document_id, position, kind, text, preview_url, preview_title,
				preview_description, preview_image, preview_favicon, preview_domain, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, b.DocumentID, b.Position, string(b.Kind), nullString(b.Text), nullString(b.PreviewURL),
			nullString(b.PreviewTitle), nullString(b.PreviewDescription), nullString(b.PreviewImage),
			nullString(b.PreviewFavicon), nullString(b.PreviewDomain), now.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetDocument returns the document with the given slug and all its blocks.
func (r *Repository) GetDocument(ctx context.Context, slug string) (*Document, error) {
	var d Document
	var title sql.NullString
	var createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, title, created_at, updated_at
		FROM documents WHERE slug = ?
	`, slug).Scan(&d.ID, &d.Slug, &title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Title = title.String
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	d.Blocks, err = r.ListBlocks(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListBlocks returns a document's blocks in position order.
func (r *Repository) ListBlocks(ctx context.Context, documentID string) ([]*Block, error) {
	return r.queryBlocks(ctx, `
		SELECT `+blockColumns+`
		FROM blocks WHERE document_id = ?
		ORDER BY position
	`, documentID)
}

// ListPreviewBlocks returns every link preview block across all documents.
// With onlyUnresolved set, blocks that already have a title are left out.
func (r *Repository) ListPreviewBlocks(ctx context.Context, onlyUnresolved bool) ([]*Block, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM blocks WHERE preview_url IS NOT NULL`
	if onlyUnresolved {
		query += ` AND (preview_title IS NULL OR preview_title = '')`
	}
	query += ` ORDER BY document_id, position`
	return r.queryBlocks(ctx, query)
}

// SavePreview writes all preview fields of b in one statement.
func (r *Repository) SavePreview(ctx context.Context, b *Block) error {
	b.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE blocks SET preview_title = ?, preview_description = ?, preview_image = ?,
			preview_favicon = ?, preview_domain = ?, updated_at = ?
		WHERE id = ?
	`, nullString(b.PreviewTitle), nullString(b.PreviewDescription), nullString(b.PreviewImage),
		nullString(b.PreviewFavicon), nullString(b.PreviewDomain), b.UpdatedAt.Format(time.RFC3339), b.ID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrBlockNotFound
	}
	return nil
}

const blockColumns = `id, document_id, position, kind, text, preview_url, preview_title,
	preview_description, preview_image, preview_favicon, preview_domain, updated_at`

func (r *Repository) queryBlocks(ctx context.Context, query string, args ...interface{}) ([]*Block, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		var b Block
		var kind, updatedAt string
		var text, url, title, description, image, favicon, domain sql.NullString

		if err := rows.Scan(&b.ID, &b.DocumentID, &b.Position, &kind, &text, &url, &title,
			&description, &image, &favicon, &domain, &updatedAt); err != nil {
			return nil, err
		}

		b.Kind = Kind(kind)
		b.Text = text.String
		b.PreviewURL = url.String
		b.PreviewTitle = title.String
		b.PreviewDescription = description.String
		b.PreviewImage = image.String
		b.PreviewFavicon = favicon.String
		b.PreviewDomain = domain.String
		b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		blocks = append(blocks, &b)
	}

	return blocks, rows.Err()
}

// nullString returns sql.NullString for optional text fields.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
