package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/enzyme/unfurl/internal/database"
	"github.com/oklog/ulid/v2"
)

// TestDB creates an in-memory SQLite database with migrations applied.
// The database is automatically closed when the test completes.
func TestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("running migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db.DB
}

// TestBlock describes a block to insert. A non-empty PreviewURL makes it a
// link preview block.
type TestBlock struct {
	Text         string
	PreviewURL   string
	PreviewTitle string
	PreviewImage string
}

// TestDocument represents a test document
type TestDocument struct {
	ID       string
	Slug     string
	BlockIDs []string
}

// CreateTestDocument creates a document and its blocks directly in the
// database without using the content package
func CreateTestDocument(t *testing.T, db *sql.DB, slug string, blocks ...TestBlock) *TestDocument {
	t.Helper()

	ctx := context.Background()
	id := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (id, slug, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, slug, slug, now, now)
	if err != nil {
		t.Fatalf("creating test document: %v", err)
	}

	doc := &TestDocument{ID: id, Slug: slug}
	for i, b := range blocks {
		blockID := ulid.Make().String()
		kind := "text"
		if b.PreviewURL != "" {
			kind = "link_preview"
		}

		_, err := db.ExecContext(ctx, `
			INSERT INTO blocks (id, document_id, position, kind, text, preview_url, preview_title, preview_image, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, blockID, id, i, kind, nullable(b.Text), nullable(b.PreviewURL), nullable(b.PreviewTitle), nullable(b.PreviewImage), now)
		if err != nil {
			t.Fatalf("creating test block: %v", err)
		}
		doc.BlockIDs = append(doc.BlockIDs, blockID)
	}

	return doc
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
