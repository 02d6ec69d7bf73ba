package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/enzyme/unfurl/internal/content"
	"github.com/enzyme/unfurl/internal/linkpreview"
)

type fakeResolver struct {
	mu      sync.Mutex
	records map[string]linkpreview.Record
	calls   []string
}

func (f *fakeResolver) Resolve(ctx context.Context, rawURL string) linkpreview.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if rec, ok := f.records[rawURL]; ok {
		return rec
	}
	return linkpreview.Record{URL: rawURL, Domain: linkpreview.DomainOf(rawURL)}
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeImages struct {
	mu    sync.Mutex
	fail  bool
	slugs []string
}

func (f *fakeImages) Persist(ctx context.Context, imageURL, slug string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slugs = append(f.slugs, slug)
	if f.fail {
		return "", &linkpreview.ImagePersistError{ImageURL: imageURL, Slug: slug, Err: errors.New("boom")}
	}
	return "/images/link-previews/" + linkpreview.Slugify(slug) + ".png", nil
}

func (f *fakeImages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slugs)
}

func previewBlock(url string) *content.Block {
	return &content.Block{Kind: content.KindLinkPreview, PreviewURL: url}
}

func TestReconcile_IdempotentSecondPass(t *testing.T) {
	resolver := &fakeResolver{records: map[string]linkpreview.Record{
		"https://example.com/post": {
			URL:    "https://example.com/post",
			Title:  "Hello",
			Image:  "https://example.com/cover.png",
			Domain: "example.com",
		},
	}}
	images := &fakeImages{}
	r := New(resolver, images, Options{Concurrency: 1})
	ctx := context.Background()

	blocks := []*content.Block{previewBlock("https://example.com/post")}

	first := r.Reconcile(ctx, blocks)
	if first.Resolved != 1 || len(first.Updated) != 1 {
		t.Fatalf("first pass = %+v, want 1 resolved", first)
	}
	want := *blocks[0]

	second := r.Reconcile(ctx, blocks)
	if second.Skipped != 1 || second.Resolved != 0 || len(second.Updated) != 0 {
		t.Errorf("second pass = %+v, want 1 skipped", second)
	}
	if resolver.callCount() != 1 {
		t.Errorf("resolver calls = %d, want 1", resolver.callCount())
	}
	if images.callCount() != 1 {
		t.Errorf("image calls = %d, want 1", images.callCount())
	}
	if *blocks[0] != want {
		t.Errorf("block changed on second pass: %+v, want %+v", *blocks[0], want)
	}
}

func TestReconcile_FillsBlock(t *testing.T) {
	resolver := &fakeResolver{records: map[string]linkpreview.Record{
		"https://example.com/post": {
			URL:         "https://example.com/post",
			Title:       "A Post",
			Description: "Words",
			Image:       "https://cdn.example.com/a.png",
			Favicon:     "https://example.com/favicon.ico",
			Domain:      "example.com",
		},
	}}
	images := &fakeImages{}
	r := New(resolver, images, Options{})

	b := previewBlock("https://example.com/post")
	r.Reconcile(context.Background(), []*content.Block{b})

	if b.PreviewTitle != "A Post" || b.PreviewDescription != "Words" {
		t.Errorf("block = %+v", b)
	}
	if b.PreviewImage != "/images/link-previews/a-post.png" {
		t.Errorf("image = %q, want %q", b.PreviewImage, "/images/link-previews/a-post.png")
	}
	if b.PreviewFavicon != "https://example.com/favicon.ico" {
		t.Errorf("favicon = %q", b.PreviewFavicon)
	}
	if b.PreviewDomain != "example.com" {
		t.Errorf("domain = %q", b.PreviewDomain)
	}
}

func TestReconcile_ImageFailureKeepsOtherFields(t *testing.T) {
	resolver := &fakeResolver{records: map[string]linkpreview.Record{
		"https://example.com/post": {
			URL:         "https://example.com/post",
			Title:       "A Post",
			Description: "Words",
			Image:       "https://cdn.example.com/a.png",
			Domain:      "example.com",
		},
	}}
	r := New(resolver, &fakeImages{fail: true}, Options{})

	b := previewBlock("https://example.com/post")
	stats := r.Reconcile(context.Background(), []*content.Block{b})

	if stats.ImageFailures != 1 || stats.Resolved != 1 {
		t.Errorf("stats = %+v, want 1 resolved with 1 image failure", stats)
	}
	if b.PreviewImage != "" {
		t.Errorf("image = %q, want empty", b.PreviewImage)
	}
	if b.PreviewTitle != "A Post" || b.PreviewDescription != "Words" || b.PreviewDomain != "example.com" {
		t.Errorf("block lost fields: %+v", b)
	}
}

func TestReconcile_SlugSource(t *testing.T) {
	resolver := &fakeResolver{records: map[string]linkpreview.Record{
		"https://example.com/titled": {
			URL: "https://example.com/titled", Title: "Titled Page", Image: "https://example.com/1.png",
		},
		"https://example.com/untitled": {
			URL: "https://example.com/untitled", Image: "https://example.com/2.png",
		},
	}}
	images := &fakeImages{}
	r := New(resolver, images, Options{})

	r.Reconcile(context.Background(), []*content.Block{
		previewBlock("https://example.com/titled"),
		previewBlock("https://example.com/untitled"),
	})

	want := []string{"titled-page", "example-com-untitled"}
	if len(images.slugs) != len(want) {
		t.Fatalf("slugs = %v, want %v", images.slugs, want)
	}
	for i := range want {
		if images.slugs[i] != want[i] {
			t.Errorf("slugs[%d] = %q, want %q", i, images.slugs[i], want[i])
		}
	}
}

func TestReconcile_UnresolvedRetried(t *testing.T) {
	resolver := &fakeResolver{}
	r := New(resolver, &fakeImages{}, Options{})
	blocks := []*content.Block{previewBlock("https://down.example.com/")}

	for i := 0; i < 2; i++ {
		stats := r.Reconcile(context.Background(), blocks)
		if stats.Unresolved != 1 {
			t.Errorf("pass %d: stats = %+v, want 1 unresolved", i, stats)
		}
	}
	if resolver.callCount() != 2 {
		t.Errorf("resolver calls = %d, want 2", resolver.callCount())
	}
	if blocks[0].PreviewDomain != "down.example.com" {
		t.Errorf("domain = %q, want %q", blocks[0].PreviewDomain, "down.example.com")
	}
}

func TestReconcile_IgnoresNonPreviewBlocks(t *testing.T) {
	resolver := &fakeResolver{}
	r := New(resolver, nil, Options{})

	stats := r.Reconcile(context.Background(), []*content.Block{
		{Kind: content.KindText, Text: "hello"},
		{Kind: content.KindLinkPreview, PreviewURL: "https://example.com", PreviewTitle: "Done"},
	})
	if stats.Scanned != 1 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 1 scanned and skipped", stats)
	}
	if resolver.callCount() != 0 {
		t.Errorf("resolver calls = %d, want 0", resolver.callCount())
	}
}

func TestReconcile_NoImageSaverDropsRemoteImage(t *testing.T) {
	resolver := &fakeResolver{records: map[string]linkpreview.Record{
		"https://example.com/": {URL: "https://example.com/", Title: "T", Image: "https://example.com/i.png"},
	}}
	r := New(resolver, nil, Options{})

	b := previewBlock("https://example.com/")
	r.Reconcile(context.Background(), []*content.Block{b})
	if b.PreviewImage != "" {
		t.Errorf("image = %q, want empty", b.PreviewImage)
	}
}

func TestReconcile_Concurrent(t *testing.T) {
	resolver := &fakeResolver{records: map[string]linkpreview.Record{}}
	var blocks []*content.Block
	for _, u := range []string{
		"https://a.example.com/1", "https://b.example.com/2", "https://c.example.com/3",
		"https://d.example.com/4", "https://e.example.com/5",
	} {
		resolver.records[u] = linkpreview.Record{URL: u, Title: "Title " + u, Domain: linkpreview.DomainOf(u)}
		blocks = append(blocks, previewBlock(u))
	}

	r := New(resolver, &fakeImages{}, Options{Concurrency: 3})
	stats := r.Reconcile(context.Background(), blocks)

	if stats.Resolved != 5 || len(stats.Updated) != 5 {
		t.Errorf("stats = %+v, want 5 resolved", stats)
	}
	for _, b := range blocks {
		if b.PreviewTitle != "Title "+b.PreviewURL {
			t.Errorf("block %s title = %q", b.PreviewURL, b.PreviewTitle)
		}
	}
}

func TestReconcile_CancelledLeavesBlocksUntouched(t *testing.T) {
	resolver := &fakeResolver{}
	r := New(resolver, &fakeImages{}, Options{PerHostRPS: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := previewBlock("https://example.com/")
	stats := r.Reconcile(ctx, []*content.Block{b})
	if len(stats.Updated) != 0 {
		t.Errorf("updated = %d, want 0", len(stats.Updated))
	}
	if resolver.callCount() != 0 {
		t.Errorf("resolver calls = %d, want 0", resolver.callCount())
	}
	if b.PreviewDomain != "" {
		t.Errorf("block was modified: %+v", b)
	}
}

// cancellingResolver cancels the pass mid-fetch and returns the degraded
// record a real fetcher would.
type cancellingResolver struct {
	cancel context.CancelFunc
}

func (c cancellingResolver) Resolve(ctx context.Context, rawURL string) linkpreview.Record {
	c.cancel()
	return linkpreview.Record{URL: rawURL, Domain: linkpreview.DomainOf(rawURL)}
}

func TestReconcile_CancelledDuringResolveKeepsBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	images := &fakeImages{}
	r := New(cancellingResolver{cancel: cancel}, images, Options{Concurrency: 1})

	b := previewBlock("https://example.com/post")
	b.PreviewDescription = "Typed by hand"
	b.PreviewImage = "/images/link-previews/post.png"

	stats := r.Reconcile(ctx, []*content.Block{b})
	if len(stats.Updated) != 0 {
		t.Errorf("updated = %d, want 0", len(stats.Updated))
	}
	if stats.Unresolved != 1 {
		t.Errorf("unresolved = %d, want 1", stats.Unresolved)
	}
	if b.PreviewDescription != "Typed by hand" {
		t.Errorf("description = %q, want %q", b.PreviewDescription, "Typed by hand")
	}
	if b.PreviewImage != "/images/link-previews/post.png" {
		t.Errorf("image = %q, want %q", b.PreviewImage, "/images/link-previews/post.png")
	}
	if b.PreviewDomain != "" {
		t.Errorf("domain = %q, want empty", b.PreviewDomain)
	}
	if images.callCount() != 0 {
		t.Errorf("image calls = %d, want 0", images.callCount())
	}
}

func TestHostLimiter(t *testing.T) {
	l := NewHostLimiter(20)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "example.com"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 waits on one host took %v, want >= 80ms", elapsed)
	}

	start = time.Now()
	if err := l.Wait(ctx, "other.example.com"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("first wait on a new host took %v, want immediate", elapsed)
	}
}

func TestHostLimiter_Cancelled(t *testing.T) {
	l := NewHostLimiter(0.001)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_ = l.Wait(ctx, "example.com")
	if err := l.Wait(ctx, "example.com"); err == nil {
		t.Error("expected error waiting past the deadline")
	}
}
