package linkpreview

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/andybalholm/brotli"
)

func newTestFetcher(opts Options) *Fetcher {
	return NewFetcherWithClient(opts, &http.Client{Timeout: DefaultTimeout})
}

func TestFetch_FullMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head>
			<meta property="og:title" content="Test Title">
			<meta property="og:description" content="Test Description">
		</head><body></body></html>`)
	}))
	defer srv.Close()

	f := newTestFetcher(Options{})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.URL != srv.URL {
		t.Errorf("url = %q, want %q", page.URL, srv.URL)
	}
	if page.ContentType != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", page.ContentType)
	}
	if meta := Extract(page.Prefix); meta.Title != "Test Title" {
		t.Errorf("title = %q, want %q", meta.Title, "Test Title")
	}
}

func TestFetch_SendsBrowserHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html></html>`)
	}))
	defer srv.Close()

	ua := "Mozilla/5.0 (test)"
	f := newTestFetcher(Options{UserAgent: ua})
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA != ua {
		t.Errorf("User-Agent = %q, want %q", gotUA, ua)
	}
	if !strings.HasPrefix(gotAccept, "text/html") {
		t.Errorf("Accept = %q, want text/html first", gotAccept)
	}
}

func TestFetch_NonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"key": "value"}`)
	}))
	defer srv.Close()

	f := newTestFetcher(Options{})
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrNotHTML) {
		t.Fatalf("err = %v, want ErrNotHTML", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T, want *FetchError", err)
	}
}

func TestFetch_SniffsMissingContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		fmt.Fprint(w, `<!DOCTYPE html><html><head><title>Sniffed</title></head></html>`)
	}))
	defer srv.Close()

	f := newTestFetcher(Options{})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if meta := Extract(page.Prefix); meta.Title != "Sniffed" {
		t.Errorf("title = %q, want %q", meta.Title, "Sniffed")
	}
}

func TestFetch_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(Options{})
	_, err := f.Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", fe.StatusCode, http.StatusNotFound)
	}
}

func TestFetch_UnsupportedURL(t *testing.T) {
	f := newTestFetcher(Options{})
	for _, raw := range []string{"ftp://example.com/x", "not a url", "https://", "javascript:alert(1)"} {
		_, err := f.Fetch(context.Background(), raw)
		if !errors.Is(err, ErrUnsupportedURL) {
			t.Errorf("Fetch(%q) err = %v, want ErrUnsupportedURL", raw, err)
		}
	}
}

func TestFetch_BodySizeLimit(t *testing.T) {
	largeHead := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>Big Page</title><!-- %s --><meta property="og:description" content="Too far"></head></html>`, largeHead)
	}))
	defer srv.Close()

	f := newTestFetcher(Options{MaxBodySize: 1024})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(page.Prefix) != 1024 {
		t.Errorf("prefix length = %d, want 1024", len(page.Prefix))
	}
	meta := Extract(page.Prefix)
	if meta.Title != "Big Page" {
		t.Errorf("title = %q, want %q", meta.Title, "Big Page")
	}
	if meta.Description != "" {
		t.Errorf("description = %q, want empty (beyond prefix)", meta.Description)
	}
}

func TestFetch_ContentEncoding(t *testing.T) {
	const page = `<html><head><title>Encoded</title></head></html>`

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(page))
	_ = gw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(page))
	_ = bw.Close()

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"gzip", gz.Bytes()},
		{"br", br.Bytes()},
		{"", []byte(page)},
	}

	for _, tt := range tests {
		t.Run("encoding="+tt.encoding, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			f := newTestFetcher(Options{})
			p, err := f.Fetch(context.Background(), srv.URL)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if meta := Extract(p.Prefix); meta.Title != "Encoded" {
				t.Errorf("title = %q, want %q", meta.Title, "Encoded")
			}
		})
	}
}

func TestFetch_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<title>Moved</title>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(Options{AllowPrivate: true})
	page, err := f.Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.FinalURL != srv.URL+"/new" {
		t.Errorf("final url = %q, want %q", page.FinalURL, srv.URL+"/new")
	}
}

func TestFetch_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	f := NewFetcher(Options{AllowPrivate: true})
	if _, err := f.Fetch(context.Background(), srv.URL+"/"); err == nil {
		t.Fatal("expected error for redirect loop")
	}
}

func TestFetch_RejectsPrivateByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<title>Internal</title>`)
	}))
	defer srv.Close()

	f := NewFetcher(Options{})
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected loopback target to be rejected")
	}
	if !strings.Contains(err.Error(), "private IP") {
		t.Errorf("err = %v, want private IP rejection", err)
	}
}

func TestFetch_ProxyEnvironmentDoesNotBypassGuard(t *testing.T) {
	var proxied atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<title>Metadata</title>`)
	}))
	defer proxy.Close()
	t.Setenv("HTTP_PROXY", proxy.URL)
	t.Setenv("HTTPS_PROXY", proxy.URL)

	f := NewFetcher(Options{})
	_, err := f.Fetch(context.Background(), "http://10.255.255.1/latest/meta-data")
	if err == nil {
		t.Fatal("expected private target to be rejected")
	}
	if !strings.Contains(err.Error(), "private IP 10.255.255.1") {
		t.Errorf("err = %v, want private IP rejection of the target", err)
	}
	if n := proxied.Load(); n != 0 {
		t.Errorf("proxy requests = %d, want 0", n)
	}
}

func TestNewTransport_NoProxy(t *testing.T) {
	for _, allow := range []bool{false, true} {
		tr := newTransport(Options{AllowPrivate: allow}.withDefaults())
		if tr.Proxy != nil {
			t.Errorf("AllowPrivate=%v: transport Proxy is set, want nil", allow)
		}
		if tr.DialContext == nil {
			t.Errorf("AllowPrivate=%v: DialContext is nil", allow)
		}
	}
}

func TestPrivateIPRejection(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP %s", tt.ip)
			}
			got := isPrivateIP(ip)
			if got != tt.want {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
