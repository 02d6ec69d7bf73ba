package linkpreview

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxBodySize  = 100 * 1024 // 100 KB
	DefaultMaxImageSize = 5 << 20    // 5 MB
	DefaultTimeout      = 8 * time.Second
	maxRedirects        = 5
	instrumentationName = "github.com/enzyme/unfurl/internal/linkpreview"
)

// Options configures outbound HTTP for fetching pages and images.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int64
	MaxImageSize int64
	// AllowPrivate disables the private address guard. Only tests and
	// trusted intranets should set it.
	AllowPrivate bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBodySize <= 0 {
		o.MaxBodySize = DefaultMaxBodySize
	}
	if o.MaxImageSize <= 0 {
		o.MaxImageSize = DefaultMaxImageSize
	}
	return o
}

// Page is the bounded prefix of a fetched HTML document.
type Page struct {
	URL         string
	FinalURL    string
	ContentType string
	Prefix      []byte
}

// Fetcher retrieves a bounded prefix of remote HTML documents.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	tracer      trace.Tracer
}

// NewFetcher creates a Fetcher with an SSRF-safe HTTP client.
func NewFetcher(opts Options) *Fetcher {
	return NewFetcherWithClient(opts, nil)
}

// NewFetcherWithClient creates a Fetcher with a custom HTTP client.
// If client is nil, NewHTTPClient(opts) is used.
func NewFetcherWithClient(opts Options, client *http.Client) *Fetcher {
	opts = opts.withDefaults()
	if client == nil {
		client = NewHTTPClient(opts)
	}
	return &Fetcher{
		client:      client,
		userAgent:   opts.UserAgent,
		maxBodySize: opts.MaxBodySize,
		tracer:      otel.Tracer(instrumentationName),
	}
}

// NewHTTPClient builds the client shared by page and image downloads: a
// request timeout, a redirect cap, and a dialer that refuses private
// addresses unless opts.AllowPrivate is set.
func NewHTTPClient(opts Options) *http.Client {
	opts = opts.withDefaults()

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: otelhttp.NewTransport(newTransport(opts)),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// newTransport dials targets directly. Proxy stays nil: through a proxy the
// dialer would only ever see the proxy's address.
func newTransport(opts Options) *http.Transport {
	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	dial := dialer.DialContext
	if !opts.AllowPrivate {
		dial = safeDialContext(dialer)
	}

	return &http.Transport{
		DialContext:           dial,
		TLSHandshakeTimeout:   opts.Timeout,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Fetch downloads at most the configured prefix of the HTML document at
// rawURL. Every failure is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	ctx, span := f.tracer.Start(ctx, "linkpreview.Fetch", trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	page, err := f.fetch(ctx, rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("unfurl.prefix_bytes", len(page.Prefix)))
	return page, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !isHTML(ct) {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("%w: %s", ErrNotHTML, ct)}
	}

	body, closeBody, err := decodeBody(resp)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer closeBody()

	// Stop after the prefix; the rest of the document is never read.
	prefix, err := io.ReadAll(io.LimitReader(body, f.maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("reading body: %w", err)}
	}

	if ct == "" {
		ct = http.DetectContentType(prefix)
		if !isHTML(ct) {
			return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("%w: %s", ErrNotHTML, ct)}
		}
	}

	finalURL := u.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:         u.String(),
		FinalURL:    finalURL,
		ContentType: ct,
		Prefix:      prefix,
	}, nil
}

// decodeBody undoes Content-Encoding. Setting Accept-Encoding ourselves
// turns off the transport's transparent gzip handling.
func decodeBody(resp *http.Response) (io.Reader, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip decode: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case "br":
		return brotli.NewReader(resp.Body), noop, nil
	case "deflate":
		fl := flate.NewReader(resp.Body)
		return fl, func() { _ = fl.Close() }, nil
	default:
		return resp.Body, noop, nil
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}
	return u, nil
}

// privateRanges are CIDR blocks for private / loopback IPs.
var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",
		"127.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, block, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, block)
	}
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() {
		return true
	}
	for _, block := range privateRanges {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// safeDialContext resolves DNS then rejects private IPs before connecting.
// Redirect targets go through the same dialer.
func safeDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no addresses for %s", host)
		}

		for _, ip := range ips {
			if isPrivateIP(ip.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ip.IP)
			}
		}

		// Connect to the first resolved IP.
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
}
