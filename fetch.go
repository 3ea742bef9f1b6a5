package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"

const htmlAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// errResponseTooLarge is returned when a body exceeds the configured cap.
var errResponseTooLarge = errors.New("response body exceeds maximum allowed size")

// fetcher retrieves pages and images. A zero timeout means no client
// timeout; a zero maxBytes means unlimited.
type fetcher struct {
	timeout      time.Duration
	userAgent    string
	proxy        string
	maxBytes     int64
	allowPrivate bool
	browser      bool
	log          *slog.Logger

	// Clients are built on first use and shared by every request so
	// keep-alive connections are reused instead of piling up.
	clientsOnce sync.Once
	plain       *http.Client
	secure      *http.Client
	transports  []*http.Transport
}

func newFetcher(cfg Config, log *slog.Logger) *fetcher {
	return &fetcher{
		timeout:      cfg.Timeout,
		userAgent:    cfg.UserAgent,
		proxy:        cfg.Proxy,
		maxBytes:     cfg.MaxResponseBytes,
		allowPrivate: cfg.AllowPrivate,
		browser:      cfg.Browser,
		log:          log,
	}
}

func humanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// readLimited reads up to limit bytes from r and fails if there is more.
// A limit of 0 or less reads everything.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// Read limit+1 bytes so we can detect overflow without a custom reader.
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%s)", errResponseTooLarge, humanSize(limit))
	}
	return data, nil
}

// client picks the shared client for a URL scheme. A configured proxy forces
// standard TLS because uTLS cannot negotiate CONNECT tunnels.
func (f *fetcher) client(scheme string) *http.Client {
	f.clientsOnce.Do(f.buildClients)
	if scheme == "https" {
		return f.secure
	}
	return f.plain
}

func (f *fetcher) buildClients() {
	dialer := &net.Dialer{Timeout: f.timeout}
	dial := safeDialContext(dialer, f.allowPrivate)

	h1 := &http.Transport{
		DialContext:         dial,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	f.transports = append(f.transports, h1)

	if f.proxy != "" {
		if proxyURL, err := url.Parse(f.proxy); err == nil {
			h1.Proxy = http.ProxyURL(proxyURL)
		}
		f.plain = &http.Client{Timeout: f.timeout, Transport: h1}
		f.secure = f.plain
		return
	}

	f.plain = &http.Client{Timeout: f.timeout, Transport: h1}
	f.secure = &http.Client{
		Timeout: f.timeout,
		Transport: &browserTransport{
			dial: dial,
			h1:   h1,
			h2:   &http2.Transport{},
		},
	}
}

// closeIdle drops pooled connections once a batch is done.
func (f *fetcher) closeIdle() {
	for _, t := range f.transports {
		t.CloseIdleConnections()
	}
}

// get performs a GET with browser-like headers and returns the body and
// its media type. Non-2xx responses become a FetchError carrying the status.
func (f *fetcher) get(ctx context.Context, rawURL, accept string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Cause: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", &FetchError{URL: rawURL, Cause: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Cause: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")

	resp, err := f.client(parsed.Scheme).Do(req)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &FetchError{
			URL:    rawURL,
			Status: resp.StatusCode,
			Cause:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, "", &FetchError{URL: rawURL, Cause: fmt.Errorf("reading response: %w", err)}
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(body)
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = mime[:i]
		}
	}
	return body, mime, nil
}

// fetchHTML downloads a page and returns the HTML body and parsed URL.
// In browser mode the page is rendered by headless Chrome instead.
func (f *fetcher) fetchHTML(ctx context.Context, rawURL string) ([]byte, *url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, &FetchError{URL: rawURL, Cause: fmt.Errorf("invalid URL: %w", err)}
	}

	var body []byte
	if f.browser {
		body, err = f.render(ctx, parsed)
	} else {
		body, _, err = f.get(ctx, rawURL, htmlAccept)
	}
	if err != nil {
		return nil, nil, err
	}

	f.log.Debug("fetched page", "url", rawURL, "size", humanSize(int64(len(body))))
	return body, parsed, nil
}

// render loads the page in headless Chrome. Chrome does its own dialing, so
// the host is checked up front and the size cap applies to the captured DOM.
// Redirects and subresources inside the browser are not guarded.
func (f *fetcher) render(ctx context.Context, u *url.URL) ([]byte, error) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{URL: u.String(), Cause: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if !f.allowPrivate {
		if _, err := publicIP(ctx, u.Hostname()); err != nil {
			return nil, &FetchError{URL: u.String(), Cause: err}
		}
	}

	body, err := renderWithBrowser(ctx, u.String(), f.timeout)
	if err != nil {
		return nil, err
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, &FetchError{URL: u.String(), Cause: fmt.Errorf("%w (%s)", errResponseTooLarge, humanSize(f.maxBytes))}
	}
	return body, nil
}

// utlsConn wraps a utls.UConn and satisfies net.Conn + the
// ConnectionState interface that net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// browserTransport dials TLS with a Firefox fingerprint and routes the
// connection to HTTP/1.1 or HTTP/2 based on ALPN.
type browserTransport struct {
	dial func(context.Context, string, string) (net.Conn, error)
	h1   *http.Transport
	h2   *http2.Transport
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr string) (net.Conn, string, error) {
	conn, err := bt.dial(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloFirefox_120)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}

	return &utlsConn{tlsConn}, tlsConn.ConnectionState().NegotiatedProtocol, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr = net.JoinHostPort(addr, "443")
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := h2conn.RoundTrip(req)
		if err != nil {
			h2conn.Close()
			return nil, err
		}
		resp.Body = &closeWithBody{ReadCloser: resp.Body, conn: h2conn}
		return resp, nil
	}

	// HTTP/1.1: hand the established TLS conn to a one-shot transport that
	// closes it along with the response body.
	transport := &http.Transport{
		DisableKeepAlives: true,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
	}
	resp, err := transport.RoundTrip(req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return resp, nil
}

// closeWithBody closes a single-use connection when its response body is
// closed.
type closeWithBody struct {
	io.ReadCloser
	conn io.Closer
}

func (b *closeWithBody) Close() error {
	err := b.ReadCloser.Close()
	b.conn.Close()
	return err
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
