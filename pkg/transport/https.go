package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Recommended TLS 1.2 cipher suites
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// maxResponseSize bounds the response body read by Client.Send. An MDN is a
// few kilobytes.
const maxResponseSize = 1 << 20

// HTTPSConfig contains HTTPS client/server configuration
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	ClientAuth      tls.ClientAuthType
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	ClientCAs       *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ClientAuth:      tls.NoClientCert,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
	}
}

// ClientTLSConfig returns the tls.Config used for outbound connections.
func (c *HTTPSConfig) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   c.MinTLSVersion,
		MaxVersion:   c.MaxTLSVersion,
		CipherSuites: c.CipherSuites,
		Certificates: c.Certificates,
		RootCAs:      c.RootCAs,
	}
}

// ServerTLSConfig returns the tls.Config used by the inbound listener.
func (c *HTTPSConfig) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   c.MinTLSVersion,
		MaxVersion:   c.MaxTLSVersion,
		CipherSuites: c.CipherSuites,
		Certificates: c.Certificates,
		ClientCAs:    c.ClientCAs,
		ClientAuth:   c.ClientAuth,
	}
}

// Response is what the partner returned for a posted message.
type Response struct {
	StatusCode int
	Headers    message.Headers
	Body       []byte
}

// HasBody reports whether the partner returned content, i.e. an inline MDN.
func (r *Response) HasBody() bool {
	return len(r.Body) > 0
}

// Client posts AS2 messages over HTTP(S).
type Client struct {
	client *http.Client
	config *HTTPSConfig
}

// NewClient creates a new client. The TLS settings apply to https URLs.
func NewClient(config *HTTPSConfig) *Client {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     config.ClientTLSConfig(),
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
	}
}

// Send posts body with headers to endpoint. Every failure, including a
// non-2xx status, wraps message.ErrTransport.
func (c *Client) Send(ctx context.Context, endpoint string, headers message.Headers, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", message.ErrTransport, err)
	}
	headers.Each(func(name, value string) {
		req.Header.Set(name, value)
	})
	req.ContentLength = int64(len(body))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", message.ErrTransport, err)
	}
	defer resp.Body.Close()

	var rd io.Reader = resp.Body
	if encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); encoding != "" && encoding != "identity" {
		decoded, err := decodeContentEncoding(encoding, resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode response: %v", message.ErrTransport, err)
		}
		defer decoded.Close()
		rd = decoded
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}

	respBody, err := io.ReadAll(io.LimitReader(rd, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", message.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status code %d: %s", message.ErrTransport, resp.StatusCode, truncate(respBody, 256))
	}
	if len(respBody) > maxResponseSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", message.ErrTransport, maxResponseSize)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    message.FromHTTPHeader(resp.Header),
		Body:       respBody,
	}, nil
}

// decodeContentEncoding undoes a gzip or deflate Content-Encoding. AS2
// requests name their Accept-Encoding explicitly, which turns off the
// transparent decompression of net/http.
func decodeContentEncoding(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch encoding {
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		// deflate is zlib-wrapped per RFC 9110, raw DEFLATE from some servers
		br := bufio.NewReader(r)
		if header, err := br.Peek(2); err == nil && isZlibHeader(header) {
			return zlib.NewReader(br)
		}
		return flate.NewReader(br), nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
