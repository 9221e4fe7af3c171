// Package http implements afcp.Transport over plain HTTP/2 (h2c) to local
// agent endpoints, reusing hearthctl's hardened TLS defaults for any
// endpoint that does present a TLS certificate.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/http2"

	"github.com/dkossnick/hearthctl/afcp"
	"github.com/dkossnick/hearthctl/internal/tlsutil"
)

// Option configures a Transport.
type Option func(*Transport)

// WithAgentToken signs a short-lived HS256 bearer token with secret and
// attaches it as an Authorization header on every outbound Send, for
// agent endpoints that require authenticated dispatch. issuer and audience
// populate the standard JWT claims; ttl bounds the token's lifetime.
func WithAgentToken(secret, issuer, audience string, ttl time.Duration) Option {
	return func(t *Transport) {
		t.tokenSecret = []byte(secret)
		t.tokenIssuer = issuer
		t.tokenAudience = audience
		t.tokenTTL = ttl
	}
}

// WithHTTPClient overrides the default h2c/TLS client, primarily for
// tests that want to point Send at an httptest.Server.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// Transport dispatches AFCP Send calls as HTTP POST requests to
// "<endpoint>/afcp/v1/dispatch/<capability>", treating the response body as
// the agent's reply payload.
type Transport struct {
	client *http.Client

	tokenSecret   []byte
	tokenIssuer   string
	tokenAudience string
	tokenTTL      time.Duration
}

// New builds a Transport. Without WithHTTPClient, requests are sent over
// HTTP/2 cleartext (h2c) when the endpoint scheme is "h2c", and over
// hearthctl's hardened TLS transport otherwise.
func New(opts ...Option) *Transport {
	t := &Transport{client: defaultClient()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func defaultClient() *http.Client {
	tlsTransport := tlsutil.SecureTransport()
	if _, err := http2.ConfigureTransports(tlsTransport); err != nil {
		// ConfigureTransports only fails on a misconfigured *http.Transport;
		// fall back to HTTP/1.1 over the same hardened TLS settings.
		_ = err
	}

	h2cTransport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}

	return &http.Client{
		Transport: &schemeRouter{tls: tlsTransport, h2c: h2cTransport},
	}
}

// schemeRouter picks the h2c transport for "h2c://" endpoints and the
// hardened TLS transport for everything else, so a single *http.Client can
// serve both local cleartext agents and TLS-terminated remote ones.
type schemeRouter struct {
	tls http.RoundTripper
	h2c http.RoundTripper
}

func (r *schemeRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "h2c" {
		req = req.Clone(req.Context())
		req.URL.Scheme = "http"
		return r.h2c.RoundTrip(req)
	}
	return r.tls.RoundTrip(req)
}

// Send implements afcp.Transport.
func (t *Transport) Send(ctx context.Context, endpoint, capability string, payload []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/afcp/v1/dispatch/%s", endpoint, capability)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, afcp.NewTransportError(afcp.TransportProtocol, "build request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	if len(t.tokenSecret) > 0 {
		token, err := t.signToken()
		if err != nil {
			return nil, afcp.NewTransportError(afcp.TransportProtocol, "sign agent token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &afcp.TransportError{Kind: afcp.TransportTimeout, Message: "request deadline exceeded", Cause: ctx.Err()}
		}
		return nil, &afcp.TransportError{Kind: afcp.TransportRefused, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &afcp.TransportError{Kind: afcp.TransportProtocol, Message: "read response body", Cause: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &afcp.TransportError{Kind: afcp.TransportRefused, Message: fmt.Sprintf("agent returned %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &afcp.TransportError{Kind: afcp.TransportProtocol, Message: fmt.Sprintf("agent rejected dispatch with %d", resp.StatusCode)}
	}

	return body, nil
}

func (t *Transport) signToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(t.tokenTTL).Unix(),
	}
	if t.tokenIssuer != "" {
		claims["iss"] = t.tokenIssuer
	}
	if t.tokenAudience != "" {
		claims["aud"] = t.tokenAudience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.tokenSecret)
}
