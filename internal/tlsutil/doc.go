// Package tlsutil provides a single hardened TLS configuration (TLS 1.2+,
// AEAD-only cipher suites) used by the reference HTTP transport's TLS path.
package tlsutil
