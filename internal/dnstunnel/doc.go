// Package dnstunnel carries DNS queries from a datagram session to an
// upstream DNS-over-HTTPS resolver.
//
// Both directions use the same framing: a repeating 2-byte big-endian length
// followed by that many bytes of DNS message. Each query becomes one POST to
// the resolver; answers are framed and written back in completion order.
package dnstunnel
