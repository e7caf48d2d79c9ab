// Package socks5 implements the client half of a SOCKS5 CONNECT handshake
// toward an upstream gateway.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5. The
// method negotiation always offers both no-auth and username/password, and
// the CONNECT request always carries the target as a domain name so the
// gateway does the resolution.
package socks5
