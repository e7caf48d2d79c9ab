// Package dialer provides the outbound dialing strategies used by tunnel
// sessions.
//
// A Plan is an ordered list of strategies: a direct dial, a SOCKS5 CONNECT
// through a configured gateway, or a dial to a static fallback relay. A Chain
// tries each strategy of its Plan in order until one connects. Targets in
// link-local ranges or on the deny list are refused before any strategy runs.
package dialer
