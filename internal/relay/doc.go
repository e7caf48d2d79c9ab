// Package relay moves bytes between an outbound connection and the client
// channel.
//
// Outbound reads are delivered one channel message per read, in read order,
// through a channel.ResponseWriter that prefixes the very first message with
// the session's response header. A FlowController paces sustained heavy
// transfers.
package relay
