// Package session carries edge data frames over a stream connection.
//
// A Conn reports its lifecycle through the event callback: a
// ConnectionCompleted event once the peer is attached, NewDataReceived and
// Capability events for every inbound frame, and a single ConnectionClosed
// event when the stream ends.
package session
