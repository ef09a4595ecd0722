// Package wire places edge data and capability announcements on the wire.
//
// Ownership boundary:
// - data frames: metadata header blob plus each raw buffer as TLV fields
// - capability frames: one textual descriptor
// - Receive: read one frame and deliver it as an event
//
// The metadata header is the blob produced by edgedata.SerializeMetadata;
// raw buffers travel beside it, never inside it.
package wire
