// Package block owns the curve-stream block framing protocol.
//
// Ownership boundary:
// - byte-level grammar of one frame (marker, length fields, payload, terminator)
// - stateful reassembly of frames split arbitrarily across read chunks
// - encode helper for simulators and tests
//
// It does not own sample accumulation or checkpointing; decoded payload
// bytes are handed to a Sink one at a time, in wire order.
package block
